package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"qr-attendance/backend/internal/analytics"
	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/internal/repository"
)

// ── 导出模块业务错误 ──

var (
	ErrExportNoSessions   = errors.New("该课程暂无签到场次")
	ErrExportGenerateFail = errors.New("生成导出文件失败")
)

// ExportService 导出业务接口
//
// 设计说明：
//   - 签到记录导出为 Excel (.xlsx)：明细一个 Sheet，按学生汇总一个 Sheet
//   - 签到场次台账导出为 iCalendar (.ics)，每个场次一个 VEVENT
//   - 导出以 bytes.Buffer 返回，由 Handler 层设置 HTTP 响应头后写入 Response
type ExportService interface {
	// ExportAttendance 导出课程签到记录为 Excel
	ExportAttendance(ctx context.Context, caller Caller, courseID string) (*bytes.Buffer, string, error)
	// ExportSessions 导出课程签到场次为 iCalendar
	ExportSessions(ctx context.Context, caller Caller, courseID string) (*bytes.Buffer, string, error)
}

type exportService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewExportService 创建 ExportService 实例
func NewExportService(repo *repository.Repository, logger *zap.Logger) ExportService {
	return &exportService{repo: repo, logger: logger}
}

var statusNames = map[string]string{
	model.AttendancePresent: "出勤",
	model.AttendanceLate:    "迟到",
	model.AttendanceExcused: "请假",
	model.AttendanceAbsent:  "缺勤",
}

// ═══════════════════════════════════════════════════════════
// ExportAttendance — 导出签到记录为 Excel
// ═══════════════════════════════════════════════════════════
//
// 输出格式：
//   - Sheet "签到明细"：学号 / 姓名 / 场次签发时间 / 签到时间 / 状态 / 备注
//   - Sheet "出勤汇总"：学号 / 姓名 / 应到 / 出勤 / 迟到 / 请假 / 缺勤 / 出勤率
//
// 返回值：buf（Excel 内容）, filename（建议文件名）, error

func (s *exportService) ExportAttendance(ctx context.Context, caller Caller, courseID string) (*bytes.Buffer, string, error) {
	// 1. 课程与权限
	course, err := s.repo.Course.GetByID(ctx, courseID)
	if err != nil {
		return nil, "", notFoundAs(err, ErrCourseNotFound)
	}
	if err := authorizeCourse(caller, course); err != nil {
		return nil, "", err
	}

	// 2. 场次台账与签到记录
	sessions, err := s.repo.Session.ListByCourse(ctx, courseID)
	if err != nil {
		s.logger.Error("查询签到场次失败", zap.Error(err))
		return nil, "", err
	}
	records, err := s.repo.Attendance.List(ctx, repository.AttendanceFilter{CourseID: courseID})
	if err != nil {
		s.logger.Error("查询签到记录失败", zap.Error(err))
		return nil, "", err
	}

	ledger := newClassLedger(sessions)
	issuedAt := make(map[string]time.Time, len(sessions))
	for i := range sessions {
		issuedAt[sessions[i].ID] = sessions[i].IssuedAt
	}

	// 3. 学生信息
	students := make(map[string]*model.Student, len(course.Students))
	for _, id := range course.Students {
		st, err := s.repo.Student.GetByID(ctx, id)
		if err != nil {
			continue
		}
		students[id] = st
	}

	// 4. 生成 Excel
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	// 明细
	detail := "签到明细"
	idx, _ := f.NewSheet(detail)
	f.SetActiveSheet(idx)
	// 删除默认 Sheet1
	f.DeleteSheet("Sheet1")

	writeHeader(f, detail, headerStyle, []string{"学号", "姓名", "场次签发时间", "签到时间", "状态", "备注"})
	f.SetColWidth(detail, "A", "B", 14)
	f.SetColWidth(detail, "C", "D", 22)
	f.SetColWidth(detail, "F", "F", 30)

	row := 2
	for _, r := range records {
		studentNo := ""
		if st, ok := students[r.StudentID]; ok {
			studentNo = st.StudentID
		}
		f.SetCellValue(detail, cell("A", row), studentNo)
		f.SetCellValue(detail, cell("B", row), r.StudentName)
		if t, ok := issuedAt[r.SessionID]; ok {
			f.SetCellValue(detail, cell("C", row), t.Format("2006-01-02 15:04"))
		}
		f.SetCellValue(detail, cell("D", row), r.Timestamp.Format("2006-01-02 15:04:05"))
		f.SetCellValue(detail, cell("E", row), statusName(r.Status))
		f.SetCellValue(detail, cell("F", row), r.Comment)
		row++
	}

	// 汇总
	summary := "出勤汇总"
	f.NewSheet(summary)
	writeHeader(f, summary, headerStyle, []string{"学号", "姓名", "应到", "出勤", "迟到", "请假", "缺勤", "出勤率(%)"})
	f.SetColWidth(summary, "A", "B", 14)

	normalized := ledger.normalize(records)
	row = 2
	for _, id := range course.Students {
		st, ok := students[id]
		if !ok {
			continue
		}
		t := analytics.StudentTally(normalized, id, courseID, ledger.count)
		values := []interface{}{st.StudentID, st.Name, t.ClassCount, t.Present, t.Late, t.Excused, t.Absent, t.Rate}
		for i, v := range values {
			f.SetCellValue(summary, cell(colName(i), row), v)
		}
		row++
	}

	// 5. 写入 buffer
	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("签到记录_%s.xlsx", course.Code)
	return buf, filename, nil
}

// ═══════════════════════════════════════════════════════════
// ExportSessions — 导出签到场次为 iCalendar
// ═══════════════════════════════════════════════════════════

func (s *exportService) ExportSessions(ctx context.Context, caller Caller, courseID string) (*bytes.Buffer, string, error) {
	course, err := s.repo.Course.GetByID(ctx, courseID)
	if err != nil {
		return nil, "", notFoundAs(err, ErrCourseNotFound)
	}
	if err := authorizeCourse(caller, course); err != nil {
		return nil, "", err
	}

	sessions, err := s.repo.Session.ListByCourse(ctx, courseID)
	if err != nil {
		s.logger.Error("查询签到场次失败", zap.Error(err))
		return nil, "", err
	}
	if len(sessions) == 0 {
		return nil, "", ErrExportNoSessions
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//qr-attendance//sessions//CN")
	cal.SetXWRCalName(fmt.Sprintf("%s %s 签到场次", course.Code, course.Name))

	for _, sess := range sessions {
		end := sess.ExpiresAt
		if sess.ClosedAt != nil && sess.ClosedAt.Before(end) {
			end = *sess.ClosedAt
		}

		ev := cal.AddEvent(sess.ID + "@qr-attendance")
		ev.SetDtStampTime(sess.IssuedAt)
		ev.SetStartAt(sess.IssuedAt)
		ev.SetEndAt(end)
		ev.SetSummary(fmt.Sprintf("%s 签到", course.Name))
		ev.SetDescription(fmt.Sprintf("课程代码: %s\n时长: %d 分钟\n场次: %s", course.Code, sess.DurationMinutes, sess.ID))
	}

	buf := bytes.NewBufferString(cal.Serialize())
	filename := fmt.Sprintf("签到场次_%s.ics", course.Code)
	return buf, filename, nil
}

// ── 辅助函数 ──

func writeHeader(f *excelize.File, sheet string, style int, titles []string) {
	for i, title := range titles {
		f.SetCellValue(sheet, cell(colName(i), 1), title)
	}
	first, _ := excelize.CoordinatesToCellName(1, 1)
	last, _ := excelize.CoordinatesToCellName(len(titles), 1)
	f.SetCellStyle(sheet, first, last, style)
}

func statusName(status string) string {
	if name, ok := statusNames[status]; ok {
		return name
	}
	return status
}

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
