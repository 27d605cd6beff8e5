package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/internal/qrsession"
	"qr-attendance/backend/internal/scanner"
	"qr-attendance/backend/pkg/docstore"
	pkgerrors "qr-attendance/backend/pkg/errors"
)

// classroom 一门课程、一位负责教师、一名已选课学生
type classroom struct {
	env       *testEnv
	course    *model.Course
	professor *model.Professor
	student   *model.Student
}

func newClassroom(t *testing.T) *classroom {
	t.Helper()
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createCourse(t, "数据结构", "CS201")
	p := env.createProfessor(t, "王老师", "wang@uni.edu")
	s := env.createStudent(t, "李同学", "li@uni.edu", "2024001")
	mustNoErr(t, env.svc.Course.AssignProfessor(ctx, c.ID, p.ID))
	mustNoErr(t, env.svc.Course.AssignStudent(ctx, c.ID, s.ID))
	return &classroom{env: env, course: c, professor: p, student: s}
}

func (c *classroom) open(t *testing.T, duration string) *qrsession.Snapshot {
	t.Helper()
	snap, err := c.env.svc.QRSession.Open(context.Background(), asProfessor(c.professor), c.course.ID, duration)
	if err != nil {
		t.Fatalf("Open 应成功: %v", err)
	}
	return snap
}

func (c *classroom) setAttendanceClock(now time.Time) {
	c.env.svc.Attendance.(*attendanceService).now = func() time.Time { return now }
}

// ── QR 会话 ──

func TestQRSessionService_Open(t *testing.T) {
	c := newClassroom(t)
	snap := c.open(t, "")

	if snap.State != qrsession.StateActive || snap.Remaining != 15*60 || snap.DurationMinutes != 15 {
		t.Errorf("默认时长应为 15 分钟，实际 %+v", snap)
	}

	ledger, err := c.env.repo.Session.GetByID(context.Background(), snap.SessionID)
	if err != nil {
		t.Fatalf("台账应已写入: %v", err)
	}
	if ledger.SeriesID != snap.SessionID || ledger.CourseID != c.course.ID {
		t.Errorf("台账内容不正确: %+v", ledger)
	}
	if d := ledger.ExpiresAt.Sub(ledger.IssuedAt); d != 15*time.Minute {
		t.Errorf("台账有效期期望 15 分钟，实际 %v", d)
	}
}

func TestQRSessionService_Open_InvalidDuration(t *testing.T) {
	c := newClassroom(t)
	for _, input := range []string{"0", "181", "abc", "-5"} {
		_, err := c.env.svc.QRSession.Open(context.Background(), asProfessor(c.professor), c.course.ID, input)
		if !pkgerrors.IsValidation(err) {
			t.Errorf("时长 %q 期望 ValidationError，实际 %v", input, err)
		}
	}
	if c.env.manager.ActiveCount() != 0 {
		t.Error("校验失败不应创建会话")
	}
}

func TestQRSessionService_Open_NotOwner(t *testing.T) {
	c := newClassroom(t)
	other := c.env.createProfessor(t, "赵老师", "zhao@uni.edu")

	_, err := c.env.svc.QRSession.Open(context.Background(), asProfessor(other), c.course.ID, "10")
	if !errors.Is(err, ErrNotCourseOwner) {
		t.Errorf("期望 ErrNotCourseOwner，实际 %v", err)
	}
}

func TestQRSessionService_ChangeDuration(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()
	caller := asProfessor(c.professor)
	snap := c.open(t, "10")

	if _, err := c.env.svc.QRSession.ChangeDuration(ctx, caller, snap.SessionID, "abc"); !pkgerrors.IsValidation(err) {
		t.Errorf("非数字时长期望 ValidationError，实际 %v", err)
	}
	cur, _ := c.env.svc.QRSession.Get(ctx, caller, snap.SessionID)
	if cur.Remaining != 600 {
		t.Errorf("校验失败后剩余时间应不变，实际 %d", cur.Remaining)
	}

	next, err := c.env.svc.QRSession.ChangeDuration(ctx, caller, snap.SessionID, "30")
	if err != nil {
		t.Fatalf("ChangeDuration 应成功: %v", err)
	}
	if next.SessionID != snap.SessionID || next.Remaining != 1800 {
		t.Errorf("修改时长应保持会话 ID 并重置剩余时间，实际 %+v", next)
	}

	ledger, _ := c.env.repo.Session.GetByID(ctx, snap.SessionID)
	if ledger.DurationMinutes != 30 {
		t.Errorf("台账时长期望 30，实际 %d", ledger.DurationMinutes)
	}
}

func TestQRSessionService_RegenerateOnlyWhenExpired(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()
	caller := asProfessor(c.professor)
	snap := c.open(t, "1")

	if _, err := c.env.svc.QRSession.Regenerate(ctx, caller, snap.SessionID); !errors.Is(err, ErrQRSessionActive) {
		t.Errorf("有效期内重新生成期望 ErrQRSessionActive，实际 %v", err)
	}

	c.env.manager.TickBy(time.Minute)
	if _, err := c.env.svc.QRSession.ChangeDuration(ctx, caller, snap.SessionID, "5"); !errors.Is(err, ErrQRSessionExpired) {
		t.Errorf("过期后修改时长期望 ErrQRSessionExpired，实际 %v", err)
	}

	next, err := c.env.svc.QRSession.Regenerate(ctx, caller, snap.SessionID)
	if err != nil {
		t.Fatalf("Regenerate 应成功: %v", err)
	}
	if next.SessionID == snap.SessionID || next.State != qrsession.StateActive || next.Remaining != 60 {
		t.Errorf("重新生成应得到新 ID 并按原时长计时，实际 %+v", next)
	}

	ledger, err := c.env.repo.Session.GetByID(ctx, next.SessionID)
	if err != nil {
		t.Fatalf("新场次应写入台账: %v", err)
	}
	if ledger.SeriesID != snap.SessionID {
		t.Errorf("新场次应与原场次同属一节课，实际 series=%s", ledger.SeriesID)
	}
}

func TestQRSessionService_Regenerate_ClosedMidwayVoidsNewSession(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()
	caller := asProfessor(c.professor)
	snap := c.open(t, "1")
	c.env.manager.TickBy(time.Minute)

	var issued string
	c.env.store.afterSet = func(ref docstore.Ref) {
		if ref.Collection == model.CollectionSessions && ref.ID != snap.SessionID && issued == "" {
			issued = ref.ID
			mustNoErr(t, c.env.svc.QRSession.Close(ctx, caller, snap.SessionID))
		}
	}
	_, err := c.env.svc.QRSession.Regenerate(ctx, caller, snap.SessionID)
	c.env.store.afterSet = nil

	if !errors.Is(err, ErrQRSessionNotFound) {
		t.Fatalf("原会话已关闭，期望 ErrQRSessionNotFound，实际 %v", err)
	}
	if issued == "" {
		t.Fatal("新场次应已写入台账")
	}
	ledger, err := c.env.repo.Session.GetByID(ctx, issued)
	if err != nil {
		t.Fatalf("读取新场次失败: %v", err)
	}
	if ledger.ClosedAt == nil {
		t.Error("未能接管的新场次应标记为已关闭")
	}
}

func TestQRSessionService_QRCodePNG_Decodes(t *testing.T) {
	c := newClassroom(t)
	snap := c.open(t, "")

	data, err := c.env.svc.QRSession.QRCodePNG(context.Background(), asProfessor(c.professor), snap.SessionID)
	if err != nil {
		t.Fatalf("QRCodePNG 应成功: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("PNG 解码失败: %v", err)
	}
	text, err := scanner.Decode(img)
	if err != nil {
		t.Fatalf("二维码识别失败: %v", err)
	}
	if text != snap.Payload {
		t.Errorf("二维码内容期望 %s，实际 %s", snap.Payload, text)
	}
}

// ── 提交签到 ──

func TestAttendanceService_Submit_Success(t *testing.T) {
	c := newClassroom(t)
	snap := c.open(t, "")

	rec, err := c.env.svc.Attendance.Submit(context.Background(), asStudent(c.student), snap.Payload, " 坐第一排 ")
	if err != nil {
		t.Fatalf("Submit 应成功: %v", err)
	}
	if rec.Status != model.AttendancePresent || rec.StudentName != "李同学" || rec.Comment != "坐第一排" {
		t.Errorf("签到记录不正确: %+v", rec)
	}
	if rec.CourseID != c.course.ID || rec.SessionID != snap.SessionID {
		t.Errorf("记录应关联课程与场次: %+v", rec)
	}
}

func TestAttendanceService_Submit_ForeignHostNeverTouchesStore(t *testing.T) {
	c := newClassroom(t)
	before := c.env.store.calls.Load()

	payload := "https://evil.example.com/?courseId=" + c.course.ID + "&sessionId=x&timestamp=2024-01-01T00:00:00Z"
	_, err := c.env.svc.Attendance.Submit(context.Background(), asStudent(c.student), payload, "")
	if !errors.Is(err, pkgerrors.ErrInvalidQRFormat) {
		t.Errorf("期望 ErrInvalidQRFormat，实际 %v", err)
	}
	if after := c.env.store.calls.Load(); after != before {
		t.Errorf("非法二维码不应访问存储，调用次数 %d → %d", before, after)
	}
}

func TestAttendanceService_Submit_MissingParams(t *testing.T) {
	c := newClassroom(t)
	_, err := c.env.svc.Attendance.Submit(context.Background(), asStudent(c.student), testQRBase+"?courseId="+c.course.ID, "")
	if !errors.Is(err, pkgerrors.ErrInvalidQRData) {
		t.Errorf("期望 ErrInvalidQRData，实际 %v", err)
	}
}

func TestAttendanceService_Submit_Duplicate(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()
	snap := c.open(t, "")

	if _, err := c.env.svc.Attendance.Submit(ctx, asStudent(c.student), snap.Payload, ""); err != nil {
		t.Fatalf("首次 Submit 应成功: %v", err)
	}
	if _, err := c.env.svc.Attendance.Submit(ctx, asStudent(c.student), snap.Payload, ""); !errors.Is(err, ErrDuplicateScan) {
		t.Errorf("重复签到期望 ErrDuplicateScan，实际 %v", err)
	}

	records, _ := c.env.repo.Attendance.List(ctx, c.attendanceFilter())
	if len(records) != 1 {
		t.Errorf("重复签到不应追加记录，实际 %d 条", len(records))
	}
}

func TestAttendanceService_Submit_DuplicateAcrossRegenerate(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()
	first := c.open(t, "1")

	if _, err := c.env.svc.Attendance.Submit(ctx, asStudent(c.student), first.Payload, ""); err != nil {
		t.Fatalf("Submit 应成功: %v", err)
	}

	c.env.manager.TickBy(time.Minute)
	next, err := c.env.svc.QRSession.Regenerate(ctx, asProfessor(c.professor), first.SessionID)
	if err != nil {
		t.Fatalf("Regenerate 应成功: %v", err)
	}
	if _, err := c.env.svc.Attendance.Submit(ctx, asStudent(c.student), next.Payload, ""); !errors.Is(err, ErrDuplicateScan) {
		t.Errorf("同一节课重新生成后再次签到期望 ErrDuplicateScan，实际 %v", err)
	}
}

func TestAttendanceService_Submit_ExpiredByLedger(t *testing.T) {
	c := newClassroom(t)
	snap := c.open(t, "5")

	c.setAttendanceClock(snap.IssuedAt.Add(5*time.Minute + time.Second))
	_, err := c.env.svc.Attendance.Submit(context.Background(), asStudent(c.student), snap.Payload, "")
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("超过有效期期望 ErrSessionExpired，实际 %v", err)
	}
}

func TestAttendanceService_Submit_ClosedSession(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()
	snap := c.open(t, "")

	if err := c.env.svc.QRSession.Close(ctx, asProfessor(c.professor), snap.SessionID); err != nil {
		t.Fatalf("Close 应成功: %v", err)
	}
	if _, err := c.env.svc.Attendance.Submit(ctx, asStudent(c.student), snap.Payload, ""); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("已关闭场次期望 ErrSessionExpired，实际 %v", err)
	}
}

func TestAttendanceService_Submit_UnknownSessionAndMismatch(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()
	snap := c.open(t, "")
	other := c.env.createCourse(t, "另一门课", "X1")

	unknown := qrsession.BuildPayloadURL(testQRBase, c.course.ID, "no-such-session", time.Now())
	if _, err := c.env.svc.Attendance.Submit(ctx, asStudent(c.student), unknown, ""); !errors.Is(err, ErrSessionUnknown) {
		t.Errorf("未知场次期望 ErrSessionUnknown，实际 %v", err)
	}

	mismatch := qrsession.BuildPayloadURL(testQRBase, other.ID, snap.SessionID, snap.IssuedAt)
	if _, err := c.env.svc.Attendance.Submit(ctx, asStudent(c.student), mismatch, ""); !errors.Is(err, ErrSessionMismatch) {
		t.Errorf("课程不匹配期望 ErrSessionMismatch，实际 %v", err)
	}
}

func TestAttendanceService_Submit_NotEnrolled(t *testing.T) {
	c := newClassroom(t)
	snap := c.open(t, "")
	outsider := c.env.createStudent(t, "旁听生", "x@uni.edu", "9999")

	_, err := c.env.svc.Attendance.Submit(context.Background(), asStudent(outsider), snap.Payload, "")
	if !errors.Is(err, ErrNotEnrolled) {
		t.Errorf("期望 ErrNotEnrolled，实际 %v", err)
	}
}

func TestAttendanceService_SubmitImage(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()
	snap := c.open(t, "")

	data, err := c.env.svc.QRSession.QRCodePNG(ctx, asProfessor(c.professor), snap.SessionID)
	if err != nil {
		t.Fatalf("QRCodePNG 应成功: %v", err)
	}
	rec, err := c.env.svc.Attendance.SubmitImage(ctx, asStudent(c.student), data, "")
	if err != nil {
		t.Fatalf("SubmitImage 应成功: %v", err)
	}
	if rec.SessionID != snap.SessionID {
		t.Errorf("记录场次期望 %s，实际 %s", snap.SessionID, rec.SessionID)
	}

	if _, err := c.env.svc.Attendance.SubmitImage(ctx, asStudent(c.student), []byte("not an image"), ""); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("非图片期望 ErrInvalidImage，实际 %v", err)
	}
}

func TestAttendanceService_SubmitImage_OversizedRejected(t *testing.T) {
	c := newClassroom(t)
	c.env.cfg.QR.MaxScanImageSide = 512

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2000, 2000))); err != nil {
		t.Fatalf("编码 PNG 失败: %v", err)
	}
	_, err := c.env.svc.Attendance.SubmitImage(context.Background(), asStudent(c.student), buf.Bytes(), "")
	if !errors.Is(err, ErrInvalidImage) || !errors.Is(err, scanner.ErrImageTooLarge) {
		t.Errorf("超大图片期望 ErrInvalidImage，实际 %v", err)
	}
}

// ── 修改状态 ──

func TestAttendanceService_UpdateStatus(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()
	snap := c.open(t, "")
	rec, err := c.env.svc.Attendance.Submit(ctx, asStudent(c.student), snap.Payload, "备注")
	if err != nil {
		t.Fatalf("Submit 应成功: %v", err)
	}

	if _, err := c.env.svc.Attendance.UpdateStatus(ctx, asProfessor(c.professor), rec.ID, "unknown"); !pkgerrors.IsValidation(err) {
		t.Errorf("非法状态期望 ValidationError，实际 %v", err)
	}

	other := c.env.createProfessor(t, "赵老师", "zhao@uni.edu")
	if _, err := c.env.svc.Attendance.UpdateStatus(ctx, asProfessor(other), rec.ID, model.AttendanceLate); !errors.Is(err, ErrNotCourseOwner) {
		t.Errorf("非负责教师期望 ErrNotCourseOwner，实际 %v", err)
	}

	updated, err := c.env.svc.Attendance.UpdateStatus(ctx, asProfessor(c.professor), rec.ID, model.AttendanceLate)
	if err != nil {
		t.Fatalf("UpdateStatus 应成功: %v", err)
	}
	if updated.Status != model.AttendanceLate || updated.Comment != "备注" || !updated.Timestamp.Equal(rec.Timestamp) {
		t.Errorf("只应修改状态字段，实际 %+v", updated)
	}

	if _, err := c.env.svc.Attendance.UpdateStatus(ctx, asStudent(c.student), rec.ID, model.AttendancePresent); !errors.Is(err, ErrForbidden) {
		t.Errorf("学生修改状态期望 ErrForbidden，实际 %v", err)
	}
}

func TestAttendanceService_ListByStudent_SelfOnly(t *testing.T) {
	c := newClassroom(t)
	other := c.env.createStudent(t, "乙", "b@uni.edu", "2")

	if _, err := c.env.svc.Attendance.ListByStudent(context.Background(), asStudent(other), c.student.ID, ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("查看他人记录期望 ErrForbidden，实际 %v", err)
	}
	if _, err := c.env.svc.Attendance.ListByStudent(context.Background(), adminCaller, c.student.ID, ""); err != nil {
		t.Errorf("管理员查看应成功: %v", err)
	}
}

// ── 统计 ──

func TestAnalyticsService_ClassCountFromLedger(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()

	// 三节课，学生只签到第一节
	first := c.open(t, "")
	if _, err := c.env.svc.Attendance.Submit(ctx, asStudent(c.student), first.Payload, ""); err != nil {
		t.Fatalf("Submit 应成功: %v", err)
	}
	c.open(t, "")
	c.open(t, "")

	summary, err := c.env.svc.Analytics.StudentSummary(ctx, asStudent(c.student), c.student.ID)
	if err != nil {
		t.Fatalf("StudentSummary 应成功: %v", err)
	}
	if len(summary.Summaries) != 1 {
		t.Fatalf("期望 1 门课程汇总，实际 %d", len(summary.Summaries))
	}
	tally := summary.Summaries[0].Tally
	if tally.ClassCount != 3 || tally.Present != 1 || tally.Absent != 2 {
		t.Errorf("期望 应到 3 / 出勤 1 / 缺勤 2，实际 %+v", tally)
	}

	students, err := c.env.svc.Analytics.CourseStudents(ctx, asProfessor(c.professor), c.course.ID)
	if err != nil {
		t.Fatalf("CourseStudents 应成功: %v", err)
	}
	if len(students) != 1 || students[0].AttendanceCount != 1 || students[0].LastAttendance == nil {
		t.Errorf("课程学生出勤信息不正确: %+v", students)
	}

	overview, err := c.env.svc.Analytics.ProfessorOverview(ctx, asProfessor(c.professor))
	if err != nil {
		t.Fatalf("ProfessorOverview 应成功: %v", err)
	}
	if overview.TotalCourses != 1 || overview.TotalSessions != 3 || overview.Attended != 1 || overview.Absent != 2 {
		t.Errorf("教师总览不正确: %+v", overview)
	}
}
