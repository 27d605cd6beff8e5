package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"qr-attendance/backend/internal/analytics"
	"qr-attendance/backend/internal/dto"
	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/internal/repository"
	"qr-attendance/backend/pkg/docstore"
)

// AnalyticsService 出勤统计业务接口
// 应到次数取自 sessions 台账；重新生成的二维码与原场次算同一课次
type AnalyticsService interface {
	// StudentSummary 学生的签到记录及每门已选课程的汇总
	StudentSummary(ctx context.Context, caller Caller, studentID string) (*dto.StudentAttendanceResponse, error)
	// CourseSummary 课程整体统计
	CourseSummary(ctx context.Context, caller Caller, courseID string) (*dto.CourseAnalyticsResponse, error)
	// CourseStudents 课程学生列表，附签到次数与最近签到时间
	CourseStudents(ctx context.Context, caller Caller, courseID string) ([]dto.CourseStudentResponse, error)
	// ProfessorOverview 教师名下全部课程的汇总
	ProfessorOverview(ctx context.Context, caller Caller) (*dto.ProfessorOverviewResponse, error)
}

type analyticsService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewAnalyticsService 创建 AnalyticsService 实例
func NewAnalyticsService(repo *repository.Repository, logger *zap.Logger) AnalyticsService {
	return &analyticsService{repo: repo, logger: logger}
}

// ────────────────────── StudentSummary ──────────────────────

func (s *analyticsService) StudentSummary(ctx context.Context, caller Caller, studentID string) (*dto.StudentAttendanceResponse, error) {
	if !caller.IsAdmin() && !(caller.Role == model.RoleStudent && caller.ID == studentID) {
		return nil, ErrForbidden
	}

	student, err := s.repo.Student.GetByID(ctx, studentID)
	if err != nil {
		return nil, s.readFailure(err, ErrStudentNotFound)
	}

	records, err := s.repo.Attendance.List(ctx, repository.AttendanceFilter{StudentID: studentID})
	if err != nil {
		s.logger.Error("查询学生签到记录失败", zap.String("student_id", studentID), zap.Error(err))
		return nil, err
	}

	resp := &dto.StudentAttendanceResponse{
		Records:   records,
		Summaries: make([]dto.CourseAttendanceSummary, 0, len(student.Courses)),
	}
	for _, courseID := range student.Courses {
		course, err := s.repo.Course.GetByID(ctx, courseID)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error("查询课程失败", zap.String("course_id", courseID), zap.Error(err))
			return nil, err
		}

		classes, err := s.classes(ctx, courseID)
		if err != nil {
			return nil, err
		}
		resp.Summaries = append(resp.Summaries, dto.CourseAttendanceSummary{
			CourseID:   course.ID,
			CourseName: course.Name,
			CourseCode: course.Code,
			Tally:      analytics.StudentTally(classes.normalize(records), studentID, courseID, classes.count),
		})
	}
	return resp, nil
}

// ────────────────────── CourseSummary ──────────────────────

func (s *analyticsService) CourseSummary(ctx context.Context, caller Caller, courseID string) (*dto.CourseAnalyticsResponse, error) {
	course, err := s.authorized(ctx, caller, courseID)
	if err != nil {
		return nil, err
	}
	return s.courseSummary(ctx, course)
}

func (s *analyticsService) courseSummary(ctx context.Context, course *model.Course) (*dto.CourseAnalyticsResponse, error) {
	classes, err := s.classes(ctx, course.ID)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.Attendance.List(ctx, repository.AttendanceFilter{CourseID: course.ID})
	if err != nil {
		s.logger.Error("查询课程签到记录失败", zap.String("course_id", course.ID), zap.Error(err))
		return nil, err
	}

	return &dto.CourseAnalyticsResponse{
		CourseID:   course.ID,
		CourseName: course.Name,
		CourseCode: course.Code,
		Summary:    analytics.CourseSummary(classes.normalize(records), course, classes.count),
	}, nil
}

// ────────────────────── CourseStudents ──────────────────────

func (s *analyticsService) CourseStudents(ctx context.Context, caller Caller, courseID string) ([]dto.CourseStudentResponse, error) {
	course, err := s.authorized(ctx, caller, courseID)
	if err != nil {
		return nil, err
	}

	classes, err := s.classes(ctx, courseID)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.Attendance.List(ctx, repository.AttendanceFilter{CourseID: courseID})
	if err != nil {
		s.logger.Error("查询课程签到记录失败", zap.String("course_id", courseID), zap.Error(err))
		return nil, err
	}
	records = classes.normalize(records)

	out := make([]dto.CourseStudentResponse, 0, len(course.Students))
	for _, studentID := range course.Students {
		st, err := s.repo.Student.GetByID(ctx, studentID)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error("查询学生失败", zap.String("student_id", studentID), zap.Error(err))
			return nil, err
		}
		tally := analytics.StudentTally(records, studentID, courseID, classes.count)
		out = append(out, dto.CourseStudentResponse{
			Student:         *st,
			AttendanceCount: tally.Present + tally.Late,
			LastAttendance:  tally.LastAttendance,
		})
	}
	return out, nil
}

// ────────────────────── ProfessorOverview ──────────────────────

func (s *analyticsService) ProfessorOverview(ctx context.Context, caller Caller) (*dto.ProfessorOverviewResponse, error) {
	if caller.Role != model.RoleProfessor {
		return nil, ErrForbidden
	}

	courses, err := s.repo.Course.ListByProfessor(ctx, caller.ID)
	if err != nil {
		s.logger.Error("查询教师课程失败", zap.String("professor_id", caller.ID), zap.Error(err))
		return nil, err
	}

	resp := &dto.ProfessorOverviewResponse{
		TotalCourses: len(courses),
		Courses:      make([]dto.CourseAnalyticsResponse, 0, len(courses)),
	}
	expected := 0
	for i := range courses {
		summary, err := s.courseSummary(ctx, &courses[i])
		if err != nil {
			return nil, err
		}
		resp.Courses = append(resp.Courses, *summary)
		resp.TotalStudents += summary.Summary.Enrolled
		resp.TotalSessions += summary.Summary.SessionsHeld
		resp.Attended += summary.Summary.Attended
		resp.Absent += summary.Summary.Absent
		expected += summary.Summary.Expected
	}
	if expected > 0 {
		resp.Rate = float64(int(float64(resp.Attended)/float64(expected)*1000+0.5)) / 10
	}
	return resp, nil
}

// ── 课次 ──

// classLedger 课程的课次信息：课次数与场次到课次的映射
type classLedger struct {
	count    int
	seriesOf map[string]string
}

// normalize 将记录的 SessionID 替换为课次标识，使重新生成前后的签到按同一课次去重
func (l *classLedger) normalize(records []model.AttendanceRecord) []model.AttendanceRecord {
	out := make([]model.AttendanceRecord, len(records))
	for i, r := range records {
		if series, ok := l.seriesOf[r.SessionID]; ok {
			r.SessionID = series
		}
		out[i] = r
	}
	return out
}

func (s *analyticsService) classes(ctx context.Context, courseID string) (*classLedger, error) {
	sessions, err := s.repo.Session.ListByCourse(ctx, courseID)
	if err != nil {
		s.logger.Error("查询签到场次失败", zap.String("course_id", courseID), zap.Error(err))
		return nil, err
	}
	return newClassLedger(sessions), nil
}

func newClassLedger(sessions []model.CourseSession) *classLedger {
	l := &classLedger{seriesOf: make(map[string]string, len(sessions))}
	seen := make(map[string]bool, len(sessions))
	for i := range sessions {
		key := sessions[i].ClassKey()
		l.seriesOf[sessions[i].ID] = key
		if !seen[key] {
			seen[key] = true
			l.count++
		}
	}
	return l
}

func (s *analyticsService) authorized(ctx context.Context, caller Caller, courseID string) (*model.Course, error) {
	course, err := s.repo.Course.GetByID(ctx, courseID)
	if err != nil {
		return nil, s.readFailure(err, ErrCourseNotFound)
	}
	if err := authorizeCourse(caller, course); err != nil {
		return nil, err
	}
	return course, nil
}

func (s *analyticsService) readFailure(err, notFound error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return notFound
	}
	s.logger.Error("读取文档失败", zap.Error(err))
	return err
}
