package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qr-attendance/backend/config"
	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/internal/repository"
	"qr-attendance/backend/internal/scanner"
	"qr-attendance/backend/pkg/docstore"
	pkgerrors "qr-attendance/backend/pkg/errors"
	"qr-attendance/backend/pkg/metrics"
)

// ── 签到模块业务错误 ──

var (
	ErrSessionUnknown     = errors.New("签到场次不存在")
	ErrSessionMismatch    = errors.New("二维码与课程不匹配")
	ErrSessionExpired     = errors.New("二维码已过期")
	ErrNotEnrolled        = errors.New("未选修该课程")
	ErrDuplicateScan      = errors.New("本节课已签到")
	ErrInvalidImage       = errors.New("无法读取上传的图片")
	ErrNoQRCode           = errors.New("图片中未识别到二维码")
	ErrInvalidStatusValue = pkgerrors.NewValidationError("status", "签到状态无效")
)

// attendanceNamespace 去重记录 ID 的命名空间：同一课次同一学生得到同一个 ID
var attendanceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("qr-attendance/attendance"))

// AttendanceService 签到业务接口
type AttendanceService interface {
	// Submit 学生提交扫码得到的二维码内容
	Submit(ctx context.Context, caller Caller, payload, comment string) (*model.AttendanceRecord, error)
	// SubmitImage 学生上传摄像头截图，识别后提交
	SubmitImage(ctx context.Context, caller Caller, image []byte, comment string) (*model.AttendanceRecord, error)
	// UpdateStatus 教师或管理员修改签到状态，只改 status 字段
	UpdateStatus(ctx context.Context, caller Caller, recordID, status string) (*model.AttendanceRecord, error)
	ListByCourse(ctx context.Context, caller Caller, courseID, sessionID string) ([]model.AttendanceRecord, error)
	ListByStudent(ctx context.Context, caller Caller, studentID, courseID string) ([]model.AttendanceRecord, error)
}

type attendanceService struct {
	cfg     *config.QRConfig
	repo    *repository.Repository
	scanner *scanner.Scanner
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewAttendanceService 创建 AttendanceService 实例
func NewAttendanceService(cfg *config.QRConfig, repo *repository.Repository, logger *zap.Logger, m *metrics.Metrics) AttendanceService {
	return &attendanceService{
		cfg:     cfg,
		repo:    repo,
		scanner: scanner.New(cfg.Host()),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// ────────────────────── Submit ──────────────────────

func (s *attendanceService) Submit(ctx context.Context, caller Caller, payload, comment string) (*model.AttendanceRecord, error) {
	// 先校验二维码来源，非本系统的二维码不触达存储
	p, err := scanner.ParsePayload(strings.TrimSpace(payload), s.cfg.Host())
	if err != nil {
		s.rejected(err)
		return nil, err
	}
	return s.submit(ctx, caller, p, comment)
}

func (s *attendanceService) SubmitImage(ctx context.Context, caller Caller, image []byte, comment string) (*model.AttendanceRecord, error) {
	src, err := scanner.NewUploadSource(image, s.cfg.MaxScanImageSide)
	if err != nil {
		s.metrics.ObserveScanRejection("image")
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}

	var lastReject error
	p, err := s.scanner.Run(ctx, src, func(err error) {
		lastReject = err
		s.rejected(err)
	})
	if err != nil {
		if errors.Is(err, scanner.ErrNoCode) {
			if lastReject != nil {
				return nil, lastReject
			}
			s.metrics.ObserveScanRejection("no_code")
			return nil, ErrNoQRCode
		}
		return nil, err
	}
	return s.submit(ctx, caller, p, comment)
}

// submit 在一个工作单元内完成场次、选课、重复校验并追加记录
func (s *attendanceService) submit(ctx context.Context, caller Caller, p *scanner.Payload, comment string) (*model.AttendanceRecord, error) {
	if caller.Role != model.RoleStudent {
		return nil, ErrForbidden
	}

	now := s.now().UTC()
	var rec *model.AttendanceRecord
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx *repository.Tx) error {
		// 1. 场次台账：存在、属于该课程、未关闭且未过期
		ledger, err := tx.GetSession(ctx, p.SessionID)
		if err != nil {
			return notFoundAs(err, ErrSessionUnknown)
		}
		if ledger.CourseID != p.CourseID {
			return ErrSessionMismatch
		}
		if !ledger.AcceptsAt(now) {
			return ErrSessionExpired
		}

		// 2. 选课关系
		student, err := tx.GetStudent(ctx, caller.ID)
		if err != nil {
			return notFoundAs(err, ErrStudentNotFound)
		}
		course, err := tx.GetCourse(ctx, p.CourseID)
		if err != nil {
			return notFoundAs(err, ErrCourseNotFound)
		}
		if !course.Students.Contains(student.ID) {
			return ErrNotEnrolled
		}

		// 3. 重复签到
		id := uuid.NewString()
		if s.cfg.RejectDuplicateScans {
			id = uuid.NewSHA1(attendanceNamespace, []byte(ledger.ClassKey()+"/"+student.ID)).String()
			_, err := tx.GetAttendance(ctx, id)
			switch {
			case err == nil:
				return ErrDuplicateScan
			case !errors.Is(err, docstore.ErrNotFound):
				return err
			}
		}

		// 4. 追加记录，时间以服务端时钟为准
		rec = &model.AttendanceRecord{
			ID:          id,
			CourseID:    course.ID,
			SessionID:   ledger.ID,
			StudentID:   student.ID,
			StudentName: student.Name,
			Timestamp:   now,
			Status:      model.AttendancePresent,
			Comment:     strings.TrimSpace(comment),
		}
		tx.PutAttendance(rec)
		return nil
	})
	if err != nil {
		if isSubmissionRejection(err) {
			s.rejected(err)
			return nil, err
		}
		s.metrics.ObserveSubmission("error")
		s.logger.Error("提交签到失败",
			zap.String("student_id", caller.ID),
			zap.String("session_id", p.SessionID),
			zap.Error(err),
		)
		return nil, txFailure("attendance.submit", err, s.logger, s.metrics)
	}

	s.metrics.ObserveSubmission("accepted")
	s.logger.Info("签到成功",
		zap.String("record_id", rec.ID),
		zap.String("course_id", rec.CourseID),
		zap.String("session_id", rec.SessionID),
		zap.String("student_id", rec.StudentID),
	)
	return rec, nil
}

// ────────────────────── UpdateStatus ──────────────────────

func (s *attendanceService) UpdateStatus(ctx context.Context, caller Caller, recordID, status string) (*model.AttendanceRecord, error) {
	if !model.ValidAttendanceStatus(status) {
		return nil, ErrInvalidStatusValue
	}
	if caller.Role != model.RoleAdmin && caller.Role != model.RoleProfessor {
		return nil, ErrForbidden
	}

	var updated model.AttendanceRecord
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx *repository.Tx) error {
		rec, err := tx.GetAttendance(ctx, recordID)
		if err != nil {
			return notFoundAs(err, ErrAttendanceNotFound)
		}
		if !caller.IsAdmin() {
			course, err := tx.GetCourse(ctx, rec.CourseID)
			if err != nil {
				return notFoundAs(err, ErrCourseNotFound)
			}
			if err := authorizeCourse(caller, course); err != nil {
				return err
			}
		}
		rec.Status = status
		tx.PutAttendance(rec)
		updated = *rec
		return nil
	})
	if err != nil {
		if isBusinessError(err) {
			return nil, err
		}
		s.logger.Error("修改签到状态失败", zap.String("record_id", recordID), zap.Error(err))
		return nil, txFailure("attendance.update_status", err, s.logger, s.metrics)
	}

	s.logger.Info("修改签到状态",
		zap.String("record_id", recordID),
		zap.String("status", status),
		zap.String("operator", caller.ID),
	)
	return &updated, nil
}

// ────────────────────── List ──────────────────────

func (s *attendanceService) ListByCourse(ctx context.Context, caller Caller, courseID, sessionID string) ([]model.AttendanceRecord, error) {
	course, err := s.repo.Course.GetByID(ctx, courseID)
	if err != nil {
		return nil, notFoundAs(err, ErrCourseNotFound)
	}
	if err := authorizeCourse(caller, course); err != nil {
		return nil, err
	}

	records, err := s.repo.Attendance.List(ctx, repository.AttendanceFilter{CourseID: courseID, SessionID: sessionID})
	if err != nil {
		s.logger.Error("查询课程签到记录失败", zap.String("course_id", courseID), zap.Error(err))
		return nil, err
	}
	return records, nil
}

func (s *attendanceService) ListByStudent(ctx context.Context, caller Caller, studentID, courseID string) ([]model.AttendanceRecord, error) {
	if !caller.IsAdmin() && !(caller.Role == model.RoleStudent && caller.ID == studentID) {
		return nil, ErrForbidden
	}

	records, err := s.repo.Attendance.List(ctx, repository.AttendanceFilter{StudentID: studentID, CourseID: courseID})
	if err != nil {
		s.logger.Error("查询学生签到记录失败", zap.String("student_id", studentID), zap.Error(err))
		return nil, err
	}
	return records, nil
}

// ── 内部方法 ──

func (s *attendanceService) rejected(err error) {
	reason := "other"
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidQRFormat):
		reason = "format"
	case errors.Is(err, pkgerrors.ErrInvalidQRData):
		reason = "data"
	case errors.Is(err, ErrSessionUnknown), errors.Is(err, ErrSessionMismatch):
		reason = "session"
	case errors.Is(err, ErrSessionExpired):
		reason = "expired"
	case errors.Is(err, ErrNotEnrolled):
		reason = "not_enrolled"
	case errors.Is(err, ErrDuplicateScan):
		reason = "duplicate"
	}
	s.metrics.ObserveScanRejection(reason)
	s.metrics.ObserveSubmission("rejected")
}

func isSubmissionRejection(err error) bool {
	for _, target := range []error{
		ErrSessionUnknown, ErrSessionMismatch, ErrSessionExpired,
		ErrNotEnrolled, ErrDuplicateScan, ErrStudentNotFound, ErrCourseNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
