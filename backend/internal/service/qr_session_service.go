package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"qr-attendance/backend/config"
	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/internal/qrsession"
	"qr-attendance/backend/internal/repository"
	"qr-attendance/backend/pkg/docstore"
	"qr-attendance/backend/pkg/metrics"
)

// ── 二维码会话模块业务错误 ──

var (
	ErrQRSessionNotFound = errors.New("二维码会话不存在或已关闭")
	ErrQRSessionActive   = errors.New("二维码仍在有效期内，无需重新生成")
	ErrQRSessionExpired  = errors.New("二维码已过期，请重新生成")
)

// QRSessionService 课堂签到二维码业务接口
//
// 设计说明：
//   - 每次状态变更先写 sessions 台账（重算 ExpiresAt），成功后再更新内存中的倒计时
//   - 台账是提交签到时判定过期的依据，内存倒计时只用于展示
type QRSessionService interface {
	Open(ctx context.Context, caller Caller, courseID, duration string) (*qrsession.Snapshot, error)
	Get(ctx context.Context, caller Caller, sessionID string) (*qrsession.Snapshot, error)
	ChangeDuration(ctx context.Context, caller Caller, sessionID, duration string) (*qrsession.Snapshot, error)
	Regenerate(ctx context.Context, caller Caller, sessionID string) (*qrsession.Snapshot, error)
	Close(ctx context.Context, caller Caller, sessionID string) error
	// QRCodePNG 当前二维码内容的 PNG 图片
	QRCodePNG(ctx context.Context, caller Caller, sessionID string) ([]byte, error)
	// Subscribe 订阅倒计时快照，调用方须调用返回的取消函数
	Subscribe(ctx context.Context, caller Caller, sessionID string) (<-chan qrsession.Snapshot, func(), error)
	// History 课程的签到场次台账
	History(ctx context.Context, caller Caller, courseID string) ([]model.CourseSession, error)
}

type qrSessionService struct {
	cfg     *config.QRConfig
	repo    *repository.Repository
	manager *qrsession.Manager
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewQRSessionService 创建 QRSessionService 实例
func NewQRSessionService(cfg *config.QRConfig, repo *repository.Repository, manager *qrsession.Manager, logger *zap.Logger, m *metrics.Metrics) QRSessionService {
	return &qrSessionService{
		cfg:     cfg,
		repo:    repo,
		manager: manager,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// ────────────────────── Open ──────────────────────

func (s *qrSessionService) Open(ctx context.Context, caller Caller, courseID, duration string) (*qrsession.Snapshot, error) {
	minutes := s.cfg.DefaultDurationMinutes
	if strings.TrimSpace(duration) != "" {
		d, err := qrsession.ParseDuration(duration, s.cfg.MaxDurationMinutes)
		if err != nil {
			return nil, err
		}
		minutes = d
	}

	course, err := s.repo.Course.GetByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrCourseNotFound
		}
		s.logger.Error("查询课程失败", zap.String("course_id", courseID), zap.Error(err))
		return nil, err
	}
	if err := authorizeCourse(caller, course); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sess := qrsession.New(uuid.NewString(), course.ID, caller.ID, minutes, s.cfg.MaxDurationMinutes, now)
	ledger := &model.CourseSession{
		ID:              sess.ID,
		SeriesID:        sess.ID,
		CourseID:        course.ID,
		ProfessorID:     caller.ID,
		DurationMinutes: minutes,
		IssuedAt:        now,
		ExpiresAt:       sess.ExpiresAt(now),
	}
	if err := s.repo.Session.Save(ctx, ledger); err != nil {
		s.logger.Error("写入签到场次失败", zap.String("course_id", course.ID), zap.Error(err))
		return nil, err
	}

	snap := s.manager.Add(sess)
	s.logger.Info("生成签到二维码",
		zap.String("session_id", sess.ID),
		zap.String("course_id", course.ID),
		zap.Int("duration_minutes", minutes),
	)
	return &snap, nil
}

// ────────────────────── Get ──────────────────────

func (s *qrSessionService) Get(ctx context.Context, caller Caller, sessionID string) (*qrsession.Snapshot, error) {
	sess, err := s.owned(caller, sessionID)
	if err != nil {
		return nil, err
	}
	snap := sess.Snapshot(s.manager.BaseURL())
	return &snap, nil
}

// ────────────────────── ChangeDuration ──────────────────────

func (s *qrSessionService) ChangeDuration(ctx context.Context, caller Caller, sessionID, duration string) (*qrsession.Snapshot, error) {
	sess, err := s.owned(caller, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.SetDuration(duration); err != nil {
		if errors.Is(err, qrsession.ErrExpired) {
			return nil, ErrQRSessionExpired
		}
		return nil, err
	}

	now := s.now().UTC()
	err = s.updateLedger(ctx, sessionID, func(l *model.CourseSession) {
		l.DurationMinutes = sess.DurationMinutes
		l.ExpiresAt = sess.ExpiresAt(now)
	})
	if err != nil {
		return nil, err
	}

	snap, err := s.manager.Commit(sessionID, sess)
	if err != nil {
		return nil, ErrQRSessionNotFound
	}
	return &snap, nil
}

// ────────────────────── Regenerate ──────────────────────

func (s *qrSessionService) Regenerate(ctx context.Context, caller Caller, sessionID string) (*qrsession.Snapshot, error) {
	sess, err := s.owned(caller, sessionID)
	if err != nil {
		return nil, err
	}

	prev, err := s.repo.Session.GetByID(ctx, sessionID)
	if err != nil {
		s.logger.Error("查询签到场次失败", zap.String("session_id", sessionID), zap.Error(err))
		return nil, notFoundAs(err, ErrQRSessionNotFound)
	}

	now := s.now().UTC()
	if err := sess.Regenerate(uuid.NewString(), now); err != nil {
		if errors.Is(err, qrsession.ErrStillActive) {
			return nil, ErrQRSessionActive
		}
		return nil, err
	}

	ledger := &model.CourseSession{
		ID:              sess.ID,
		SeriesID:        prev.ClassKey(),
		CourseID:        sess.CourseID,
		ProfessorID:     sess.ProfessorID,
		DurationMinutes: sess.DurationMinutes,
		IssuedAt:        now,
		ExpiresAt:       sess.ExpiresAt(now),
	}
	if err := s.repo.Session.Save(ctx, ledger); err != nil {
		s.logger.Error("写入签到场次失败", zap.String("session_id", sess.ID), zap.Error(err))
		return nil, err
	}

	snap, err := s.manager.Commit(sessionID, sess)
	if err != nil {
		// 原会话在写台账期间被关闭，新场次随之作废
		closedAt := s.now().UTC()
		if cerr := s.updateLedger(ctx, sess.ID, func(l *model.CourseSession) {
			l.ClosedAt = &closedAt
		}); cerr != nil {
			s.logger.Error("作废重新生成的场次失败", zap.String("session_id", sess.ID), zap.Error(cerr))
		}
		return nil, ErrQRSessionNotFound
	}
	s.logger.Info("重新生成签到二维码",
		zap.String("previous_session_id", sessionID),
		zap.String("session_id", sess.ID),
	)
	return &snap, nil
}

// ────────────────────── Close ──────────────────────

func (s *qrSessionService) Close(ctx context.Context, caller Caller, sessionID string) error {
	if _, err := s.owned(caller, sessionID); err != nil {
		return err
	}

	closedAt := s.now().UTC()
	err := s.updateLedger(ctx, sessionID, func(l *model.CourseSession) {
		l.ClosedAt = &closedAt
	})
	if err != nil {
		return err
	}

	s.manager.Remove(sessionID)
	s.logger.Info("关闭签到二维码", zap.String("session_id", sessionID))
	return nil
}

// ────────────────────── QRCodePNG / Subscribe ──────────────────────

func (s *qrSessionService) QRCodePNG(ctx context.Context, caller Caller, sessionID string) ([]byte, error) {
	sess, err := s.owned(caller, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State() == qrsession.StateExpired {
		return nil, ErrQRSessionExpired
	}

	size := s.cfg.ImageSize
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(sess.PayloadURL(s.manager.BaseURL()), qrcode.Medium, size)
	if err != nil {
		s.logger.Error("生成二维码图片失败", zap.String("session_id", sessionID), zap.Error(err))
		return nil, err
	}
	return png, nil
}

func (s *qrSessionService) Subscribe(ctx context.Context, caller Caller, sessionID string) (<-chan qrsession.Snapshot, func(), error) {
	if _, err := s.owned(caller, sessionID); err != nil {
		return nil, nil, err
	}
	ch, cancel, err := s.manager.Subscribe(sessionID)
	if err != nil {
		return nil, nil, ErrQRSessionNotFound
	}
	return ch, cancel, nil
}

// ────────────────────── History ──────────────────────

func (s *qrSessionService) History(ctx context.Context, caller Caller, courseID string) ([]model.CourseSession, error) {
	course, err := s.repo.Course.GetByID(ctx, courseID)
	if err != nil {
		return nil, notFoundAs(err, ErrCourseNotFound)
	}
	if err := authorizeCourse(caller, course); err != nil {
		return nil, err
	}

	sessions, err := s.repo.Session.ListByCourse(ctx, courseID)
	if err != nil {
		s.logger.Error("查询签到场次失败", zap.String("course_id", courseID), zap.Error(err))
		return nil, err
	}
	return sessions, nil
}

// ── 内部方法 ──

// owned 返回会话副本；仅开启会话的教师或管理员可操作
func (s *qrSessionService) owned(caller Caller, sessionID string) (*qrsession.Session, error) {
	sess, err := s.manager.Copy(sessionID)
	if err != nil {
		return nil, ErrQRSessionNotFound
	}
	if !caller.IsAdmin() && sess.ProfessorID != caller.ID {
		return nil, ErrNotCourseOwner
	}
	return sess, nil
}

func (s *qrSessionService) updateLedger(ctx context.Context, sessionID string, mutate func(*model.CourseSession)) error {
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx *repository.Tx) error {
		l, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return notFoundAs(err, ErrQRSessionNotFound)
		}
		mutate(l)
		tx.PutSession(l)
		return nil
	})
	if err != nil && !errors.Is(err, ErrQRSessionNotFound) {
		s.logger.Error("更新签到场次失败", zap.String("session_id", sessionID), zap.Error(err))
		return txFailure("session.update", err, s.logger, s.metrics)
	}
	return err
}
