package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"qr-attendance/backend/config"
	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/internal/qrsession"
	"qr-attendance/backend/internal/repository"
	"qr-attendance/backend/pkg/jwt"
	"qr-attendance/backend/pkg/metrics"
)

// Service 所有 Service 的聚合入口
//
// 设计说明：
//   - 由组合根创建，启动时调用 Warm 预热实体列表缓存，关闭时调用 Close
//   - 三类实体缓存由教师 / 学生 / 课程 / 导入服务共享，关系维护写入成功后同步两侧
type Service struct {
	Auth       AuthService
	Professor  ProfessorService
	Student    StudentService
	Course     CourseService
	QRSession  QRSessionService
	Attendance AttendanceService
	Analytics  AnalyticsService
	Import     ImportService
	Export     ExportService

	caches *entityCaches
}

// Deps Service 聚合的外部依赖
type Deps struct {
	Config    *config.Config
	Repo      *repository.Repository
	JWT       *jwt.Manager
	Blacklist TokenBlacklist // 可为 nil
	Sessions  *qrsession.Manager
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// NewService 创建 Service 聚合
func NewService(d Deps) *Service {
	ttl := d.Config.Cache.TTL
	caches := &entityCaches{
		professors: newEntityCache(ttl, d.Repo.Professor.List, func(p *model.Professor) string { return p.ID }),
		students:   newEntityCache(ttl, d.Repo.Student.List, func(s *model.Student) string { return s.ID }),
		courses:    newEntityCache(ttl, d.Repo.Course.List, func(c *model.Course) string { return c.ID }),
	}

	return &Service{
		Auth:       NewAuthService(d.Config, d.Repo, d.JWT, d.Blacklist, d.Logger),
		Professor:  NewProfessorService(d.Repo, caches, d.Logger, d.Metrics),
		Student:    NewStudentService(d.Repo, caches, d.Logger, d.Metrics),
		Course:     NewCourseService(d.Repo, caches, d.Logger, d.Metrics),
		QRSession:  NewQRSessionService(&d.Config.QR, d.Repo, d.Sessions, d.Logger, d.Metrics),
		Attendance: NewAttendanceService(&d.Config.QR, d.Repo, d.Logger, d.Metrics),
		Analytics:  NewAnalyticsService(d.Repo, d.Logger),
		Import:     NewImportService(&d.Config.Import, d.Repo, caches, d.Logger, d.Metrics),
		Export:     NewExportService(d.Repo, d.Logger),
		caches:     caches,
	}
}

// Warm 预加载实体列表缓存
func (s *Service) Warm(ctx context.Context) error {
	return errors.Join(
		s.caches.professors.Warm(ctx),
		s.caches.students.Warm(ctx),
		s.caches.courses.Warm(ctx),
	)
}

// Close 清空实体列表缓存
func (s *Service) Close() {
	s.caches.professors.Close()
	s.caches.students.Close()
	s.caches.courses.Close()
}
