package handler

import (
	"go.uber.org/zap"

	"qr-attendance/backend/config"
	"qr-attendance/backend/internal/api/middleware"
	"qr-attendance/backend/internal/service"
)

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Auth       *AuthHandler
	Professor  *ProfessorHandler
	Student    *StudentHandler
	Course     *CourseHandler
	QRSession  *QRSessionHandler
	Attendance *AttendanceHandler
	Analytics  *AnalyticsHandler
	Import     *ImportHandler
	Export     *ExportHandler
}

// NewHandler 创建 Handler 聚合
// origins 与路由层 CORS 使用同一实例
func NewHandler(cfg *config.Config, svc *service.Service, origins *middleware.OriginPolicy, logger *zap.Logger) *Handler {
	return &Handler{
		Auth:       NewAuthHandler(svc.Auth),
		Professor:  NewProfessorHandler(svc.Professor),
		Student:    NewStudentHandler(svc.Student),
		Course:     NewCourseHandler(svc.Course, svc.Analytics),
		QRSession:  NewQRSessionHandler(svc.QRSession, origins, logger),
		Attendance: NewAttendanceHandler(svc.Attendance, svc.Analytics),
		Analytics:  NewAnalyticsHandler(svc.Analytics),
		Import:     NewImportHandler(svc.Import, cfg.Import.MaxFileSize),
		Export:     NewExportHandler(svc.Export),
	}
}
