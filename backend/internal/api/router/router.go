package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"qr-attendance/backend/config"
	"qr-attendance/backend/internal/api/handler"
	"qr-attendance/backend/internal/api/middleware"
	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/pkg/jwt"
	"qr-attendance/backend/pkg/metrics"
)

// Deps 路由依赖；Blacklist / Limiter 在 Redis 不可用时为 nil，Origins 为 nil 时按配置创建
type Deps struct {
	Config    *config.Config
	Handler   *handler.Handler
	Origins   *middleware.OriginPolicy
	JWT       *jwt.Manager
	Blacklist middleware.TokenChecker
	Limiter   middleware.RateLimiter
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Setup 初始化并返回 Gin 路由引擎
func Setup(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	cfg, h := d.Config, d.Handler
	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.Metrics(d.Metrics))
	r.Use(middleware.SecurityHeaders())
	origins := d.Origins
	if origins == nil {
		origins = middleware.NewOriginPolicy(cfg.Server.CORS.AllowOrigins)
	}
	r.Use(middleware.CORS(origins))
	r.Use(middleware.BodyLimit(maxBodyBytes(cfg)))

	// ── 健康检查与指标 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	scanLimit := middleware.RateLimit(d.Limiter, cfg.RateLimit.ScanLimit, cfg.RateLimit.ScanWindow)

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	{
		// 认证模块（无需认证）
		v1.POST("/auth/login", h.Auth.Login)

		// 需要认证的路由
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(d.JWT, d.Blacklist, cfg.Server.LoginPath))
		{
			authorized.POST("/auth/logout", h.Auth.Logout)
			authorized.GET("/auth/me", h.Auth.Me)

			// 管理员
			admin := authorized.Group("/admin")
			admin.Use(middleware.RoleAuth(model.RoleAdmin))
			{
				professors := admin.Group("/professors")
				{
					professors.GET("", h.Professor.List)
					professors.POST("", h.Professor.Create)
					professors.GET("/:id", h.Professor.Get)
					professors.PUT("/:id", h.Professor.Update)
					professors.DELETE("/:id", h.Professor.Delete)
					professors.GET("/:id/courses", h.Professor.Courses)
				}

				students := admin.Group("/students")
				{
					students.GET("", h.Student.List)
					students.POST("", h.Student.Create)
					students.POST("/import", h.Import.ImportStudents)
					students.GET("/:id", h.Student.Get)
					students.PUT("/:id", h.Student.Update)
					students.DELETE("/:id", h.Student.Delete)
					students.GET("/:id/attendance", h.Attendance.StudentSummary)
				}

				courses := admin.Group("/courses")
				{
					courses.GET("", h.Course.List)
					courses.POST("", h.Course.Create)
					courses.GET("/:id", h.Course.Get)
					courses.PUT("/:id", h.Course.Update)
					courses.DELETE("/:id", h.Course.Delete)
					courses.GET("/:id/students", h.Course.Students)
					courses.POST("/:id/students/:studentId", h.Course.AssignStudent)
					courses.DELETE("/:id/students/:studentId", h.Course.UnassignStudent)
					courses.PUT("/:id/professor", h.Course.AssignProfessor)
					courses.DELETE("/:id/professor", h.Course.UnassignProfessor)
					courses.GET("/:id/attendance", h.Attendance.ListByCourse)
					courses.GET("/:id/analytics", h.Analytics.CourseSummary)
					courses.GET("/:id/export/attendance", h.Export.ExportAttendance)
					courses.GET("/:id/export/sessions", h.Export.ExportSessions)
				}

				admin.PATCH("/attendance/:id/status", h.Attendance.UpdateStatus)
			}

			// 教师（Service 层校验课程归属）
			professor := authorized.Group("/professor")
			professor.Use(middleware.RoleAuth(model.RoleProfessor))
			{
				professor.GET("/overview", h.Analytics.Overview)

				courses := professor.Group("/courses")
				{
					courses.GET("", h.Professor.MyCourses)
					courses.GET("/:id", h.Course.Get)
					courses.GET("/:id/students", h.Course.Students)
					courses.POST("/:id/sessions", h.QRSession.Open)
					courses.GET("/:id/sessions", h.QRSession.History)
					courses.GET("/:id/attendance", h.Attendance.ListByCourse)
					courses.GET("/:id/analytics", h.Analytics.CourseSummary)
					courses.GET("/:id/export/attendance", h.Export.ExportAttendance)
					courses.GET("/:id/export/sessions", h.Export.ExportSessions)
				}

				sessions := professor.Group("/sessions")
				{
					sessions.GET("/:id", h.QRSession.Get)
					sessions.PUT("/:id/duration", h.QRSession.ChangeDuration)
					sessions.POST("/:id/regenerate", h.QRSession.Regenerate)
					sessions.DELETE("/:id", h.QRSession.Close)
					sessions.GET("/:id/qrcode.png", h.QRSession.QRCode)
					sessions.GET("/:id/ws", h.QRSession.Watch)
				}

				professor.PATCH("/attendance/:id/status", h.Attendance.UpdateStatus)
			}

			// 学生
			student := authorized.Group("/student")
			student.Use(middleware.RoleAuth(model.RoleStudent))
			{
				student.GET("/courses", h.Student.MyCourses)
				student.GET("/attendance", h.Attendance.MySummary)
				student.GET("/attendance/records", h.Attendance.MyRecords)
				student.POST("/scan", scanLimit, h.Attendance.Submit)
				student.POST("/scan/image", scanLimit, h.Attendance.SubmitImage)
			}
		}
	}

	return r
}

// maxBodyBytes 全局请求体上限，需容纳导入文件与扫码截图
func maxBodyBytes(cfg *config.Config) int64 {
	const (
		base      = 1 << 20
		scanImage = 4 << 20
	)
	size := int64(scanImage)
	if cfg.Import.MaxFileSize > size {
		size = cfg.Import.MaxFileSize
	}
	return size + base
}
