package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"qr-attendance/backend/internal/service"
	"qr-attendance/backend/pkg/response"
)

// AnalyticsHandler 出勤统计 HTTP 处理器
type AnalyticsHandler struct {
	analyticsSvc service.AnalyticsService
}

// NewAnalyticsHandler 创建 AnalyticsHandler
func NewAnalyticsHandler(analyticsSvc service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analyticsSvc: analyticsSvc}
}

// CourseSummary 课程出勤统计
// GET /api/v1/professor/courses/:id/analytics
func (h *AnalyticsHandler) CourseSummary(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	summary, err := h.analyticsSvc.CourseSummary(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		h.handleAnalyticsError(c, err)
		return
	}
	response.OK(c, summary)
}

// Overview 教师名下全部课程的汇总
// GET /api/v1/professor/overview
func (h *AnalyticsHandler) Overview(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	overview, err := h.analyticsSvc.ProfessorOverview(c.Request.Context(), caller)
	if err != nil {
		h.handleAnalyticsError(c, err)
		return
	}
	response.OK(c, overview)
}

func (h *AnalyticsHandler) handleAnalyticsError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrCourseNotFound):
		response.NotFound(c, 14001, "课程不存在")
	default:
		if !handleCommonError(c, err) {
			response.InternalError(c)
		}
	}
}
