package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"qr-attendance/backend/internal/dto"
	"qr-attendance/backend/internal/service"
	"qr-attendance/backend/pkg/response"
)

// ProfessorHandler 教师管理 HTTP 处理器（管理员）
type ProfessorHandler struct {
	professorSvc service.ProfessorService
}

// NewProfessorHandler 创建 ProfessorHandler
func NewProfessorHandler(professorSvc service.ProfessorService) *ProfessorHandler {
	return &ProfessorHandler{professorSvc: professorSvc}
}

// List 教师列表
// GET /api/v1/admin/professors?refresh=true
func (h *ProfessorHandler) List(c *gin.Context) {
	list, err := h.professorSvc.List(c.Request.Context(), c.Query("refresh") == "true")
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OKList(c, list, len(list))
}

// Get 教师详情
// GET /api/v1/admin/professors/:id
func (h *ProfessorHandler) Get(c *gin.Context) {
	p, err := h.professorSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleProfessorError(c, err)
		return
	}
	response.OK(c, p)
}

// Create 新建教师
// POST /api/v1/admin/professors
func (h *ProfessorHandler) Create(c *gin.Context) {
	var req dto.CreateProfessorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	p, err := h.professorSvc.Create(c.Request.Context(), &req)
	if err != nil {
		h.handleProfessorError(c, err)
		return
	}
	response.Created(c, p)
}

// Update 更新教师，courses 字段会同步课程一侧
// PUT /api/v1/admin/professors/:id
func (h *ProfessorHandler) Update(c *gin.Context) {
	var req dto.UpdateProfessorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	p, err := h.professorSvc.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.handleProfessorError(c, err)
		return
	}
	response.OK(c, p)
}

// Delete 删除教师，其负责的课程变为未分配
// DELETE /api/v1/admin/professors/:id
func (h *ProfessorHandler) Delete(c *gin.Context) {
	if err := h.professorSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.handleProfessorError(c, err)
		return
	}
	response.OK(c, nil)
}

// Courses 教师负责的课程
// GET /api/v1/admin/professors/:id/courses
func (h *ProfessorHandler) Courses(c *gin.Context) {
	h.listCourses(c, c.Param("id"))
}

// MyCourses 当前教师负责的课程
// GET /api/v1/professor/courses
func (h *ProfessorHandler) MyCourses(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}
	h.listCourses(c, userID)
}

func (h *ProfessorHandler) listCourses(c *gin.Context, professorID string) {
	courses, err := h.professorSvc.Courses(c.Request.Context(), professorID)
	if err != nil {
		h.handleProfessorError(c, err)
		return
	}
	response.OKList(c, courses, len(courses))
}

func (h *ProfessorHandler) handleProfessorError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrProfessorNotFound):
		response.NotFound(c, 12001, "教师不存在")
	case errors.Is(err, service.ErrCourseNotFound):
		response.NotFound(c, 14001, "课程不存在")
	case errors.Is(err, service.ErrEmailExists):
		response.Conflict(c, 12002, "该邮箱已被使用")
	default:
		if !handleCommonError(c, err) {
			response.InternalError(c)
		}
	}
}
