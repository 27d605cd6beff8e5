package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"qr-attendance/backend/internal/dto"
	"qr-attendance/backend/internal/service"
	"qr-attendance/backend/pkg/response"
)

// StudentHandler 学生管理 HTTP 处理器
type StudentHandler struct {
	studentSvc service.StudentService
}

// NewStudentHandler 创建 StudentHandler
func NewStudentHandler(studentSvc service.StudentService) *StudentHandler {
	return &StudentHandler{studentSvc: studentSvc}
}

// List 学生列表
// GET /api/v1/admin/students?refresh=true
func (h *StudentHandler) List(c *gin.Context) {
	list, err := h.studentSvc.List(c.Request.Context(), c.Query("refresh") == "true")
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OKList(c, list, len(list))
}

// Get 学生详情
// GET /api/v1/admin/students/:id
func (h *StudentHandler) Get(c *gin.Context) {
	s, err := h.studentSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleStudentError(c, err)
		return
	}
	response.OK(c, s)
}

// Create 新建学生
// POST /api/v1/admin/students
func (h *StudentHandler) Create(c *gin.Context) {
	var req dto.CreateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	s, err := h.studentSvc.Create(c.Request.Context(), &req)
	if err != nil {
		h.handleStudentError(c, err)
		return
	}
	response.Created(c, s)
}

// Update 更新学生，courses 字段会同步课程一侧
// PUT /api/v1/admin/students/:id
func (h *StudentHandler) Update(c *gin.Context) {
	var req dto.UpdateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	s, err := h.studentSvc.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.handleStudentError(c, err)
		return
	}
	response.OK(c, s)
}

// Delete 删除学生，并从所有课程中移除
// DELETE /api/v1/admin/students/:id
func (h *StudentHandler) Delete(c *gin.Context) {
	if err := h.studentSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.handleStudentError(c, err)
		return
	}
	response.OK(c, nil)
}

// MyCourses 当前学生已选的课程
// GET /api/v1/student/courses
func (h *StudentHandler) MyCourses(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	courses, err := h.studentSvc.Courses(c.Request.Context(), userID)
	if err != nil {
		h.handleStudentError(c, err)
		return
	}
	response.OKList(c, courses, len(courses))
}

func (h *StudentHandler) handleStudentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrStudentNotFound):
		response.NotFound(c, 13001, "学生不存在")
	case errors.Is(err, service.ErrCourseNotFound):
		response.NotFound(c, 14001, "课程不存在")
	case errors.Is(err, service.ErrEmailExists):
		response.Conflict(c, 13002, "该邮箱已被使用")
	default:
		if !handleCommonError(c, err) {
			response.InternalError(c)
		}
	}
}
