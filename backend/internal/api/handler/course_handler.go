package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"qr-attendance/backend/internal/dto"
	"qr-attendance/backend/internal/service"
	"qr-attendance/backend/pkg/response"
)

// CourseHandler 课程管理 HTTP 处理器
type CourseHandler struct {
	courseSvc    service.CourseService
	analyticsSvc service.AnalyticsService
}

// NewCourseHandler 创建 CourseHandler
func NewCourseHandler(courseSvc service.CourseService, analyticsSvc service.AnalyticsService) *CourseHandler {
	return &CourseHandler{courseSvc: courseSvc, analyticsSvc: analyticsSvc}
}

// List 课程列表
// GET /api/v1/admin/courses?refresh=true
func (h *CourseHandler) List(c *gin.Context) {
	list, err := h.courseSvc.List(c.Request.Context(), c.Query("refresh") == "true")
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OKList(c, list, len(list))
}

// Get 课程详情，教师只能查看自己负责的课程
// GET /api/v1/admin/courses/:id
// GET /api/v1/professor/courses/:id
func (h *CourseHandler) Get(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	course, err := h.courseSvc.Authorize(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		h.handleCourseError(c, err)
		return
	}
	response.OK(c, course)
}

// Create 新建课程
// POST /api/v1/admin/courses
func (h *CourseHandler) Create(c *gin.Context) {
	var req dto.CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	course, err := h.courseSvc.Create(c.Request.Context(), &req)
	if err != nil {
		h.handleCourseError(c, err)
		return
	}
	response.Created(c, course)
}

// Update 更新课程，professor_id / students 字段会同步另一侧
// PUT /api/v1/admin/courses/:id
func (h *CourseHandler) Update(c *gin.Context) {
	var req dto.UpdateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	course, err := h.courseSvc.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.handleCourseError(c, err)
		return
	}
	response.OK(c, course)
}

// Delete 删除课程，并从教师与学生两侧移除
// DELETE /api/v1/admin/courses/:id
func (h *CourseHandler) Delete(c *gin.Context) {
	if err := h.courseSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.handleCourseError(c, err)
		return
	}
	response.OK(c, nil)
}

// AssignStudent 学生选课
// POST /api/v1/admin/courses/:id/students/:studentId
func (h *CourseHandler) AssignStudent(c *gin.Context) {
	if err := h.courseSvc.AssignStudent(c.Request.Context(), c.Param("id"), c.Param("studentId")); err != nil {
		h.handleCourseError(c, err)
		return
	}
	response.OK(c, nil)
}

// UnassignStudent 学生退课
// DELETE /api/v1/admin/courses/:id/students/:studentId
func (h *CourseHandler) UnassignStudent(c *gin.Context) {
	if err := h.courseSvc.UnassignStudent(c.Request.Context(), c.Param("id"), c.Param("studentId")); err != nil {
		h.handleCourseError(c, err)
		return
	}
	response.OK(c, nil)
}

// AssignProfessor 分配教师，原教师的课程列表同步移除
// PUT /api/v1/admin/courses/:id/professor
func (h *CourseHandler) AssignProfessor(c *gin.Context) {
	var req dto.AssignProfessorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	if err := h.courseSvc.AssignProfessor(c.Request.Context(), c.Param("id"), req.ProfessorID); err != nil {
		h.handleCourseError(c, err)
		return
	}
	response.OK(c, nil)
}

// UnassignProfessor 取消分配教师
// DELETE /api/v1/admin/courses/:id/professor
func (h *CourseHandler) UnassignProfessor(c *gin.Context) {
	if err := h.courseSvc.UnassignProfessor(c.Request.Context(), c.Param("id")); err != nil {
		h.handleCourseError(c, err)
		return
	}
	response.OK(c, nil)
}

// Students 课程学生及出勤次数
// GET /api/v1/admin/courses/:id/students
// GET /api/v1/professor/courses/:id/students
func (h *CourseHandler) Students(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	students, err := h.analyticsSvc.CourseStudents(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		h.handleCourseError(c, err)
		return
	}
	response.OKList(c, students, len(students))
}

func (h *CourseHandler) handleCourseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrCourseNotFound):
		response.NotFound(c, 14001, "课程不存在")
	case errors.Is(err, service.ErrProfessorNotFound):
		response.NotFound(c, 14002, "教师不存在")
	case errors.Is(err, service.ErrStudentNotFound):
		response.NotFound(c, 14004, "学生不存在")
	default:
		if !handleCommonError(c, err) {
			response.InternalError(c)
		}
	}
}
