package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"qr-attendance/backend/internal/api/middleware"
	"qr-attendance/backend/internal/dto"
	"qr-attendance/backend/internal/service"
	pkgerrors "qr-attendance/backend/pkg/errors"
	"qr-attendance/backend/pkg/response"
)

// maxScanImageSize 扫码截图上传上限
const maxScanImageSize = 4 << 20

// AttendanceHandler 签到 HTTP 处理器
type AttendanceHandler struct {
	attendanceSvc service.AttendanceService
	analyticsSvc  service.AnalyticsService
}

// NewAttendanceHandler 创建 AttendanceHandler
func NewAttendanceHandler(attendanceSvc service.AttendanceService, analyticsSvc service.AnalyticsService) *AttendanceHandler {
	return &AttendanceHandler{attendanceSvc: attendanceSvc, analyticsSvc: analyticsSvc}
}

// ────────────────────── 学生 ──────────────────────

// Submit 提交扫码得到的二维码内容
// POST /api/v1/student/scan
func (h *AttendanceHandler) Submit(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}
	var req dto.SubmitScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	rec, err := h.attendanceSvc.Submit(c.Request.Context(), caller, req.Payload, req.Comment)
	if err != nil {
		h.handleAttendanceError(c, err)
		return
	}
	response.Created(c, rec)
}

// SubmitImage 上传摄像头截图（multipart 字段 image），识别二维码后提交
// POST /api/v1/student/scan/image
func (h *AttendanceHandler) SubmitImage(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("image")
	if err != nil {
		if middleware.IsBodyTooLarge(err) {
			response.Error(c, http.StatusRequestEntityTooLarge, 10005, "请求体过大")
			return
		}
		response.BadRequest(c, 16011, "缺少图片文件")
		return
	}
	if fh.Size > maxScanImageSize {
		response.Error(c, http.StatusRequestEntityTooLarge, 10005, "图片过大")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, 16008, "无法读取上传的图片")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		response.BadRequest(c, 16008, "无法读取上传的图片")
		return
	}

	rec, err := h.attendanceSvc.SubmitImage(c.Request.Context(), caller, data, c.PostForm("comment"))
	if err != nil {
		h.handleAttendanceError(c, err)
		return
	}
	response.Created(c, rec)
}

// MyRecords 当前学生的签到记录，可按课程过滤
// GET /api/v1/student/attendance/records?course_id=
func (h *AttendanceHandler) MyRecords(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}
	var q dto.AttendanceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindFailed(c, err)
		return
	}

	records, err := h.attendanceSvc.ListByStudent(c.Request.Context(), caller, caller.ID, q.CourseID)
	if err != nil {
		h.handleAttendanceError(c, err)
		return
	}
	response.OKList(c, records, len(records))
}

// MySummary 当前学生的签到记录与各课程汇总
// GET /api/v1/student/attendance
func (h *AttendanceHandler) MySummary(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}
	h.studentSummary(c, caller, caller.ID)
}

// ────────────────────── 教师 / 管理员 ──────────────────────

// StudentSummary 指定学生的签到记录与汇总
// GET /api/v1/admin/students/:id/attendance
func (h *AttendanceHandler) StudentSummary(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}
	h.studentSummary(c, caller, c.Param("id"))
}

// ListByCourse 课程签到记录，可按场次过滤
// GET /api/v1/professor/courses/:id/attendance?session_id=
func (h *AttendanceHandler) ListByCourse(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}
	var q dto.AttendanceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindFailed(c, err)
		return
	}

	records, err := h.attendanceSvc.ListByCourse(c.Request.Context(), caller, c.Param("id"), q.SessionID)
	if err != nil {
		h.handleAttendanceError(c, err)
		return
	}
	response.OKList(c, records, len(records))
}

// UpdateStatus 修改签到状态
// PATCH /api/v1/professor/attendance/:id/status
// PATCH /api/v1/admin/attendance/:id/status
func (h *AttendanceHandler) UpdateStatus(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}
	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	rec, err := h.attendanceSvc.UpdateStatus(c.Request.Context(), caller, c.Param("id"), req.Status)
	if err != nil {
		h.handleAttendanceError(c, err)
		return
	}
	response.OK(c, rec)
}

func (h *AttendanceHandler) studentSummary(c *gin.Context, caller service.Caller, studentID string) {
	summary, err := h.analyticsSvc.StudentSummary(c.Request.Context(), caller, studentID)
	if err != nil {
		h.handleAttendanceError(c, err)
		return
	}
	response.OK(c, summary)
}

func (h *AttendanceHandler) handleAttendanceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionUnknown):
		response.NotFound(c, 16001, "签到场次不存在")
	case errors.Is(err, service.ErrSessionMismatch):
		response.BadRequest(c, 16002, "二维码与课程不匹配")
	case errors.Is(err, service.ErrSessionExpired):
		response.Gone(c, 16003, "二维码已过期")
	case errors.Is(err, service.ErrNotEnrolled):
		response.Forbidden(c, 16004, "未选修该课程")
	case errors.Is(err, service.ErrDuplicateScan):
		response.Conflict(c, 16005, "本节课已签到")
	case errors.Is(err, pkgerrors.ErrInvalidQRFormat):
		response.BadRequest(c, 16006, "二维码格式无效")
	case errors.Is(err, pkgerrors.ErrInvalidQRData):
		response.BadRequest(c, 16007, "二维码数据无效")
	case errors.Is(err, service.ErrInvalidImage):
		response.BadRequest(c, 16008, "无法读取上传的图片")
	case errors.Is(err, service.ErrNoQRCode):
		response.Error(c, http.StatusUnprocessableEntity, 16009, "图片中未识别到二维码")
	case errors.Is(err, service.ErrAttendanceNotFound):
		response.NotFound(c, 16010, "签到记录不存在")
	case errors.Is(err, service.ErrCourseNotFound):
		response.NotFound(c, 14001, "课程不存在")
	case errors.Is(err, service.ErrStudentNotFound):
		response.NotFound(c, 13001, "学生不存在")
	default:
		if !handleCommonError(c, err) {
			response.InternalError(c)
		}
	}
}
