package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"qr-attendance/backend/internal/api/middleware"
	"qr-attendance/backend/internal/dto"
	"qr-attendance/backend/internal/service"
	pkgerrors "qr-attendance/backend/pkg/errors"
	"qr-attendance/backend/pkg/response"
)

// ── 通用错误码 ──
//
//   10001 参数校验失败     10002 未认证           10003 无权限
//   10004 请求过于频繁     10005 请求体过大       10006 记录不存在
//   50000 服务器内部错误   50001 数据保存失败
//
// 各模块错误码：11xxx 认证 / 12xxx 教师 / 13xxx 学生 / 14xxx 课程
//               15xxx 二维码 / 16xxx 签到 / 18xxx 导入导出

// bindFailed 请求体绑定失败
func bindFailed(c *gin.Context, err error) {
	if middleware.IsBodyTooLarge(err) {
		response.Error(c, http.StatusRequestEntityTooLarge, 10005, "请求体过大")
		return
	}
	if details := dto.DescribeBindError(err); details != "" {
		response.ErrorWithDetails(c, http.StatusBadRequest, 10001, "参数校验失败", details)
		return
	}
	response.BadRequest(c, 10001, "参数校验失败")
}

// handleCommonError 处理跨模块共享的错误，已写入响应时返回 true
func handleCommonError(c *gin.Context, err error) bool {
	var ve *pkgerrors.ValidationError
	switch {
	case errors.As(err, &ve):
		response.ErrorWithDetails(c, http.StatusBadRequest, 10001, ve.Message, ve.Field)
	case pkgerrors.IsTransaction(err):
		response.Error(c, http.StatusInternalServerError, 50001, "数据保存失败，请重试")
	case errors.Is(err, service.ErrNotCourseOwner):
		response.Forbidden(c, 14003, "只能操作自己负责的课程")
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, 10003, "无权限访问")
	case errors.Is(err, pkgerrors.ErrNotFound):
		response.NotFound(c, 10006, "记录不存在")
	default:
		return false
	}
	return true
}
