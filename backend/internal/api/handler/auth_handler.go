package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"qr-attendance/backend/internal/api/middleware"
	"qr-attendance/backend/internal/dto"
	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/internal/service"
	pkgerrors "qr-attendance/backend/pkg/errors"
	"qr-attendance/backend/pkg/response"
)

// AuthHandler 认证模块 HTTP 处理器
type AuthHandler struct {
	authSvc service.AuthService
}

// NewAuthHandler 创建 AuthHandler
func NewAuthHandler(authSvc service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Login 用户登录
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	result, err := h.authSvc.Login(c.Request.Context(), &req)
	if err != nil {
		h.handleAuthError(c, err)
		return
	}

	response.OK(c, result)
}

// Logout 用户登出，总是成功
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	h.authSvc.Logout(c.Request.Context(), GetClaims(c))
	response.OK(c, nil)
}

// Me 当前登录用户
// GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}
	role, ok := MustGetRole(c)
	if !ok {
		return
	}

	response.OK(c, model.User{
		ID:    userID,
		Name:  c.GetString(middleware.CtxName),
		Email: c.GetString(middleware.CtxEmail),
		Role:  role,
	})
}

func (h *AuthHandler) handleAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrUserNotFound):
		response.Error(c, http.StatusUnauthorized, 11001, "用户不存在")
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(c, http.StatusUnauthorized, 11002, "邮箱或密码错误")
	case errors.Is(err, service.ErrInvalidRole):
		response.BadRequest(c, 11003, "未知的登录角色")
	case errors.Is(err, pkgerrors.ErrLoginFailed):
		response.Error(c, http.StatusServiceUnavailable, 11004, "登录失败，请稍后重试")
	default:
		response.InternalError(c)
	}
}
