package dto

import "qr-attendance/backend/internal/model"

// ── 认证模块 DTO ──

// LoginRequest 登录请求
// 教师与学生按邮箱在对应集合中查找，密码仅用于管理员（配置了哈希时）
type LoginRequest struct {
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password"`
	Role     string `json:"role"     binding:"required,oneof=admin professor student"`
}

// LoginResponse 登录成功响应
type LoginResponse struct {
	AccessToken string     `json:"access_token"`
	ExpiresIn   int        `json:"expires_in"` // Access Token 有效期（秒）
	User        model.User `json:"user"`
}
