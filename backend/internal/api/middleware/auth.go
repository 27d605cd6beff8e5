package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"qr-attendance/backend/pkg/jwt"
	"qr-attendance/backend/pkg/response"
)

// 上下文键，由 JWTAuth 写入，Handler 通过 context_helper 读取
const (
	CtxUserID = "user_id"
	CtxRole   = "role"
	CtxName   = "name"
	CtxEmail  = "email"
	CtxClaims = "claims"
)

// TokenChecker Token 黑名单查询，Redis 不可用时传 nil
type TokenChecker interface {
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// JWTAuth JWT 认证中间件
// 从 Authorization: Bearer <token> 中提取并验证 Access Token
// 未认证时浏览器请求（Accept: text/html）重定向到登录页，其余返回 401 JSON
func JWTAuth(jwtMgr *jwt.Manager, blacklist TokenChecker, loginPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			deny(c, loginPath, "缺少认证头")
			return
		}

		claims, err := jwtMgr.ParseToken(token)
		if err != nil {
			deny(c, loginPath, "Token 无效或已过期")
			return
		}

		// Redis 出错时降级放行
		if blacklist != nil && claims.ID != "" {
			if revoked, err := blacklist.IsBlacklisted(c.Request.Context(), claims.ID); err == nil && revoked {
				deny(c, loginPath, "Token 已注销")
				return
			}
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxRole, claims.Role)
		c.Set(CtxName, claims.Name)
		c.Set(CtxEmail, claims.Email)
		c.Set(CtxClaims, claims)

		c.Next()
	}
}

// RoleAuth 角色权限中间件
// 检查当前用户是否具有指定角色之一
func RoleAuth(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(CtxRole)
		if role == "" {
			response.Unauthorized(c, 10002, "未认证")
			c.Abort()
			return
		}

		for _, r := range allowedRoles {
			if role == r {
				c.Next()
				return
			}
		}

		response.Forbidden(c, 10003, "无权限访问")
		c.Abort()
	}
}

// bearerToken 读取 Authorization 头；浏览器无法为 WebSocket 设置请求头，升级请求可改用 access_token 查询参数
func bearerToken(c *gin.Context) (string, bool) {
	if c.IsWebsocket() {
		if t := strings.TrimSpace(c.Query("access_token")); t != "" {
			return t, true
		}
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func deny(c *gin.Context, loginPath, message string) {
	if loginPath != "" && wantsHTML(c) {
		c.Redirect(http.StatusFound, loginPath)
		c.Abort()
		return
	}
	response.Unauthorized(c, 10002, message)
	c.Abort()
}

func wantsHTML(c *gin.Context) bool {
	return c.Request.Method == http.MethodGet && strings.Contains(c.GetHeader("Accept"), "text/html")
}
