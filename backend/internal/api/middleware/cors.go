package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginPolicy 允许的跨域来源；"*" 表示任意来源（仅用于本地开发，不带凭据）
type OriginPolicy struct {
	any     bool
	origins map[string]bool
}

// NewOriginPolicy 创建来源策略，忽略末尾的 "/"
func NewOriginPolicy(allowOrigins []string) *OriginPolicy {
	p := &OriginPolicy{origins: make(map[string]bool, len(allowOrigins))}
	for _, o := range allowOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			p.any = true
			continue
		}
		if o != "" {
			p.origins[o] = true
		}
	}
	return p
}

// Allowed 判断来源是否允许；与请求 Host 同源的页面总是允许
// 签到倒计时的 WebSocket 握手同样使用该判断
func (p *OriginPolicy) Allowed(origin, host string) bool {
	if origin == "" {
		return true
	}
	if p.any || p.origins[origin] {
		return true
	}
	return origin == "http://"+host || origin == "https://"+host
}

// CORS 跨域中间件
// 导出文件名通过 Content-Disposition 返回，需对前端暴露
func CORS(policy *OriginPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		c.Header("Vary", "Origin")

		if origin != "" && policy.Allowed(origin, c.Request.Host) {
			c.Header("Access-Control-Allow-Origin", origin)
			if !policy.any {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Max-Age", "600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
