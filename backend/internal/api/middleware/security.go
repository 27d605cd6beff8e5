package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// contentSecurityPolicy 扫码页需要摄像头视频流（blob:），二维码预览为 data: / blob: 图片，
// 倒计时通过 WebSocket 推送
var contentSecurityPolicy = strings.Join([]string{
	"default-src 'self'",
	"img-src 'self' data: blob:",
	"media-src 'self' blob:",
	"connect-src 'self' ws: wss:",
	"style-src 'self' 'unsafe-inline'",
	"frame-ancestors 'none'",
}, "; ")

var securityHeaders = [][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", contentSecurityPolicy},
	{"Permissions-Policy", "camera=(self), microphone=(), geolocation=()"},
}

// SecurityHeaders 安全响应头中间件；/api 下的响应携带个人签到数据，禁止缓存
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range securityHeaders {
			c.Header(h[0], h[1])
		}
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Header("Cache-Control", "no-store")
		}

		c.Next()
	}
}
