package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"qr-attendance/backend/config"
	"qr-attendance/backend/pkg/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ── Mock ──

type mockLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (m *mockLimiter) CheckRateLimit(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	m.keys = append(m.keys, key)
	return m.allowed, m.err
}

type mockChecker struct {
	revoked bool
	err     error
}

func (m *mockChecker) IsBlacklisted(context.Context, string) (bool, error) {
	return m.revoked, m.err
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	ok := func(c *gin.Context) { c.String(http.StatusOK, "ok") }
	r.GET("/api/v1/student/courses", ok)
	r.POST("/api/v1/student/scan", ok)
	r.OPTIONS("/api/v1/student/scan", ok)
	r.POST("/upload", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			_ = c.Error(err)
			return
		}
		c.String(http.StatusOK, "ok")
	})
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ── CORS ──

func TestOriginPolicy_Allowed(t *testing.T) {
	p := NewOriginPolicy([]string{"http://localhost:5173/", " "})
	tests := []struct {
		origin, host string
		want         bool
	}{
		{"", "api.example.com", true},
		{"http://localhost:5173", "api.example.com", true},
		{"https://api.example.com", "api.example.com", true},
		{"https://evil.example.com", "api.example.com", false},
	}
	for _, tc := range tests {
		if got := p.Allowed(tc.origin, tc.host); got != tc.want {
			t.Errorf("Allowed(%q, %q) = %v, want %v", tc.origin, tc.host, got, tc.want)
		}
	}

	if !NewOriginPolicy([]string{"*"}).Allowed("https://anything.example", "api") {
		t.Error("通配策略应允许任意来源")
	}
}

func TestCORS_Preflight(t *testing.T) {
	r := newEngine(CORS(NewOriginPolicy([]string{"http://localhost:5173"})))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/student/scan", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := do(r, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("预检请求期望 204，实际 %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Error("允许的来源应回写 Allow-Origin")
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("显式来源应允许携带凭据")
	}
	if !strings.Contains(w.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition") {
		t.Error("应暴露 Content-Disposition 以便前端读取导出文件名")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/student/courses", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = do(r, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("未允许的来源不应回写 Allow-Origin")
	}
}

func TestCORS_WildcardWithoutCredentials(t *testing.T) {
	r := newEngine(CORS(NewOriginPolicy([]string{"*"})))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/student/courses", nil)
	req.Header.Set("Origin", "http://192.168.1.20:5173")
	w := do(r, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "http://192.168.1.20:5173" {
		t.Error("通配策略应回写请求来源")
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("通配策略不应允许携带凭据")
	}
}

// ── RequestID / SecurityHeaders ──

func TestRequestID(t *testing.T) {
	r := newEngine(RequestID())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/student/courses", nil)
	req.Header.Set("X-Request-ID", "upstream-123")
	if got := do(r, req).Header().Get("X-Request-ID"); got != "upstream-123" {
		t.Errorf("应沿用上游 ID，实际 %q", got)
	}

	for _, bad := range []string{"", "含中文", "has space", strings.Repeat("a", 65)} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/student/courses", nil)
		req.Header.Set("X-Request-ID", bad)
		got := do(r, req).Header().Get("X-Request-ID")
		if got == bad || len(got) != 36 {
			t.Errorf("非法 ID %q 应替换为 UUID，实际 %q", bad, got)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := newEngine(SecurityHeaders())
	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/student/courses", nil))

	if !strings.Contains(w.Header().Get("Permissions-Policy"), "camera=(self)") {
		t.Error("扫码页需要同源摄像头权限")
	}
	if !strings.Contains(w.Header().Get("Content-Security-Policy"), "connect-src 'self' ws: wss:") {
		t.Error("CSP 应允许倒计时 WebSocket")
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Error("API 响应不应被缓存")
	}
}

// ── BodyLimit ──

func TestBodyLimit(t *testing.T) {
	r := newEngine(BodyLimit(8))

	w := do(r, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("tiny")))
	if w.Code != http.StatusOK {
		t.Fatalf("未超限期望 200，实际 %d", w.Code)
	}

	w = do(r, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(strings.Repeat("x", 64))))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("超限期望 413，实际 %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "10005") {
		t.Errorf("超限应返回业务码 10005: %s", w.Body.String())
	}
}

// ── RateLimit ──

func TestRateLimit(t *testing.T) {
	tests := []struct {
		name     string
		limiter  *mockLimiter
		wantCode int
	}{
		{"允许", &mockLimiter{allowed: true}, http.StatusOK},
		{"超限", &mockLimiter{allowed: false}, http.StatusTooManyRequests},
		{"Redis 出错降级放行", &mockLimiter{err: errors.New("down")}, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setUser := func(c *gin.Context) { c.Set(CtxUserID, "s1") }
			r := newEngine(setUser, RateLimit(tc.limiter, 5, time.Minute))
			w := do(r, httptest.NewRequest(http.MethodPost, "/api/v1/student/scan", nil))
			if w.Code != tc.wantCode {
				t.Errorf("期望 %d，实际 %d", tc.wantCode, w.Code)
			}
			if len(tc.limiter.keys) != 1 || tc.limiter.keys[0] != "/api/v1/student/scan:s1" {
				t.Errorf("限流键应按路由与用户区分: %v", tc.limiter.keys)
			}
		})
	}

	r := newEngine(RateLimit(nil, 5, time.Minute))
	if w := do(r, httptest.NewRequest(http.MethodPost, "/api/v1/student/scan", nil)); w.Code != http.StatusOK {
		t.Errorf("未配置限流器时应放行，实际 %d", w.Code)
	}
}

// ── JWTAuth / RoleAuth ──

func TestJWTAuth(t *testing.T) {
	mgr := jwt.NewManager(&config.AuthConfig{JWTSecret: "test-secret-0123456789", AccessTokenTTL: time.Hour})
	token, _, err := mgr.GenerateAccessToken("s1", "student", "李同学", "s1@edu.cn")
	if err != nil {
		t.Fatalf("签发 token 失败: %v", err)
	}

	tests := []struct {
		name     string
		checker  TokenChecker
		header   string
		accept   string
		wantCode int
	}{
		{"有效 token", nil, "Bearer " + token, "", http.StatusOK},
		{"缺少认证头", nil, "", "application/json", http.StatusUnauthorized},
		{"浏览器重定向登录页", nil, "", "text/html,application/xhtml+xml", http.StatusFound},
		{"格式错误", nil, "Token " + token, "", http.StatusUnauthorized},
		{"已注销", &mockChecker{revoked: true}, "Bearer " + token, "", http.StatusUnauthorized},
		{"黑名单不可用降级放行", &mockChecker{err: errors.New("down")}, "Bearer " + token, "", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newEngine(JWTAuth(mgr, tc.checker, "/login"), RoleAuth("student"))
			req := httptest.NewRequest(http.MethodGet, "/api/v1/student/courses", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.accept != "" {
				req.Header.Set("Accept", tc.accept)
			}
			w := do(r, req)
			if w.Code != tc.wantCode {
				t.Fatalf("期望 %d，实际 %d", tc.wantCode, w.Code)
			}
			if tc.wantCode == http.StatusFound && w.Header().Get("Location") != "/login" {
				t.Errorf("重定向目标应为 /login，实际 %q", w.Header().Get("Location"))
			}
		})
	}
}

func TestRoleAuth_WrongRole(t *testing.T) {
	setRole := func(c *gin.Context) { c.Set(CtxRole, "student") }
	r := newEngine(setRole, RoleAuth("admin", "professor"))
	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/student/courses", nil))
	if w.Code != http.StatusForbidden {
		t.Errorf("角色不符期望 403，实际 %d", w.Code)
	}
}
