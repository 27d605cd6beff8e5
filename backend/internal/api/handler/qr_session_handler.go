package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"qr-attendance/backend/internal/api/middleware"
	"qr-attendance/backend/internal/dto"
	"qr-attendance/backend/internal/service"
	"qr-attendance/backend/pkg/response"
)

// 倒计时推送连接参数
const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// QRSessionHandler 签到二维码 HTTP 处理器（教师）
type QRSessionHandler struct {
	qrSvc    service.QRSessionService
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewQRSessionHandler 创建 QRSessionHandler
// 倒计时连接的来源校验与 CORS 共用同一策略
func NewQRSessionHandler(qrSvc service.QRSessionService, origins *middleware.OriginPolicy, logger *zap.Logger) *QRSessionHandler {
	return &QRSessionHandler{
		qrSvc:  qrSvc,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return origins.Allowed(r.Header.Get("Origin"), r.Host)
			},
		},
	}
}

// Open 为课程生成签到二维码，duration 为空时使用默认时长
// POST /api/v1/professor/courses/:id/sessions
func (h *QRSessionHandler) Open(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}
	var req dto.OpenQRSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindFailed(c, err)
			return
		}
	}

	snap, err := h.qrSvc.Open(c.Request.Context(), caller, c.Param("id"), string(req.Duration))
	if err != nil {
		h.handleQRError(c, err)
		return
	}
	response.Created(c, snap)
}

// History 课程的签到场次
// GET /api/v1/professor/courses/:id/sessions
func (h *QRSessionHandler) History(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	sessions, err := h.qrSvc.History(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		h.handleQRError(c, err)
		return
	}
	response.OKList(c, sessions, len(sessions))
}

// Get 二维码当前状态
// GET /api/v1/professor/sessions/:id
func (h *QRSessionHandler) Get(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	snap, err := h.qrSvc.Get(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		h.handleQRError(c, err)
		return
	}
	response.OK(c, snap)
}

// ChangeDuration 有效期内修改时长
// PUT /api/v1/professor/sessions/:id/duration
func (h *QRSessionHandler) ChangeDuration(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}
	var req dto.ChangeDurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	snap, err := h.qrSvc.ChangeDuration(c.Request.Context(), caller, c.Param("id"), string(req.Duration))
	if err != nil {
		h.handleQRError(c, err)
		return
	}
	response.OK(c, snap)
}

// Regenerate 过期后重新生成二维码
// POST /api/v1/professor/sessions/:id/regenerate
func (h *QRSessionHandler) Regenerate(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	snap, err := h.qrSvc.Regenerate(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		h.handleQRError(c, err)
		return
	}
	response.OK(c, snap)
}

// Close 关闭二维码，之后不再接受签到
// DELETE /api/v1/professor/sessions/:id
func (h *QRSessionHandler) Close(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	if err := h.qrSvc.Close(c.Request.Context(), caller, c.Param("id")); err != nil {
		h.handleQRError(c, err)
		return
	}
	response.OK(c, nil)
}

// QRCode 二维码 PNG 图片
// GET /api/v1/professor/sessions/:id/qrcode.png
func (h *QRSessionHandler) QRCode(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	png, err := h.qrSvc.QRCodePNG(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		h.handleQRError(c, err)
		return
	}
	response.Image(c, "image/png", png)
}

// Watch 通过 WebSocket 推送倒计时快照，会话关闭时服务端断开连接
// GET /api/v1/professor/sessions/:id/ws
func (h *QRSessionHandler) Watch(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	updates, cancel, err := h.qrSvc.Subscribe(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		h.handleQRError(c, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已写入错误响应
		h.logger.Debug("倒计时连接升级失败", zap.Error(err))
		return
	}
	defer conn.Close()

	// 读循环只处理控制帧，客户端断开时结束
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case snap, ok := <-updates:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (h *QRSessionHandler) handleQRError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrQRSessionNotFound):
		response.NotFound(c, 15001, "二维码会话不存在或已关闭")
	case errors.Is(err, service.ErrQRSessionActive):
		response.Conflict(c, 15002, "二维码仍在有效期内，无需重新生成")
	case errors.Is(err, service.ErrQRSessionExpired):
		response.Gone(c, 15003, "二维码已过期，请重新生成")
	case errors.Is(err, service.ErrCourseNotFound):
		response.NotFound(c, 14001, "课程不存在")
	default:
		if !handleCommonError(c, err) {
			response.InternalError(c)
		}
	}
}
