// Package scanner 解析签到二维码内容，以及从图像帧中解码二维码
package scanner

import (
	"fmt"
	"net/url"
	"strings"

	pkgerrors "qr-attendance/backend/pkg/errors"
)

// Payload 二维码中携带的签到信息，原样提取不做类型转换
type Payload struct {
	CourseID  string `json:"course_id"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ParsePayload 解析二维码文本
//   - 无法解析为绝对 URL，或主机名与 expectedHost 不一致：ErrInvalidQRFormat
//   - 缺少 courseId / sessionId：ErrInvalidQRData
func ParsePayload(raw, expectedHost string) (*Payload, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: 无法解析二维码内容", pkgerrors.ErrInvalidQRFormat)
	}
	if !strings.EqualFold(u.Hostname(), expectedHost) {
		return nil, fmt.Errorf("%w: 请扫描有效的签到二维码", pkgerrors.ErrInvalidQRFormat)
	}

	q := u.Query()
	p := &Payload{
		CourseID:  q.Get("courseId"),
		SessionID: q.Get("sessionId"),
		Timestamp: q.Get("timestamp"),
	}
	if p.CourseID == "" || p.SessionID == "" {
		return nil, fmt.Errorf("%w: 缺少 courseId 或 sessionId", pkgerrors.ErrInvalidQRData)
	}
	return p, nil
}
