// Package qrsession 签到二维码会话状态机
//
// 状态：Active(剩余秒数) → Expired。
//   - 每秒 Tick 一次，剩余秒数归零即过期
//   - 有效期内修改时长：校验 [1, max] 的整数，通过后剩余秒数重置为 时长*60，会话 ID 不变
//   - 过期后重新生成：签发新的会话 ID，按最近一次时长重新计时
package qrsession

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	pkgerrors "qr-attendance/backend/pkg/errors"
)

// State 会话状态
type State string

const (
	StateActive  State = "active"
	StateExpired State = "expired"
)

// 默认时长与上限（分钟）
const (
	DefaultDurationMinutes = 15
	MaxDurationMinutes     = 180
)

var (
	// ErrStillActive 会话仍在有效期内，不能重新生成
	ErrStillActive = errors.New("二维码仍在有效期内")
	// ErrExpired 会话已过期，只能重新生成
	ErrExpired = errors.New("二维码已过期")
)

// 时长校验提示
const (
	msgInvalidDuration = "请输入有效的正整数"
	msgDurationTooLong = "时长最多为 %d 分钟"
)

// ParseDuration 解析并校验时长输入（分钟）
// 非整数、小于 1 或超过 limit 时返回 *errors.ValidationError
func ParseDuration(input string, limit int) (int, error) {
	if limit <= 0 {
		limit = MaxDurationMinutes
	}
	d, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || d < 1 {
		return 0, pkgerrors.NewValidationError("duration", msgInvalidDuration)
	}
	if d > limit {
		return 0, pkgerrors.NewValidationError("duration", fmt.Sprintf(msgDurationTooLong, limit))
	}
	return d, nil
}

// Session 单个二维码会话的状态机，非并发安全，由 Manager 加锁访问
type Session struct {
	ID              string
	CourseID        string
	ProfessorID     string
	DurationMinutes int
	Remaining       int // 剩余秒数
	IssuedAt        time.Time
	maxMinutes      int
}

// New 创建处于 Active 状态的会话
func New(id, courseID, professorID string, durationMinutes, maxMinutes int, issuedAt time.Time) *Session {
	if maxMinutes <= 0 {
		maxMinutes = MaxDurationMinutes
	}
	return &Session{
		ID:              id,
		CourseID:        courseID,
		ProfessorID:     professorID,
		DurationMinutes: durationMinutes,
		Remaining:       durationMinutes * 60,
		IssuedAt:        issuedAt,
		maxMinutes:      maxMinutes,
	}
}

// State 当前状态
func (s *Session) State() State {
	if s.Remaining > 0 {
		return StateActive
	}
	return StateExpired
}

// Tick 经过一秒，返回新状态
func (s *Session) Tick() State {
	if s.Remaining > 0 {
		s.Remaining--
	}
	return s.State()
}

// SetDuration 有效期内修改时长
// 校验失败时状态不变；已过期时返回 ErrExpired 由调用方改走 Regenerate
func (s *Session) SetDuration(input string) error {
	d, err := ParseDuration(input, s.maxMinutes)
	if err != nil {
		return err
	}
	if s.State() == StateExpired {
		return ErrExpired
	}
	s.DurationMinutes = d
	s.Remaining = d * 60
	return nil
}

// Regenerate 过期后以新 ID 重新计时
func (s *Session) Regenerate(newID string, now time.Time) error {
	if s.State() == StateActive {
		return ErrStillActive
	}
	s.ID = newID
	s.Remaining = s.DurationMinutes * 60
	s.IssuedAt = now
	return nil
}

// ExpiresAt 以 now 为基准推算的过期时间
func (s *Session) ExpiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(s.Remaining) * time.Second)
}

// PayloadURL 二维码内容
func (s *Session) PayloadURL(baseURL string) string {
	return BuildPayloadURL(baseURL, s.CourseID, s.ID, s.IssuedAt)
}

// Snapshot 会话快照，用于接口返回与倒计时推送
type Snapshot struct {
	SessionID       string    `json:"session_id"`
	CourseID        string    `json:"course_id"`
	State           State     `json:"state"`
	Remaining       int       `json:"remaining_seconds"`
	DurationMinutes int       `json:"duration_minutes"`
	IssuedAt        time.Time `json:"issued_at"`
	Payload         string    `json:"payload"`
}

// Snapshot 生成快照
func (s *Session) Snapshot(baseURL string) Snapshot {
	return Snapshot{
		SessionID:       s.ID,
		CourseID:        s.CourseID,
		State:           s.State(),
		Remaining:       s.Remaining,
		DurationMinutes: s.DurationMinutes,
		IssuedAt:        s.IssuedAt,
		Payload:         s.PayloadURL(baseURL),
	}
}

// BuildPayloadURL 组装二维码 URL：<base>?courseId=..&sessionId=..&timestamp=<ISO8601>
func BuildPayloadURL(baseURL, courseID, sessionID string, issuedAt time.Time) string {
	q := url.Values{}
	q.Set("courseId", courseID)
	q.Set("sessionId", sessionID)
	q.Set("timestamp", issuedAt.UTC().Format(time.RFC3339Nano))

	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL + "?" + q.Encode()
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawQuery = q.Encode()
	return u.String()
}
