package qrsession

import (
	"errors"
	"net/url"
	"testing"
	"time"

	pkgerrors "qr-attendance/backend/pkg/errors"
)

var issued = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func TestSession_ExpiresAfterDurationTicks(t *testing.T) {
	for _, d := range []int{1, 15, 180} {
		s := New("sess-1", "course-1", "prof-1", d, MaxDurationMinutes, issued)

		for i := 0; i < d*60-1; i++ {
			s.Tick()
		}
		if s.State() != StateActive {
			t.Fatalf("d=%d: %d 次 tick 后应仍为 Active", d, d*60-1)
		}
		if s.Remaining != 1 {
			t.Errorf("d=%d: 期望剩余 1 秒，实际=%d", d, s.Remaining)
		}

		if got := s.Tick(); got != StateExpired {
			t.Errorf("d=%d: %d 次 tick 后应为 Expired，实际=%s", d, d*60, got)
		}
		if got := s.Tick(); got != StateExpired || s.Remaining != 0 {
			t.Errorf("d=%d: 过期后继续 tick 应保持 Expired 且剩余为 0", d)
		}
	}
}

func TestSession_SetDuration_RejectsInvalidInput(t *testing.T) {
	for _, input := range []string{"0", "181", "abc", "", "-5", "1.5"} {
		s := New("sess-1", "course-1", "prof-1", 15, MaxDurationMinutes, issued)
		for i := 0; i < 100; i++ {
			s.Tick()
		}
		before := s.Remaining

		err := s.SetDuration(input)
		if !pkgerrors.IsValidation(err) {
			t.Errorf("输入 %q 期望 ValidationError，实际: %v", input, err)
		}
		var ve *pkgerrors.ValidationError
		if errors.As(err, &ve) && ve.Message == "" {
			t.Errorf("输入 %q 应携带提示信息", input)
		}
		if s.Remaining != before || s.DurationMinutes != 15 {
			t.Errorf("输入 %q 不应改变状态，remaining %d→%d", input, before, s.Remaining)
		}
	}
}

func TestSession_SetDuration_ResetsTimerKeepsID(t *testing.T) {
	s := New("sess-1", "course-1", "prof-1", 15, MaxDurationMinutes, issued)
	for i := 0; i < 300; i++ {
		s.Tick()
	}

	if err := s.SetDuration(" 30 "); err != nil {
		t.Fatalf("SetDuration 应成功: %v", err)
	}
	if s.Remaining != 30*60 {
		t.Errorf("期望剩余 1800 秒，实际=%d", s.Remaining)
	}
	if s.ID != "sess-1" {
		t.Errorf("修改时长不应更换会话 ID，实际=%s", s.ID)
	}
	if s.DurationMinutes != 30 {
		t.Errorf("期望时长 30，实际=%d", s.DurationMinutes)
	}
}

func TestSession_SetDuration_WhenExpired(t *testing.T) {
	s := New("sess-1", "course-1", "prof-1", 1, MaxDurationMinutes, issued)
	for i := 0; i < 60; i++ {
		s.Tick()
	}
	if err := s.SetDuration("10"); !errors.Is(err, ErrExpired) {
		t.Errorf("过期后修改时长期望 ErrExpired，实际: %v", err)
	}
}

func TestSession_Regenerate(t *testing.T) {
	s := New("sess-1", "course-1", "prof-1", 2, MaxDurationMinutes, issued)

	if err := s.Regenerate("sess-2", issued); !errors.Is(err, ErrStillActive) {
		t.Fatalf("有效期内重新生成期望 ErrStillActive，实际: %v", err)
	}

	for i := 0; i < 120; i++ {
		s.Tick()
	}
	later := issued.Add(10 * time.Minute)
	if err := s.Regenerate("sess-2", later); err != nil {
		t.Fatalf("过期后重新生成应成功: %v", err)
	}
	if s.ID != "sess-2" || s.State() != StateActive || s.Remaining != 120 {
		t.Errorf("重新生成后状态不正确: %+v", s)
	}
	if !s.IssuedAt.Equal(later) {
		t.Errorf("签发时间应更新为 %v，实际 %v", later, s.IssuedAt)
	}
}

func TestParseDuration_CustomLimit(t *testing.T) {
	if _, err := ParseDuration("61", 60); !pkgerrors.IsValidation(err) {
		t.Errorf("超过自定义上限应失败，实际: %v", err)
	}
	if d, err := ParseDuration("60", 60); err != nil || d != 60 {
		t.Errorf("期望 60，实际 d=%d err=%v", d, err)
	}
	if d, err := ParseDuration("180", 0); err != nil || d != 180 {
		t.Errorf("limit<=0 时应使用默认上限 180，实际 d=%d err=%v", d, err)
	}
}

func TestBuildPayloadURL(t *testing.T) {
	raw := BuildPayloadURL("https://attendance-recorder.onrender.com", "course-1", "sess-1", issued)

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("URL 应可解析: %v", err)
	}
	if u.Hostname() != "attendance-recorder.onrender.com" {
		t.Errorf("主机名不正确: %s", u.Hostname())
	}
	if u.Path != "/" {
		t.Errorf("期望路径 /，实际 %q", u.Path)
	}
	q := u.Query()
	if q.Get("courseId") != "course-1" || q.Get("sessionId") != "sess-1" {
		t.Errorf("查询参数不正确: %s", u.RawQuery)
	}
	ts, err := time.Parse(time.RFC3339Nano, q.Get("timestamp"))
	if err != nil || !ts.Equal(issued) {
		t.Errorf("timestamp 应为 ISO8601，实际 %q", q.Get("timestamp"))
	}
}
