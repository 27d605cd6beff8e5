package qrsession

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

const testBase = "https://attendance-recorder.onrender.com/"

func newTestManager() *Manager {
	return NewManager(testBase, zap.NewNop(), nil)
}

func TestManager_TickExpiresAndBroadcasts(t *testing.T) {
	m := newTestManager()
	m.Add(New("sess-1", "course-1", "prof-1", 1, MaxDurationMinutes, issued))

	ch, cancel, err := m.Subscribe("sess-1")
	if err != nil {
		t.Fatalf("Subscribe 应成功: %v", err)
	}
	defer cancel()

	first := <-ch
	if first.Remaining != 60 || first.State != StateActive {
		t.Errorf("订阅时应收到当前快照，实际 %+v", first)
	}

	for i := 0; i < 59; i++ {
		m.Tick()
	}
	if m.ActiveCount() != 1 {
		t.Errorf("59 秒后应仍有 1 个活跃会话")
	}
	m.Tick()

	last := <-ch
	if last.State != StateExpired || last.Remaining != 0 {
		t.Errorf("期望收到过期快照，实际 %+v", last)
	}
	if m.ActiveCount() != 0 {
		t.Errorf("过期后活跃会话应为 0")
	}
	if _, ok := m.Get("sess-1"); !ok {
		t.Error("过期会话在保留期内应仍可查询")
	}
}

func TestManager_CommitRekeysAndKeepsSubscribers(t *testing.T) {
	m := newTestManager()
	m.Add(New("sess-1", "course-1", "prof-1", 1, MaxDurationMinutes, issued))
	ch, cancel, _ := m.Subscribe("sess-1")
	defer cancel()
	<-ch

	m.TickBy(time.Minute)

	cp, err := m.Copy("sess-1")
	if err != nil {
		t.Fatalf("Copy 应成功: %v", err)
	}
	if err := cp.Regenerate("sess-2", issued.Add(time.Minute)); err != nil {
		t.Fatalf("Regenerate 应成功: %v", err)
	}
	if snap, _ := m.Get("sess-1"); snap.State != StateExpired {
		t.Error("Commit 之前原会话不应改变")
	}

	snap, err := m.Commit("sess-1", cp)
	if err != nil {
		t.Fatalf("Commit 应成功: %v", err)
	}
	if snap.SessionID != "sess-2" || snap.State != StateActive {
		t.Errorf("Commit 后快照不正确: %+v", snap)
	}
	if _, ok := m.Get("sess-1"); ok {
		t.Error("旧 ID 应已移除")
	}

	// 订阅者随会话迁移到新 ID
	select {
	case got := <-ch:
		if got.SessionID != "sess-2" {
			t.Errorf("订阅者应收到新会话快照，实际 %+v", got)
		}
	default:
		t.Error("订阅者应收到 Commit 推送")
	}
}

func TestManager_RemoveClosesSubscribers(t *testing.T) {
	m := newTestManager()
	m.Add(New("sess-1", "course-1", "prof-1", 5, MaxDurationMinutes, issued))
	ch, cancel, _ := m.Subscribe("sess-1")
	<-ch

	if !m.Remove("sess-1") {
		t.Fatal("Remove 应返回 true")
	}
	if _, ok := <-ch; ok {
		t.Error("Remove 后订阅通道应关闭")
	}
	cancel() // 重复关闭不应 panic

	if _, _, err := m.Subscribe("sess-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("期望 ErrSessionNotFound，实际: %v", err)
	}
	if _, err := m.Commit("sess-1", New("x", "c", "p", 1, 180, issued)); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("期望 ErrSessionNotFound，实际: %v", err)
	}
}

func TestManager_ExpiredSessionsEvicted(t *testing.T) {
	m := newTestManager()
	m.Add(New("sess-1", "course-1", "prof-1", 1, MaxDurationMinutes, issued))

	m.TickBy(time.Minute)
	m.TickBy(expiredRetention)

	if _, ok := m.Get("sess-1"); ok {
		t.Error("超过保留期的过期会话应被清理")
	}
}

func TestManager_Stop(t *testing.T) {
	m := newTestManager()
	m.Add(New("sess-1", "course-1", "prof-1", 5, MaxDurationMinutes, issued))
	ch, _, _ := m.Subscribe("sess-1")
	<-ch

	m.Stop()
	if _, ok := <-ch; ok {
		t.Error("Stop 后订阅通道应关闭")
	}
	if m.ActiveCount() != 0 {
		t.Error("Stop 后不应有活跃会话")
	}
}
