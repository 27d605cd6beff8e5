package qrsession

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"qr-attendance/backend/pkg/metrics"
)

// ErrSessionNotFound 会话不存在（已关闭或已被清理）
var ErrSessionNotFound = errors.New("二维码会话不存在")

// expiredRetention 过期会话保留时长，期间仍可重新生成
const expiredRetention = time.Hour

type entry struct {
	session    *Session
	subs       map[chan Snapshot]struct{}
	expiredFor time.Duration
}

// Manager 持有所有打开的二维码会话，按固定间隔驱动倒计时并向订阅者推送快照
//
// 设计说明：
//   - 状态变更采用“取副本 → 调用方持久化 → Commit”的方式，持久化期间不持有锁
//   - 订阅通道容量为 1，只保留最新快照，慢消费者不会阻塞倒计时
type Manager struct {
	mu       sync.Mutex
	entries  map[string]*entry
	baseURL  string
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewManager 创建会话管理器
func NewManager(baseURL string, logger *zap.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		entries:  make(map[string]*entry),
		baseURL:  baseURL,
		interval: time.Second,
		logger:   logger,
		metrics:  m,
	}
}

// BaseURL 二维码 URL 前缀
func (m *Manager) BaseURL() string {
	return m.baseURL
}

// Add 登记新会话
func (m *Manager) Add(s *Session) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[s.ID] = &entry{session: s, subs: make(map[chan Snapshot]struct{})}
	m.reportActiveLocked()
	return s.Snapshot(m.baseURL)
}

// Get 返回会话快照
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Snapshot{}, false
	}
	return e.session.Snapshot(m.baseURL), true
}

// Copy 返回会话副本，供调用方在锁外修改并持久化
func (m *Manager) Copy(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *e.session
	return &cp, nil
}

// Commit 用修改后的副本替换 oldID 对应的会话；ID 变化时重新索引，订阅者保持不变
func (m *Manager) Commit(oldID string, next *Session) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[oldID]
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}
	e.session = next
	e.expiredFor = 0
	if next.ID != oldID {
		delete(m.entries, oldID)
		m.entries[next.ID] = e
	}
	snap := next.Snapshot(m.baseURL)
	m.broadcastLocked(e, snap)
	m.reportActiveLocked()
	return snap, nil
}

// Remove 关闭会话并断开其订阅者
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return false
	}
	m.dropLocked(id, e)
	m.reportActiveLocked()
	return true
}

// Subscribe 订阅会话快照；返回的取消函数可重复调用
func (m *Manager) Subscribe(id string) (<-chan Snapshot, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	ch := make(chan Snapshot, 1)
	e.subs[ch] = struct{}{}
	ch <- e.session.Snapshot(m.baseURL)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for _, cur := range m.entries {
				if _, ok := cur.subs[ch]; ok {
					delete(cur.subs, ch)
					close(ch)
					return
				}
			}
		})
	}
	return ch, cancel, nil
}

// ActiveCount 倒计时中的会话数
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

// Tick 推进所有会话一秒
func (m *Manager) Tick() {
	m.TickBy(m.interval)
}

// TickBy 推进所有会话 d（按秒取整）
func (m *Manager) TickBy(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	steps := int(d / time.Second)
	if steps < 1 {
		steps = 1
	}

	for id, e := range m.entries {
		if e.session.State() == StateExpired {
			e.expiredFor += time.Duration(steps) * time.Second
			if e.expiredFor >= expiredRetention {
				m.logger.Debug("清理过期二维码会话", zap.String("session_id", id))
				m.dropLocked(id, e)
			}
			continue
		}

		for i := 0; i < steps; i++ {
			if e.session.Tick() == StateExpired {
				m.logger.Info("二维码已过期",
					zap.String("session_id", id),
					zap.String("course_id", e.session.CourseID),
				)
				break
			}
		}
		m.broadcastLocked(e, e.session.Snapshot(m.baseURL))
	}
	m.reportActiveLocked()
}

// Run 按间隔驱动倒计时，直到 ctx 取消
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Stop 关闭全部会话与订阅
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		m.dropLocked(id, e)
	}
	m.reportActiveLocked()
}

// ── 内部方法（调用方需持有锁） ──

func (m *Manager) dropLocked(id string, e *entry) {
	for ch := range e.subs {
		close(ch)
	}
	e.subs = map[chan Snapshot]struct{}{}
	delete(m.entries, id)
}

func (m *Manager) broadcastLocked(e *entry, snap Snapshot) {
	for ch := range e.subs {
		select {
		case ch <- snap:
		default:
			// 丢弃旧快照，只保留最新
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (m *Manager) activeLocked() int {
	n := 0
	for _, e := range m.entries {
		if e.session.State() == StateActive {
			n++
		}
	}
	return n
}

func (m *Manager) reportActiveLocked() {
	m.metrics.SetActiveQRSessions(m.activeLocked())
}
