package service

import (
	"context"
	"sync"
	"time"
)

// entityCache 单个实体类型的列表缓存
//
// 设计说明：
//   - 由 Service 聚合持有，Warm 在启动时加载，Close 在关闭时清空
//   - 超过 ttl 或显式 refresh 时重新拉取全部文档
//   - 远端写入提交后调用 Invalidate，下次 List 重新拉取
//   - gen 每次失效加一；加载期间发生过失效的结果只返回给调用方，不写入缓存
type entityCache[T any] struct {
	mu       sync.RWMutex
	items    []T
	loaded   bool
	gen      uint64
	loadedAt time.Time
	ttl      time.Duration
	load     func(ctx context.Context) ([]T, error)
	idOf     func(*T) string
	now      func() time.Time
}

func newEntityCache[T any](ttl time.Duration, load func(ctx context.Context) ([]T, error), idOf func(*T) string) *entityCache[T] {
	return &entityCache[T]{ttl: ttl, load: load, idOf: idOf, now: time.Now}
}

// List 返回缓存副本；refresh 为 true 或缓存过期时重新加载
func (c *entityCache[T]) List(ctx context.Context, refresh bool) ([]T, error) {
	c.mu.RLock()
	gen := c.gen
	if !refresh && c.loaded && (c.ttl <= 0 || c.now().Sub(c.loadedAt) < c.ttl) {
		out := append([]T(nil), c.items...)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	items, err := c.load(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.items = items
		c.loaded = true
		c.loadedAt = c.now()
	}
	c.mu.Unlock()
	return append([]T(nil), items...), nil
}

// Warm 预加载
func (c *entityCache[T]) Warm(ctx context.Context) error {
	_, err := c.List(ctx, true)
	return err
}

// Invalidate 写入提交后丢弃缓存内容
func (c *entityCache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.items = nil
	c.loaded = false
}

// Close 清空缓存
func (c *entityCache[T]) Close() {
	c.Invalidate()
}
