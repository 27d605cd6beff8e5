// Package memstore 进程内文档存储，文档以 JSON 形式保存
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"qr-attendance/backend/pkg/docstore"
)

type collection struct {
	docs  map[string][]byte
	order []string // 插入顺序，Query 按此顺序返回
}

// Store 内存文档存储
// 事务期间持有全局锁，因此事务之间天然串行
type Store struct {
	mu          sync.Mutex
	collections map[string]*collection
}

var _ docstore.Backend = (*Store)(nil)

// New 创建内存文档存储
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{docs: make(map[string][]byte)}
		s.collections[name] = c
	}
	return c
}

func (s *Store) get(ref docstore.Ref, dst interface{}) error {
	raw, ok := s.coll(ref.Collection).docs[ref.ID]
	if !ok {
		return docstore.ErrNotFound
	}
	return json.Unmarshal(raw, dst)
}

func (s *Store) put(ref docstore.Ref, raw []byte) {
	c := s.coll(ref.Collection)
	if _, exists := c.docs[ref.ID]; !exists {
		c.order = append(c.order, ref.ID)
	}
	c.docs[ref.ID] = raw
}

func (s *Store) remove(ref docstore.Ref) {
	c := s.coll(ref.Collection)
	if _, exists := c.docs[ref.ID]; !exists {
		return
	}
	delete(c.docs, ref.ID)
	for i, id := range c.order {
		if id == ref.ID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Get 读取单个文档
func (s *Store) Get(ctx context.Context, ref docstore.Ref, dst interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(ref, dst)
}

// Set 写入单个文档
func (s *Store) Set(ctx context.Context, ref docstore.Ref, doc interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("序列化文档 %s 失败: %w", ref, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(ref, raw)
	return nil
}

// Query 按等值条件遍历集合，字段名对应文档的 JSON 字段
func (s *Store) Query(ctx context.Context, collectionName string, filters []docstore.Filter, each func(decode docstore.Decoder) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// 先在锁内拷贝快照，回调在锁外执行
	s.mu.Lock()
	c := s.coll(collectionName)
	snapshot := make([][]byte, 0, len(c.order))
	for _, id := range c.order {
		snapshot = append(snapshot, c.docs[id])
	}
	s.mu.Unlock()

	wanted, err := normalizeFilters(filters)
	if err != nil {
		return err
	}

	for _, raw := range snapshot {
		ok, err := matches(raw, wanted)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		doc := raw
		if err := each(func(dst interface{}) error { return json.Unmarshal(doc, dst) }); err != nil {
			return err
		}
	}
	return nil
}

// RunInTx 在工作单元中执行 fn
func (s *Store) RunInTx(ctx context.Context, fn docstore.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return &docstore.TxError{Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := &unit{store: s}
	if err := fn(ctx, u); err != nil {
		return err
	}

	// 先全部序列化，任何一个失败则整体不生效
	encoded := make([][]byte, len(u.Writes))
	for i, w := range u.Writes {
		if w.Delete {
			continue
		}
		raw, err := json.Marshal(w.Doc)
		if err != nil {
			return &docstore.TxError{Err: fmt.Errorf("序列化文档 %s 失败: %w", w.Ref, err)}
		}
		encoded[i] = raw
	}
	for i, w := range u.Writes {
		if w.Delete {
			s.remove(w.Ref)
			continue
		}
		s.put(w.Ref, encoded[i])
	}
	return nil
}

// Close 内存存储无需释放资源
func (s *Store) Close() error {
	return nil
}

type unit struct {
	docstore.Staging
	store *Store
}

func (u *unit) Get(ctx context.Context, ref docstore.Ref, dst interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return u.store.get(ref, dst)
}

// ── 过滤 ──

func normalizeFilters(filters []docstore.Filter) (map[string]interface{}, error) {
	wanted := make(map[string]interface{}, len(filters))
	for _, f := range filters {
		raw, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("无法序列化过滤值 %s: %w", f.Field, err)
		}
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		wanted[f.Field] = v
	}
	return wanted, nil
}

func matches(raw []byte, wanted map[string]interface{}) (bool, error) {
	if len(wanted) == 0 {
		return true, nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false, err
	}
	for k, v := range wanted {
		if !reflect.DeepEqual(fields[k], v) {
			return false, nil
		}
	}
	return true, nil
}
