// Package gormstore 基于 GORM + PostgreSQL 的文档存储后端
//
// 每个集合对应一张表，文档 ID 为主键列 id；关系集合以 text[] 列保存。
// 工作单元内的读取使用 SELECT ... FOR UPDATE，同一文档上的并发读改写因此串行化。
package gormstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"qr-attendance/backend/pkg/docstore"
)

// ModelFactory 返回集合对应模型的新指针
type ModelFactory func() interface{}

// Store GORM 文档存储
type Store struct {
	db     *gorm.DB
	models map[string]ModelFactory
}

var _ docstore.Backend = (*Store)(nil)

// New 创建 GORM 文档存储，models 为集合名到模型的映射
func New(db *gorm.DB, models map[string]ModelFactory) *Store {
	return &Store{db: db, models: models}
}

func (s *Store) model(collection string) (interface{}, error) {
	factory, ok := s.models[collection]
	if !ok {
		return nil, fmt.Errorf("未注册的集合: %s", collection)
	}
	return factory(), nil
}

// Get 读取单个文档
func (s *Store) Get(ctx context.Context, ref docstore.Ref, dst interface{}) error {
	err := s.db.WithContext(ctx).Where("id = ?", ref.ID).Take(dst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return docstore.ErrNotFound
	}
	return err
}

// Set 写入单个文档（主键存在则整行更新，否则插入）
func (s *Store) Set(ctx context.Context, ref docstore.Ref, doc interface{}) error {
	return s.db.WithContext(ctx).Save(doc).Error
}

// Query 按等值条件遍历集合，按插入时间排序
func (s *Store) Query(ctx context.Context, collection string, filters []docstore.Filter, each func(decode docstore.Decoder) error) error {
	m, err := s.model(collection)
	if err != nil {
		return err
	}

	q := s.db.WithContext(ctx).Model(m)
	for _, f := range filters {
		q = q.Where(clause.Eq{Column: clause.Column{Name: f.Field}, Value: f.Value})
	}

	rows, err := q.Order("created_at").Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := each(func(dst interface{}) error { return s.db.ScanRows(rows, dst) }); err != nil {
			return err
		}
	}
	return rows.Err()
}

// RunInTx 在数据库事务中执行 fn，暂存写入在 fn 成功后按顺序落库
func (s *Store) RunInTx(ctx context.Context, fn docstore.TxFunc) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u := &unit{tx: tx}
		if err := fn(ctx, u); err != nil {
			return &docstore.Aborted{Err: err}
		}

		for _, w := range u.Writes {
			if w.Delete {
				m, err := s.model(w.Ref.Collection)
				if err != nil {
					return err
				}
				if err := tx.Where("id = ?", w.Ref.ID).Delete(m).Error; err != nil {
					return fmt.Errorf("删除 %s 失败: %w", w.Ref, err)
				}
				continue
			}
			if err := tx.Save(w.Doc).Error; err != nil {
				return fmt.Errorf("写入 %s 失败: %w", w.Ref, err)
			}
		}
		return nil
	})
	return docstore.Classify(err)
}

// Close 关闭底层连接池
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type unit struct {
	docstore.Staging
	tx *gorm.DB
}

func (u *unit) Get(ctx context.Context, ref docstore.Ref, dst interface{}) error {
	err := u.tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", ref.ID).
		Take(dst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return docstore.ErrNotFound
	}
	return err
}
