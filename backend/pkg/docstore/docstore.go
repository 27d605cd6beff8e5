// Package docstore 定义文档存储的最小抽象：按集合 + ID 读写文档、等值查询，
// 以及显式的工作单元（读取 / 暂存写入 / 提交或中止）。
//
// 具体后端：
//   - gormstore   PostgreSQL（行锁事务）
//   - firestoredb Cloud Firestore（RunTransaction）
//   - memstore    进程内存（测试与本地开发）
package docstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound 文档不存在
var ErrNotFound = errors.New("文档不存在")

// Ref 文档引用
type Ref struct {
	Collection string
	ID         string
}

// NewRef 创建文档引用
func NewRef(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// Filter 等值过滤条件，Field 使用 snake_case 字段名
type Filter struct {
	Field string
	Value interface{}
}

// Eq 创建等值过滤条件
func Eq(field string, value interface{}) Filter {
	return Filter{Field: field, Value: value}
}

// Decoder 将当前文档解码到 dst（指向模型结构体的指针）
type Decoder func(dst interface{}) error

// UnitOfWork 工作单元
//
// 设计说明：
//   - Get 读取的是事务开始时已提交的状态，暂存的写入在提交前不可见
//   - Set / Delete 只暂存，不立即落库
//   - 由 Backend.RunInTx 决定提交或中止
type UnitOfWork interface {
	// Get 读取文档，不存在时返回 ErrNotFound
	Get(ctx context.Context, ref Ref, dst interface{}) error
	// Set 暂存整文档写入（新建或覆盖）
	Set(ref Ref, doc interface{})
	// Delete 暂存删除
	Delete(ref Ref)
}

// TxFunc 工作单元回调
type TxFunc func(ctx context.Context, uow UnitOfWork) error

// Backend 文档存储后端
type Backend interface {
	// Get 读取单个文档，不存在时返回 ErrNotFound
	Get(ctx context.Context, ref Ref, dst interface{}) error
	// Set 写入单个文档（新建或覆盖）
	Set(ctx context.Context, ref Ref, doc interface{}) error
	// Query 按等值条件遍历集合，each 返回错误时中止遍历
	Query(ctx context.Context, collection string, filters []Filter, each func(decode Decoder) error) error
	// RunInTx 在工作单元中执行 fn：fn 返回 nil 时提交暂存写入，否则中止并原样返回 fn 的错误；
	// 提交失败返回 *TxError
	RunInTx(ctx context.Context, fn TxFunc) error
	// Close 释放底层连接
	Close() error
}

// TxError 工作单元提交失败
type TxError struct {
	Err error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("事务提交失败: %v", e.Err)
}

func (e *TxError) Unwrap() error {
	return e.Err
}

// QueryAll 查询集合并解码为 []T
func QueryAll[T any](ctx context.Context, b Backend, collection string, filters ...Filter) ([]T, error) {
	out := make([]T, 0)
	err := b.Query(ctx, collection, filters, func(decode Decoder) error {
		var v T
		if err := decode(&v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Aborted 包装 fn 返回的业务错误，用于后端区分“主动中止”与“提交失败”
type Aborted struct {
	Err error
}

func (e *Aborted) Error() string {
	return e.Err.Error()
}

func (e *Aborted) Unwrap() error {
	return e.Err
}

// Classify 将后端事务执行结果归类：主动中止返回业务错误本身，其余视为提交失败
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var aborted *Aborted
	if errors.As(err, &aborted) {
		return aborted.Err
	}
	return &TxError{Err: err}
}

// Write 一次暂存写入
type Write struct {
	Ref    Ref
	Doc    interface{}
	Delete bool
}

// Staging 工作单元暂存区，由各后端嵌入复用
type Staging struct {
	Writes []Write
}

// Set 暂存写入
func (s *Staging) Set(ref Ref, doc interface{}) {
	s.Writes = append(s.Writes, Write{Ref: ref, Doc: doc})
}

// Delete 暂存删除
func (s *Staging) Delete(ref Ref) {
	s.Writes = append(s.Writes, Write{Ref: ref, Delete: true})
}
