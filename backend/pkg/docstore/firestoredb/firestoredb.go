// Package firestoredb 基于 Cloud Firestore 的文档存储后端
//
// 文档字段使用 camelCase（模型上的 firestore tag），过滤条件中的
// snake_case 字段名在查询前转换。
package firestoredb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"qr-attendance/backend/config"
	"qr-attendance/backend/pkg/docstore"
)

// Store Firestore 文档存储
type Store struct {
	client *firestore.Client
}

var _ docstore.Backend = (*Store)(nil)

// New 通过 Firebase Admin SDK 初始化 Firestore 客户端
// 客户端在整个进程生命周期内复用，凭据刷新依赖构造时的 context，因此不接受调用方的 ctx；
// 启动时的连通性检查与超时由 Ping 负责
func New(cfg *config.FirestoreConfig) (*Store, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	ctx := context.Background()
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("初始化 Firebase 应用失败: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("初始化 Firestore 客户端失败: %w", err)
	}

	return &Store{client: client}, nil
}

// Ping 读取一个探测文档确认连通，文档不存在视为成功
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.Collection(pingCollection).Doc("ping").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("Firestore 连通性检查失败: %w", err)
	}
	return nil
}

const pingCollection = "_health"

// NewWithClient 使用已有客户端创建存储（集成测试连接模拟器时使用）
func NewWithClient(client *firestore.Client) *Store {
	return &Store{client: client}
}

func (s *Store) doc(ref docstore.Ref) *firestore.DocumentRef {
	return s.client.Collection(ref.Collection).Doc(ref.ID)
}

// Get 读取单个文档
func (s *Store) Get(ctx context.Context, ref docstore.Ref, dst interface{}) error {
	snap, err := s.doc(ref).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return docstore.ErrNotFound
		}
		return err
	}
	return snap.DataTo(dst)
}

// Set 写入单个文档
func (s *Store) Set(ctx context.Context, ref docstore.Ref, doc interface{}) error {
	_, err := s.doc(ref).Set(ctx, doc)
	return err
}

// Query 按等值条件遍历集合
func (s *Store) Query(ctx context.Context, collection string, filters []docstore.Filter, each func(decode docstore.Decoder) error) error {
	q := s.client.Collection(collection).Query
	for _, f := range filters {
		q = q.Where(FieldPath(f.Field), "==", f.Value)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := each(snap.DataTo); err != nil {
			return err
		}
	}
}

// RunInTx 在 Firestore 事务中执行 fn
// Firestore 要求事务内所有读取先于写入，暂存写入在 fn 返回后统一提交；
// 发生争用时 Firestore 会重新执行回调，每次执行使用新的暂存区
func (s *Store) RunInTx(ctx context.Context, fn docstore.TxFunc) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		u := &unit{store: s, tx: tx}
		if err := fn(ctx, u); err != nil {
			return &docstore.Aborted{Err: err}
		}

		for _, w := range u.Writes {
			if w.Delete {
				if err := tx.Delete(s.doc(w.Ref)); err != nil {
					return err
				}
				continue
			}
			if err := tx.Set(s.doc(w.Ref), w.Doc); err != nil {
				return err
			}
		}
		return nil
	})
	return docstore.Classify(err)
}

// Close 关闭 Firestore 客户端
func (s *Store) Close() error {
	return s.client.Close()
}

type unit struct {
	docstore.Staging
	store *Store
	tx    *firestore.Transaction
}

func (u *unit) Get(ctx context.Context, ref docstore.Ref, dst interface{}) error {
	snap, err := u.tx.Get(u.store.doc(ref))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return docstore.ErrNotFound
		}
		return err
	}
	return snap.DataTo(dst)
}

// FieldPath 将 snake_case 字段名转换为文档中的 camelCase 字段名
func FieldPath(field string) string {
	parts := strings.Split(field, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
