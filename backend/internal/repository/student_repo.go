package repository

import (
	"context"

	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/pkg/docstore"
)

// StudentRepository 学生数据访问接口
type StudentRepository interface {
	List(ctx context.Context) ([]model.Student, error)
	GetByID(ctx context.Context, id string) (*model.Student, error)
	ListByEmail(ctx context.Context, email string) ([]model.Student, error)
}

// studentRepo StudentRepository 的文档存储实现
type studentRepo struct {
	store docstore.Backend
}

// NewStudentRepo 创建 StudentRepository 实例
func NewStudentRepo(store docstore.Backend) StudentRepository {
	return &studentRepo{store: store}
}

func (r *studentRepo) List(ctx context.Context) ([]model.Student, error) {
	return docstore.QueryAll[model.Student](ctx, r.store, model.CollectionStudents)
}

func (r *studentRepo) GetByID(ctx context.Context, id string) (*model.Student, error) {
	return getDoc[model.Student](ctx, r.store, model.CollectionStudents, id)
}

func (r *studentRepo) ListByEmail(ctx context.Context, email string) ([]model.Student, error) {
	return docstore.QueryAll[model.Student](ctx, r.store, model.CollectionStudents, docstore.Eq("email", email))
}
