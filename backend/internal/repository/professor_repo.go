package repository

import (
	"context"

	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/pkg/docstore"
)

// ProfessorRepository 教师数据访问接口
type ProfessorRepository interface {
	List(ctx context.Context) ([]model.Professor, error)
	GetByID(ctx context.Context, id string) (*model.Professor, error)
	ListByEmail(ctx context.Context, email string) ([]model.Professor, error)
}

// professorRepo ProfessorRepository 的文档存储实现
type professorRepo struct {
	store docstore.Backend
}

// NewProfessorRepo 创建 ProfessorRepository 实例
func NewProfessorRepo(store docstore.Backend) ProfessorRepository {
	return &professorRepo{store: store}
}

func (r *professorRepo) List(ctx context.Context) ([]model.Professor, error) {
	return docstore.QueryAll[model.Professor](ctx, r.store, model.CollectionProfessors)
}

func (r *professorRepo) GetByID(ctx context.Context, id string) (*model.Professor, error) {
	return getDoc[model.Professor](ctx, r.store, model.CollectionProfessors, id)
}

func (r *professorRepo) ListByEmail(ctx context.Context, email string) ([]model.Professor, error) {
	return docstore.QueryAll[model.Professor](ctx, r.store, model.CollectionProfessors, docstore.Eq("email", email))
}
