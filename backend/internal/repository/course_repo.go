package repository

import (
	"context"

	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/pkg/docstore"
)

// CourseRepository 课程数据访问接口
type CourseRepository interface {
	List(ctx context.Context) ([]model.Course, error)
	GetByID(ctx context.Context, id string) (*model.Course, error)
	ListByProfessor(ctx context.Context, professorID string) ([]model.Course, error)
}

// courseRepo CourseRepository 的文档存储实现
type courseRepo struct {
	store docstore.Backend
}

// NewCourseRepo 创建 CourseRepository 实例
func NewCourseRepo(store docstore.Backend) CourseRepository {
	return &courseRepo{store: store}
}

func (r *courseRepo) List(ctx context.Context) ([]model.Course, error) {
	return docstore.QueryAll[model.Course](ctx, r.store, model.CollectionCourses)
}

func (r *courseRepo) GetByID(ctx context.Context, id string) (*model.Course, error) {
	return getDoc[model.Course](ctx, r.store, model.CollectionCourses, id)
}

func (r *courseRepo) ListByProfessor(ctx context.Context, professorID string) ([]model.Course, error) {
	return docstore.QueryAll[model.Course](ctx, r.store, model.CollectionCourses, docstore.Eq("professor_id", professorID))
}
