package repository

import (
	"context"
	"sort"

	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/pkg/docstore"
)

// SessionRepository 签到场次台账数据访问接口
type SessionRepository interface {
	Save(ctx context.Context, s *model.CourseSession) error
	GetByID(ctx context.Context, id string) (*model.CourseSession, error)
	ListByCourse(ctx context.Context, courseID string) ([]model.CourseSession, error)
}

// sessionRepo SessionRepository 的文档存储实现
type sessionRepo struct {
	store docstore.Backend
}

// NewSessionRepo 创建 SessionRepository 实例
func NewSessionRepo(store docstore.Backend) SessionRepository {
	return &sessionRepo{store: store}
}

func (r *sessionRepo) Save(ctx context.Context, s *model.CourseSession) error {
	return r.store.Set(ctx, docstore.NewRef(model.CollectionSessions, s.ID), s)
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (*model.CourseSession, error) {
	return getDoc[model.CourseSession](ctx, r.store, model.CollectionSessions, id)
}

// ListByCourse 按签发时间正序返回课程的全部场次
func (r *sessionRepo) ListByCourse(ctx context.Context, courseID string) ([]model.CourseSession, error) {
	sessions, err := docstore.QueryAll[model.CourseSession](ctx, r.store, model.CollectionSessions, docstore.Eq("course_id", courseID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].IssuedAt.Before(sessions[j].IssuedAt)
	})
	return sessions, nil
}
