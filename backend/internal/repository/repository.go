package repository

import (
	"context"

	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/pkg/docstore"
	"qr-attendance/backend/pkg/docstore/gormstore"
)

// Repository 所有 Repository 的聚合入口
type Repository struct {
	store docstore.Backend

	Professor  ProfessorRepository
	Student    StudentRepository
	Course     CourseRepository
	Attendance AttendanceRepository
	Session    SessionRepository
}

// NewRepository 创建 Repository 聚合
func NewRepository(store docstore.Backend) *Repository {
	return &Repository{
		store:      store,
		Professor:  NewProfessorRepo(store),
		Student:    NewStudentRepo(store),
		Course:     NewCourseRepo(store),
		Attendance: NewAttendanceRepo(store),
		Session:    NewSessionRepo(store),
	}
}

// RunInTx 在工作单元中执行 fn
// fn 返回 nil 时提交，返回错误时中止且原样返回；提交失败返回 *docstore.TxError
func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	return r.store.RunInTx(ctx, func(ctx context.Context, uow docstore.UnitOfWork) error {
		return fn(ctx, &Tx{uow: uow})
	})
}

// GormModels 集合名到 GORM 模型的映射，供 gormstore 使用
func GormModels() map[string]gormstore.ModelFactory {
	return map[string]gormstore.ModelFactory{
		model.CollectionProfessors: func() interface{} { return &model.Professor{} },
		model.CollectionStudents:   func() interface{} { return &model.Student{} },
		model.CollectionCourses:    func() interface{} { return &model.Course{} },
		model.CollectionAttendance: func() interface{} { return &model.AttendanceRecord{} },
		model.CollectionSessions:   func() interface{} { return &model.CourseSession{} },
	}
}

// ── 通用读取 ──

func getDoc[T any](ctx context.Context, store docstore.Backend, collection, id string) (*T, error) {
	var v T
	if err := store.Get(ctx, docstore.NewRef(collection, id), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func txGet[T any](ctx context.Context, uow docstore.UnitOfWork, collection, id string) (*T, error) {
	var v T
	if err := uow.Get(ctx, docstore.NewRef(collection, id), &v); err != nil {
		return nil, err
	}
	return &v, nil
}
