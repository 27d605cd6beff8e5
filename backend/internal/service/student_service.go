package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qr-attendance/backend/internal/dto"
	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/internal/repository"
	"qr-attendance/backend/pkg/docstore"
	"qr-attendance/backend/pkg/metrics"
)

// StudentService 学生管理业务接口
type StudentService interface {
	List(ctx context.Context, refresh bool) ([]model.Student, error)
	GetByID(ctx context.Context, id string) (*model.Student, error)
	Create(ctx context.Context, req *dto.CreateStudentRequest) (*model.Student, error)
	Update(ctx context.Context, id string, req *dto.UpdateStudentRequest) (*model.Student, error)
	Delete(ctx context.Context, id string) error
	// Courses 学生已选的课程，已删除的课程跳过
	Courses(ctx context.Context, studentID string) ([]model.Course, error)
}

type studentService struct {
	repo    *repository.Repository
	caches  *entityCaches
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewStudentService 创建 StudentService 实例
func NewStudentService(repo *repository.Repository, caches *entityCaches, logger *zap.Logger, m *metrics.Metrics) StudentService {
	return &studentService{repo: repo, caches: caches, logger: logger, metrics: m}
}

func (s *studentService) List(ctx context.Context, refresh bool) ([]model.Student, error) {
	list, err := s.caches.students.List(ctx, refresh)
	if err != nil {
		s.logger.Error("查询学生列表失败", zap.Error(err))
		return nil, err
	}
	return list, nil
}

func (s *studentService) GetByID(ctx context.Context, id string) (*model.Student, error) {
	st, err := s.repo.Student.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrStudentNotFound
		}
		s.logger.Error("查询学生失败", zap.String("student_id", id), zap.Error(err))
		return nil, err
	}
	return st, nil
}

func (s *studentService) Create(ctx context.Context, req *dto.CreateStudentRequest) (*model.Student, error) {
	email := normalizeEmail(req.Email)
	if err := ensureStudentEmailFree(ctx, s.repo, email, ""); err != nil {
		if !errors.Is(err, ErrEmailExists) {
			s.logger.Error("按邮箱查询学生失败", zap.Error(err))
		}
		return nil, err
	}

	st := &model.Student{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		Email:     email,
		StudentID: strings.TrimSpace(req.StudentID),
		Courses:   model.IDSet{},
	}

	err := runRelTx(ctx, s.repo, s.caches, func(ctx context.Context, r *relTx) error {
		r.putStudent(st)
		return nil
	})
	if err != nil {
		return nil, s.writeFailure("student.create", st.ID, err)
	}

	s.logger.Info("创建学生", zap.String("student_id", st.ID), zap.String("email", st.Email))
	return st, nil
}

func (s *studentService) Update(ctx context.Context, id string, req *dto.UpdateStudentRequest) (*model.Student, error) {
	if req.Email != nil {
		if err := ensureStudentEmailFree(ctx, s.repo, normalizeEmail(*req.Email), id); err != nil {
			return nil, err
		}
	}

	var updated model.Student
	err := runRelTx(ctx, s.repo, s.caches, func(ctx context.Context, r *relTx) error {
		st, err := r.student(ctx, id)
		if err != nil {
			return err
		}
		if req.Name != nil {
			st.Name = strings.TrimSpace(*req.Name)
		}
		if req.Email != nil {
			st.Email = normalizeEmail(*req.Email)
		}
		if req.StudentID != nil {
			st.StudentID = strings.TrimSpace(*req.StudentID)
		}
		if req.Courses != nil {
			if err := r.setStudentCourses(ctx, st, model.NewIDSet(*req.Courses...)); err != nil {
				return err
			}
		}
		r.putStudent(st)
		updated = *st
		return nil
	})
	if err != nil {
		return nil, s.writeFailure("student.update", id, err)
	}
	return &updated, nil
}

func (s *studentService) Delete(ctx context.Context, id string) error {
	err := runRelTx(ctx, s.repo, s.caches, func(ctx context.Context, r *relTx) error {
		return r.deleteStudent(ctx, id)
	})
	if err != nil {
		return s.writeFailure("student.delete", id, err)
	}

	s.logger.Info("删除学生", zap.String("student_id", id))
	return nil
}

func (s *studentService) Courses(ctx context.Context, studentID string) ([]model.Course, error) {
	st, err := s.GetByID(ctx, studentID)
	if err != nil {
		return nil, err
	}

	courses := make([]model.Course, 0, len(st.Courses))
	for _, courseID := range st.Courses {
		c, err := s.repo.Course.GetByID(ctx, courseID)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error("查询课程失败", zap.String("course_id", courseID), zap.Error(err))
			return nil, err
		}
		courses = append(courses, *c)
	}
	return courses, nil
}

func (s *studentService) writeFailure(op, id string, err error) error {
	if isBusinessError(err) {
		return err
	}
	s.logger.Error("写入学生失败", zap.String("op", op), zap.String("student_id", id), zap.Error(err))
	return txFailure(op, err, s.logger, s.metrics)
}

// ensureStudentEmailFree 邮箱在学生集合中唯一；exceptID 为更新时的自身 ID
func ensureStudentEmailFree(ctx context.Context, repo *repository.Repository, email, exceptID string) error {
	hits, err := repo.Student.ListByEmail(ctx, email)
	if err != nil {
		return err
	}
	for _, st := range hits {
		if st.ID != exceptID {
			return ErrEmailExists
		}
	}
	return nil
}

// normalizeEmail 邮箱去除首尾空白并转为小写，存储与查询都使用该形式
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
