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

// CourseService 课程管理业务接口
type CourseService interface {
	List(ctx context.Context, refresh bool) ([]model.Course, error)
	GetByID(ctx context.Context, id string) (*model.Course, error)
	Create(ctx context.Context, req *dto.CreateCourseRequest) (*model.Course, error)
	Update(ctx context.Context, id string, req *dto.UpdateCourseRequest) (*model.Course, error)
	Delete(ctx context.Context, id string) error

	AssignStudent(ctx context.Context, courseID, studentID string) error
	UnassignStudent(ctx context.Context, courseID, studentID string) error
	AssignProfessor(ctx context.Context, courseID, professorID string) error
	UnassignProfessor(ctx context.Context, courseID string) error

	// Authorize 管理员可访问任意课程，教师只能访问自己负责的课程
	Authorize(ctx context.Context, caller Caller, courseID string) (*model.Course, error)
	// Students 课程已选学生，已删除的学生跳过
	Students(ctx context.Context, courseID string) ([]model.Student, error)
}

type courseService struct {
	repo    *repository.Repository
	caches  *entityCaches
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewCourseService 创建 CourseService 实例
func NewCourseService(repo *repository.Repository, caches *entityCaches, logger *zap.Logger, m *metrics.Metrics) CourseService {
	return &courseService{repo: repo, caches: caches, logger: logger, metrics: m}
}

// ────────────────────── CRUD ──────────────────────

func (s *courseService) List(ctx context.Context, refresh bool) ([]model.Course, error) {
	list, err := s.caches.courses.List(ctx, refresh)
	if err != nil {
		s.logger.Error("查询课程列表失败", zap.Error(err))
		return nil, err
	}
	return list, nil
}

func (s *courseService) GetByID(ctx context.Context, id string) (*model.Course, error) {
	c, err := s.repo.Course.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrCourseNotFound
		}
		s.logger.Error("查询课程失败", zap.String("course_id", id), zap.Error(err))
		return nil, err
	}
	return c, nil
}

func (s *courseService) Create(ctx context.Context, req *dto.CreateCourseRequest) (*model.Course, error) {
	c := &model.Course{
		ID:       uuid.NewString(),
		Name:     strings.TrimSpace(req.Name),
		Code:     strings.TrimSpace(req.Code),
		Students: model.IDSet{},
	}

	err := runRelTx(ctx, s.repo, s.caches, func(ctx context.Context, r *relTx) error {
		r.putCourse(c)
		return nil
	})
	if err != nil {
		return nil, s.writeFailure("course.create", c.ID, err)
	}

	s.logger.Info("创建课程", zap.String("course_id", c.ID), zap.String("code", c.Code))
	return c, nil
}

func (s *courseService) Update(ctx context.Context, id string, req *dto.UpdateCourseRequest) (*model.Course, error) {
	var updated model.Course
	err := runRelTx(ctx, s.repo, s.caches, func(ctx context.Context, r *relTx) error {
		c, err := r.course(ctx, id)
		if err != nil {
			return err
		}
		if req.Name != nil {
			c.Name = strings.TrimSpace(*req.Name)
		}
		if req.Code != nil {
			c.Code = strings.TrimSpace(*req.Code)
		}
		if req.ProfessorID != nil {
			next := strings.TrimSpace(*req.ProfessorID)
			switch {
			case next == "":
				err = r.unlinkProfessor(ctx, id)
			case next != c.ProfessorID:
				err = r.linkProfessor(ctx, id, next)
			}
			if err != nil {
				return err
			}
		}
		if req.Students != nil {
			if err := r.setCourseStudents(ctx, c, model.NewIDSet(*req.Students...)); err != nil {
				return err
			}
		}
		r.putCourse(c)
		updated = *c
		return nil
	})
	if err != nil {
		return nil, s.writeFailure("course.update", id, err)
	}
	return &updated, nil
}

func (s *courseService) Delete(ctx context.Context, id string) error {
	err := runRelTx(ctx, s.repo, s.caches, func(ctx context.Context, r *relTx) error {
		return r.deleteCourse(ctx, id)
	})
	if err != nil {
		return s.writeFailure("course.delete", id, err)
	}

	s.logger.Info("删除课程", zap.String("course_id", id))
	return nil
}

// ────────────────────── 关系 ──────────────────────

func (s *courseService) AssignStudent(ctx context.Context, courseID, studentID string) error {
	err := runRelTx(ctx, s.repo, s.caches, func(ctx context.Context, r *relTx) error {
		return r.enroll(ctx, courseID, studentID)
	})
	if err != nil {
		return s.writeFailure("course.assign_student", courseID, err)
	}
	return nil
}

func (s *courseService) UnassignStudent(ctx context.Context, courseID, studentID string) error {
	err := runRelTx(ctx, s.repo, s.caches, func(ctx context.Context, r *relTx) error {
		return r.unenroll(ctx, courseID, studentID)
	})
	if err != nil {
		return s.writeFailure("course.unassign_student", courseID, err)
	}
	return nil
}

func (s *courseService) AssignProfessor(ctx context.Context, courseID, professorID string) error {
	err := runRelTx(ctx, s.repo, s.caches, func(ctx context.Context, r *relTx) error {
		return r.linkProfessor(ctx, courseID, professorID)
	})
	if err != nil {
		return s.writeFailure("course.assign_professor", courseID, err)
	}
	s.logger.Info("分配课程教师", zap.String("course_id", courseID), zap.String("professor_id", professorID))
	return nil
}

func (s *courseService) UnassignProfessor(ctx context.Context, courseID string) error {
	err := runRelTx(ctx, s.repo, s.caches, func(ctx context.Context, r *relTx) error {
		return r.unlinkProfessor(ctx, courseID)
	})
	if err != nil {
		return s.writeFailure("course.unassign_professor", courseID, err)
	}
	return nil
}

// ────────────────────── 门户读取 ──────────────────────

func (s *courseService) Authorize(ctx context.Context, caller Caller, courseID string) (*model.Course, error) {
	c, err := s.GetByID(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeCourse(caller, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *courseService) Students(ctx context.Context, courseID string) ([]model.Student, error) {
	c, err := s.GetByID(ctx, courseID)
	if err != nil {
		return nil, err
	}

	students := make([]model.Student, 0, len(c.Students))
	for _, studentID := range c.Students {
		st, err := s.repo.Student.GetByID(ctx, studentID)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error("查询学生失败", zap.String("student_id", studentID), zap.Error(err))
			return nil, err
		}
		students = append(students, *st)
	}
	return students, nil
}

func (s *courseService) writeFailure(op, id string, err error) error {
	if isBusinessError(err) {
		return err
	}
	s.logger.Error("写入课程失败", zap.String("op", op), zap.String("course_id", id), zap.Error(err))
	return txFailure(op, err, s.logger, s.metrics)
}

// authorizeCourse 管理员放行；教师须为课程负责人；其他角色拒绝
func authorizeCourse(caller Caller, c *model.Course) error {
	switch caller.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleProfessor:
		if c.ProfessorID == caller.ID {
			return nil
		}
		return ErrNotCourseOwner
	default:
		return ErrForbidden
	}
}
