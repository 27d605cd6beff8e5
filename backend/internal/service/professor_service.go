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

// ProfessorService 教师管理业务接口
type ProfessorService interface {
	List(ctx context.Context, refresh bool) ([]model.Professor, error)
	GetByID(ctx context.Context, id string) (*model.Professor, error)
	Create(ctx context.Context, req *dto.CreateProfessorRequest) (*model.Professor, error)
	Update(ctx context.Context, id string, req *dto.UpdateProfessorRequest) (*model.Professor, error)
	Delete(ctx context.Context, id string) error
	// Courses 教师负责的课程
	Courses(ctx context.Context, professorID string) ([]model.Course, error)
}

type professorService struct {
	repo    *repository.Repository
	caches  *entityCaches
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewProfessorService 创建 ProfessorService 实例
func NewProfessorService(repo *repository.Repository, caches *entityCaches, logger *zap.Logger, m *metrics.Metrics) ProfessorService {
	return &professorService{repo: repo, caches: caches, logger: logger, metrics: m}
}

// ────────────────────── List / Get ──────────────────────

func (s *professorService) List(ctx context.Context, refresh bool) ([]model.Professor, error) {
	list, err := s.caches.professors.List(ctx, refresh)
	if err != nil {
		s.logger.Error("查询教师列表失败", zap.Error(err))
		return nil, err
	}
	return list, nil
}

func (s *professorService) GetByID(ctx context.Context, id string) (*model.Professor, error) {
	p, err := s.repo.Professor.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrProfessorNotFound
		}
		s.logger.Error("查询教师失败", zap.String("professor_id", id), zap.Error(err))
		return nil, err
	}
	return p, nil
}

// ────────────────────── Create ──────────────────────

func (s *professorService) Create(ctx context.Context, req *dto.CreateProfessorRequest) (*model.Professor, error) {
	email := normalizeEmail(req.Email)
	if err := s.ensureEmailFree(ctx, email, ""); err != nil {
		return nil, err
	}

	p := &model.Professor{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(req.Name),
		Email:      email,
		Department: strings.TrimSpace(req.Department),
		Courses:    model.IDSet{},
	}

	err := runRelTx(ctx, s.repo, s.caches, func(ctx context.Context, r *relTx) error {
		r.putProfessor(p)
		return nil
	})
	if err != nil {
		s.logger.Error("创建教师失败", zap.Error(err))
		return nil, txFailure("professor.create", err, s.logger, s.metrics)
	}

	s.logger.Info("创建教师", zap.String("professor_id", p.ID), zap.String("email", p.Email))
	return p, nil
}

// ────────────────────── Update ──────────────────────

func (s *professorService) Update(ctx context.Context, id string, req *dto.UpdateProfessorRequest) (*model.Professor, error) {
	if req.Email != nil {
		if err := s.ensureEmailFree(ctx, normalizeEmail(*req.Email), id); err != nil {
			return nil, err
		}
	}

	var updated model.Professor
	err := runRelTx(ctx, s.repo, s.caches, func(ctx context.Context, r *relTx) error {
		p, err := r.professor(ctx, id)
		if err != nil {
			return err
		}
		if req.Name != nil {
			p.Name = strings.TrimSpace(*req.Name)
		}
		if req.Email != nil {
			p.Email = normalizeEmail(*req.Email)
		}
		if req.Department != nil {
			p.Department = strings.TrimSpace(*req.Department)
		}
		if req.Courses != nil {
			if err := r.setProfessorCourses(ctx, p, model.NewIDSet(*req.Courses...)); err != nil {
				return err
			}
		}
		r.putProfessor(p)
		updated = *p
		return nil
	})
	if err != nil {
		return nil, s.writeFailure("professor.update", id, err)
	}
	return &updated, nil
}

// ────────────────────── Delete ──────────────────────

func (s *professorService) Delete(ctx context.Context, id string) error {
	pointing, err := s.repo.Course.ListByProfessor(ctx, id)
	if err != nil {
		s.logger.Error("查询教师课程失败", zap.String("professor_id", id), zap.Error(err))
		return err
	}
	courseIDs := make([]string, 0, len(pointing))
	for _, c := range pointing {
		courseIDs = append(courseIDs, c.ID)
	}

	err = runRelTx(ctx, s.repo, s.caches, func(ctx context.Context, r *relTx) error {
		return r.deleteProfessor(ctx, id, courseIDs)
	})
	if err != nil {
		return s.writeFailure("professor.delete", id, err)
	}

	s.logger.Info("删除教师", zap.String("professor_id", id))
	return nil
}

// ────────────────────── Courses ──────────────────────

func (s *professorService) Courses(ctx context.Context, professorID string) ([]model.Course, error) {
	courses, err := s.repo.Course.ListByProfessor(ctx, professorID)
	if err != nil {
		s.logger.Error("查询教师课程失败", zap.String("professor_id", professorID), zap.Error(err))
		return nil, err
	}
	return courses, nil
}

// ── 内部方法 ──

// ensureEmailFree 邮箱在教师集合中唯一；exceptID 为更新时的自身 ID
func (s *professorService) ensureEmailFree(ctx context.Context, email, exceptID string) error {
	hits, err := s.repo.Professor.ListByEmail(ctx, email)
	if err != nil {
		s.logger.Error("按邮箱查询教师失败", zap.Error(err))
		return err
	}
	for _, p := range hits {
		if p.ID != exceptID {
			return ErrEmailExists
		}
	}
	return nil
}

func (s *professorService) writeFailure(op, id string, err error) error {
	if isBusinessError(err) {
		return err
	}
	s.logger.Error("写入教师失败", zap.String("op", op), zap.String("professor_id", id), zap.Error(err))
	return txFailure(op, err, s.logger, s.metrics)
}
