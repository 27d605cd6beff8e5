package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"qr-attendance/backend/config"
	"qr-attendance/backend/internal/dto"
	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/internal/repository"
	pkgerrors "qr-attendance/backend/pkg/errors"
	"qr-attendance/backend/pkg/metrics"
)

// ImportError 导入校验失败，包含全部出错的行
type ImportError struct {
	Rows []dto.ImportRowError
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("导入文件有 %d 行数据无效", len(e.Rows))
}

// ImportService 批量导入业务接口
type ImportService interface {
	// ImportStudents 从 xlsx 第一个工作表导入学生；任一行无效则整体失败，不写入任何数据
	ImportStudents(ctx context.Context, data []byte) (*dto.ImportStudentsResponse, error)
}

type importService struct {
	cfg      *config.ImportConfig
	repo     *repository.Repository
	caches   *entityCaches
	validate *validator.Validate
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewImportService 创建 ImportService 实例
func NewImportService(cfg *config.ImportConfig, repo *repository.Repository, caches *entityCaches, logger *zap.Logger, m *metrics.Metrics) ImportService {
	return &importService{
		cfg:      cfg,
		repo:     repo,
		caches:   caches,
		validate: validator.New(),
		logger:   logger,
		metrics:  m,
	}
}

// 表头列名，比较时忽略大小写、空格与下划线
const (
	headerName      = "name"
	headerEmail     = "email"
	headerStudentID = "studentid"
)

func (s *importService) ImportStudents(ctx context.Context, data []byte) (*dto.ImportStudentsResponse, error) {
	// 1. 读取工作表
	rows, err := readFirstSheet(data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, pkgerrors.NewValidationError("file", "文件为空")
	}

	// 2. 表头
	index, err := headerIndex(rows[0])
	if err != nil {
		return nil, err
	}

	// 3. 逐行校验，收集全部错误
	existing, err := s.repo.Student.List(ctx)
	if err != nil {
		s.logger.Error("查询学生列表失败", zap.Error(err))
		return nil, err
	}
	taken := make(map[string]bool, len(existing))
	for _, st := range existing {
		taken[normalizeEmail(st.Email)] = true
	}

	var (
		students []*model.Student
		bad      []dto.ImportRowError
	)
	for i, row := range rows[1:] {
		rowNum := i + 2
		name := cellAt(row, index[headerName])
		email := cellAt(row, index[headerEmail])
		studentID := cellAt(row, index[headerStudentID])
		if name == "" && email == "" && studentID == "" {
			continue
		}

		switch {
		case name == "":
			bad = append(bad, dto.ImportRowError{Row: rowNum, Reason: "姓名为空"})
			continue
		case studentID == "":
			bad = append(bad, dto.ImportRowError{Row: rowNum, Reason: "学号为空"})
			continue
		case s.validate.Var(email, "required,email") != nil:
			bad = append(bad, dto.ImportRowError{Row: rowNum, Reason: fmt.Sprintf("邮箱格式无效: %q", email)})
			continue
		case taken[normalizeEmail(email)]:
			bad = append(bad, dto.ImportRowError{Row: rowNum, Reason: fmt.Sprintf("邮箱已存在: %s", email)})
			continue
		}
		email = normalizeEmail(email)
		taken[email] = true

		students = append(students, &model.Student{
			ID:        uuid.NewString(),
			Name:      name,
			Email:     email,
			StudentID: studentID,
			Courses:   model.IDSet{},
		})
	}

	if len(bad) > 0 {
		return nil, &ImportError{Rows: bad}
	}
	if len(students) == 0 {
		return nil, pkgerrors.NewValidationError("file", "没有可导入的数据")
	}
	if limit := s.cfg.MaxRows; limit > 0 && len(students) > limit {
		return nil, pkgerrors.NewValidationError("file", fmt.Sprintf("单次最多导入 %d 行", limit))
	}

	// 4. 单个工作单元内全部写入
	err = runRelTx(ctx, s.repo, s.caches, func(ctx context.Context, r *relTx) error {
		for _, st := range students {
			r.putStudent(st)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("导入学生失败", zap.Int("count", len(students)), zap.Error(err))
		return nil, txFailure("student.import", err, s.logger, s.metrics)
	}

	created := make([]model.Student, 0, len(students))
	for _, st := range students {
		created = append(created, *st)
	}
	s.logger.Info("导入学生", zap.Int("count", len(created)))
	return &dto.ImportStudentsResponse{Total: len(created), Created: created}, nil
}

// ── 表格解析 ──

func readFirstSheet(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, pkgerrors.NewValidationError("file", "无法解析 xlsx 文件")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, pkgerrors.NewValidationError("file", "文件不包含工作表")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, pkgerrors.NewValidationError("file", "读取工作表失败")
	}
	return rows, nil
}

func headerIndex(header []string) (map[string]int, error) {
	index := map[string]int{headerName: -1, headerEmail: -1, headerStudentID: -1}
	for i, h := range header {
		key := strings.ToLower(strings.NewReplacer(" ", "", "_", "").Replace(strings.TrimSpace(h)))
		if pos, ok := index[key]; ok && pos < 0 {
			index[key] = i
		}
	}

	var missing []string
	for _, col := range []string{headerName, headerEmail, headerStudentID} {
		if index[col] < 0 {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, pkgerrors.NewValidationError("header", "缺少列: "+strings.Join(missing, ", "))
	}
	return index, nil
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
