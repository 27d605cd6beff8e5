package service

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/pkg/docstore"
	pkgerrors "qr-attendance/backend/pkg/errors"
	"qr-attendance/backend/pkg/metrics"
)

// ── 跨模块业务错误 ──
// 各 NotFound 错误包装 pkgerrors.ErrNotFound，调用方可统一按 errors.Is 判断

var (
	ErrProfessorNotFound  = fmt.Errorf("教师%w", pkgerrors.ErrNotFound)
	ErrStudentNotFound    = fmt.Errorf("学生%w", pkgerrors.ErrNotFound)
	ErrCourseNotFound     = fmt.Errorf("课程%w", pkgerrors.ErrNotFound)
	ErrAttendanceNotFound = fmt.Errorf("签到%w", pkgerrors.ErrNotFound)

	ErrEmailExists    = errors.New("该邮箱已被使用")
	ErrNotCourseOwner = errors.New("只能操作自己负责的课程")
	ErrForbidden      = errors.New("无权访问该资源")
)

// Caller 当前请求的调用者，由中间件从 token 中解析
type Caller struct {
	ID   string
	Role string
}

// IsAdmin 是否为管理员
func (c Caller) IsAdmin() bool { return c.Role == model.RoleAdmin }

// notFoundAs 将存储层的 ErrNotFound 转换为具体实体的业务错误
func notFoundAs(err error, target error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return target
	}
	return err
}

// txFailure 将提交失败转换为 TransactionError 并记录；其他错误原样返回
func txFailure(op string, err error, logger *zap.Logger, m *metrics.Metrics) error {
	var txErr *docstore.TxError
	if !errors.As(err, &txErr) {
		return err
	}
	logger.Error("提交事务失败", zap.String("op", op), zap.Error(txErr.Err))
	m.ObserveTxFailure(op)
	return &pkgerrors.TransactionError{Op: op, Err: txErr.Err}
}

// isBusinessError 业务规则拒绝（而非存储故障），无需再记录或转换
func isBusinessError(err error) bool {
	if pkgerrors.IsValidation(err) {
		return true
	}
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var businessErrors = []error{
	pkgerrors.ErrNotFound,
	ErrEmailExists,
	ErrNotCourseOwner,
	ErrForbidden,
}
