package errors

import (
	"errors"
	"fmt"
)

// 跨模块共享的错误分类，各 Service 的哨兵错误通过 %w 包装这些基础错误
var (
	// ErrNotFound 引用的文档不存在
	ErrNotFound = errors.New("记录不存在")
	// ErrUserNotFound 登录时角色集合中不存在该邮箱
	ErrUserNotFound = errors.New("用户不存在")
	// ErrLoginFailed 登录查询失败（存储不可达等）
	ErrLoginFailed = errors.New("登录失败")
	// ErrInvalidQRFormat 二维码内容无法解析或来源主机不匹配
	ErrInvalidQRFormat = errors.New("二维码格式无效")
	// ErrInvalidQRData 二维码缺少 courseId / sessionId
	ErrInvalidQRData = errors.New("二维码数据无效")
)

// ValidationError 表单或参数校验失败
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError 创建 ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation 判断 err 链中是否包含 ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransactionError 多文档原子写入被中止
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("事务 %s 提交失败: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// IsTransaction 判断 err 链中是否包含 TransactionError
func IsTransaction(err error) bool {
	var te *TransactionError
	return errors.As(err, &te)
}
