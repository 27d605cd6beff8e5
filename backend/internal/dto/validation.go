package dto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators 向 gin 的校验引擎注册自定义规则，启动时调用一次
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin 校验引擎不是 validator/v10")
	}
	return v.RegisterValidation("notblank", notBlank)
}

// notBlank 去除首尾空白后非空
func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// DescribeBindError 将绑定错误转换为可读的字段说明
func DescribeBindError(err error) string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return ""
	}
	parts := make([]string, 0, len(ves))
	for _, fe := range ves {
		parts = append(parts, fmt.Sprintf("%s 不满足 %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
