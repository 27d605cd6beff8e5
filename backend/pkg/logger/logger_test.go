package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"qr-attendance/backend/config"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(&config.LogConfig{Level: "warn", Format: "console"})
	if err != nil {
		t.Fatalf("NewLogger 应成功: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("warn 级别不应输出 info 日志")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("warn 级别应输出 error 日志")
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger(&config.LogConfig{Level: "verbose", Format: "json"}); err == nil {
		t.Error("无效日志级别应返回错误")
	}
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	if _, err := NewLogger(&config.LogConfig{Level: "info", Format: "xml"}); err == nil {
		t.Error("未知日志格式应返回错误")
	}
}

func TestNewLogger_DefaultFormatIsJSON(t *testing.T) {
	logger, err := NewLogger(&config.LogConfig{Level: "debug"})
	if err != nil {
		t.Fatalf("空格式应按 JSON 处理: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug 级别应输出 debug 日志")
	}
}
