package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewDefault 创建输出到标准输出的 JSON 日志记录器。
func NewDefault(level string) *slog.Logger {
	return New(os.Stdout, level)
}

// New 创建写入 w 的 JSON 日志记录器。
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// ParseLevel 解析日志级别，未知取值按 info 处理。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
