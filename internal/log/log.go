// Package log is a thin structured-logging facade over log/slog with the
// key-value call style used across the codebase.
package log

import (
	"log/slog"
	"os"
	"strings"
)

var (
	level  = new(slog.LevelVar)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
)

// SetLevel sets the minimum level from its name ("debug", "info", "warn",
// "error"); unknown names leave the level at info.
func SetLevel(name string) {
	switch strings.ToLower(name) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

func Debug(msg string, kv ...any) {
	logger.Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	logger.Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	logger.Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	logger.Error(msg, append([]any{"err", err}, kv...)...)
}
