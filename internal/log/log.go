package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Setup 进程入口调用一次, 设置默认 logger
func Setup(logLevel string) *slog.Logger {
	return SetupWithWriter(os.Stderr, logLevel)
}

func SetupWithWriter(w io.Writer, logLevel string) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(logLevel),
	}))
	slog.SetDefault(logger)
	return logger
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
