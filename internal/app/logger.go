package app

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns the process logger: JSON when LOG_FORMAT is "json",
// text otherwise, filtered at LOG_LEVEL.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: logLevel(cfg)}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(handler)
	if cfg != nil && cfg.AppEnv != "" {
		logger = logger.With(slog.String("env", cfg.AppEnv))
	}
	return logger
}

// logLevel parses LOG_LEVEL ("debug", "info", "warn", "error"), falling
// back to info.
func logLevel(cfg *Config) slog.Level {
	var level slog.Level
	if cfg == nil || level.UnmarshalText([]byte(cfg.LogLevel)) != nil {
		return slog.LevelInfo
	}
	return level
}
