// Package logger provides slog-based logging helpers shared across the worker.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
)

var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// Scope returns a slog attribute identifying the logging component
func Scope(name string) slog.Attr {
	return slog.String("scope", name)
}

// Error returns a slog attribute for an error value
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// NewLogger creates the process-wide slog logger.
// Level comes from LOG_LEVEL (debug|info|warn|error, default info).
// In production (GO_ENV=production) a JSON handler is used; otherwise text.
func NewLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	case "info":
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
