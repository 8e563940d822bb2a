package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"routelimit/internal/handler/http/requestid"
	"routelimit/pkg/config"
)

// Config configures New.
type Config struct {
	// Level is one of debug, info, warn or error. Anything else means info.
	Level string

	// Format is "json" or "text". Default: json
	Format string

	// Output defaults to os.Stdout.
	Output io.Writer
}

// NewLogger creates a logger from the LOG_LEVEL and LOG_FORMAT environment
// variables.
func NewLogger() *slog.Logger {
	return New(Config{
		Level:  config.GetEnvString("LOG_LEVEL", "info"),
		Format: config.GetEnvString("LOG_FORMAT", "json"),
	})
}

// New creates a structured logger. Source locations are added at debug
// level only.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// WithRequestID returns a new logger that includes the request ID from the context.
func WithRequestID(ctx context.Context, logger *slog.Logger) *slog.Logger {
	reqID := requestid.FromContext(ctx)
	if reqID == "" {
		return logger
	}
	return logger.With(slog.String("request_id", reqID))
}
