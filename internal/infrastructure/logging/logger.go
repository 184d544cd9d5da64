package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/draycott/haven-core/internal/infrastructure/config"
)

// Logger is a thin wrapper over slog.Logger. The wrapper exists so
// call sites depend on this package, not on slog directly, and so With
// keeps returning the wrapped type.
//
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from config. Every record carries the service
// name and build version so multi-service log streams stay separable.
func New(cfg config.LoggingConfig, version string) *Logger {
	handler := newHandler(cfg).WithAttrs([]slog.Attr{
		slog.String("service", "haven"),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// Default returns a stdout JSON logger at info level. Only for the
// window between process start and config load; everything after that
// uses New.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// With returns a logger that stamps the given key-value pairs on every
// record. Components take a child logger once at construction:
//
//	engine := automation.NewEngine(opts) // opts.Logger = log.With("component", "engine")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func newHandler(cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	out := outputWriter(cfg.Output)

	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

func outputWriter(name string) io.Writer {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// parseLevel maps a config string to a slog level. Unrecognised values
// fall back to info rather than failing startup.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
