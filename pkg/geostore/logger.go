package geostore

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with store-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, nil))
}

// DefaultLogger wraps slog.Default().
func DefaultLogger() *Logger {
	return &Logger{Logger: slog.Default()}
}

// WithStore adds the store name to every record.
func (l *Logger) WithStore(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("store", name),
	}
}

// LogOpen logs a store open.
func (l *Logger) LogOpen(path string, readOnly bool, err error) {
	if err != nil {
		l.Error("open failed",
			"path", path,
			"error", err,
		)
	} else {
		l.Debug("open completed",
			"path", path,
			"read_only", readOnly,
		)
	}
}

// LogRebuild logs an index rebuild.
func (l *Logger) LogRebuild(kind FileKind, entries int, elapsed time.Duration, err error) {
	if err != nil {
		l.Error("index rebuild failed",
			"kind", kind.String(),
			"error", err,
		)
	} else {
		l.Info("index rebuilt",
			"kind", kind.String(),
			"entries", entries,
			"elapsed", elapsed,
		)
	}
}

// LogIndexUnusable logs an index a query cannot use.
func (l *Logger) LogIndexUnusable(kind FileKind, reason string, err error) {
	if err != nil {
		l.Warn("index unusable, falling back",
			"kind", kind.String(),
			"reason", reason,
			"error", err,
		)
	} else {
		l.Warn("index unusable, falling back",
			"kind", kind.String(),
			"reason", reason,
		)
	}
}

// LogCatalog logs a catalog build.
func (l *Logger) LogCatalog(root string, stores, failed int) {
	if failed > 0 {
		l.Warn("catalog built with failures",
			"root", root,
			"stores", stores,
			"failed", failed,
		)
	} else {
		l.Info("catalog built",
			"root", root,
			"stores", stores,
		)
	}
}
