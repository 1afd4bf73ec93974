package sqldir

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with sqldir-specific context.
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

// NewJSONLogger creates a Logger that writes JSON-formatted logs to w,
// or to stderr if w is nil. level sets the minimum log level.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that writes human-readable text logs to w,
// or to stderr if w is nil.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithTable adds a table field to the logger.
func (l *Logger) WithTable(table string) *Logger {
	return &Logger{
		Logger: l.Logger.With("table", table),
	}
}

// WithGeneration adds a commit generation field to the logger.
func (l *Logger) WithGeneration(gen int64) *Logger {
	return &Logger{
		Logger: l.Logger.With("generation", gen),
	}
}

// LogOpen logs opening a store.
func (l *Logger) LogOpen(ctx context.Context, commits int, retention, merge string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "store opened",
			"commits", commits,
			"retention", retention,
			"merge", merge,
		)
	}
}

// LogCommit logs a commit.
func (l *Logger) LogCommit(ctx context.Context, gen int64, files int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"files", files,
			"error", err,
		)
	} else {
		l.WithGeneration(gen).InfoContext(ctx, "commit completed",
			"files", files,
		)
	}
}

// LogMerges logs a merge selection.
func (l *Logger) LogMerges(ctx context.Context, segments, merges int) {
	if merges == 0 {
		l.DebugContext(ctx, "no merges selected",
			"segments", segments,
		)
	} else {
		l.InfoContext(ctx, "merges selected",
			"segments", segments,
			"merges", merges,
		)
	}
}

// LogPurge logs removal of soft-deleted files.
func (l *Logger) LogPurge(ctx context.Context, removed int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "purge failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "purge completed",
			"removed", removed,
		)
	}
}

// LogClose logs closing a store.
func (l *Logger) LogClose(ctx context.Context, err error) {
	if err != nil {
		l.WarnContext(ctx, "close completed with errors",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "store closed")
	}
}
