package raggo

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/raggo/model"
)

// Logger wraps slog.Logger with raggo-specific context.
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
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithSnapshot adds a snapshot field to the logger.
func (l *Logger) WithSnapshot(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("snapshot", id),
	}
}

// WithDocument adds a document field to the logger.
func (l *Logger) WithDocument(id model.DocumentID) *Logger {
	return &Logger{
		Logger: l.Logger.With("document", id),
	}
}

// WithK adds a k (result count) field to the logger.
func (l *Logger) WithK(k int) *Logger {
	return &Logger{
		Logger: l.Logger.With("k", k),
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogRebuild logs a rebuild operation.
func (l *Logger) LogRebuild(ctx context.Context, snapshot string, vectors int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rebuild failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "rebuild completed",
			"snapshot", snapshot,
			"vectors", vectors,
		)
	}
}

// LogSummarize logs a summarization operation.
func (l *Logger) LogSummarize(ctx context.Context, contexts int, err error) {
	if err != nil {
		l.WarnContext(ctx, "summarization failed",
			"contexts", contexts,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "summarization completed",
			"contexts", contexts,
		)
	}
}
