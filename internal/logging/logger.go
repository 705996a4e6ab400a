// Package logging provides structured logging for maestro sessions.
// It wraps log/slog with JSON output to a per-session debug log and
// child loggers carrying the session, task and phase attributes.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels accepted by NewLogger. They match the values the config
// validator allows for logging.level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Logger is a slog-backed structured logger. Child loggers created with
// the With* methods share the underlying log file; closing any of them
// closes it for all.
type Logger struct {
	logger *slog.Logger
	out    *logOutput
}

// logOutput owns the log file so every child logger closes the same
// handle exactly once.
type logOutput struct {
	mu   sync.Mutex
	file *os.File
}

// NewLogger creates a Logger writing JSON lines to {sessionDir}/debug.log.
// An empty sessionDir logs to stderr instead. The level string filters
// messages below it; unrecognized levels fall back to info.
func NewLogger(sessionDir string, level string) (*Logger, error) {
	var writer io.Writer = os.Stderr
	out := &logOutput{}

	if sessionDir != "" {
		if err := os.MkdirAll(sessionDir, 0755); err != nil {
			return nil, fmt.Errorf("create session directory: %w", err)
		}
		file, err := os.OpenFile(filepath.Join(sessionDir, "debug.log"),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out.file = file
		writer = file
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Logger{logger: slog.New(handler), out: out}, nil
}

// parseLevel maps a config level string to a slog.Level, defaulting to
// info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithSession returns a child logger carrying the session name.
func (l *Logger) WithSession(sessionName string) *Logger {
	return l.child(l.logger.With("session", sessionName))
}

// WithTask returns a child logger carrying the task id.
func (l *Logger) WithTask(taskID string) *Logger {
	return l.child(l.logger.With("task_id", taskID))
}

// WithPhase returns a child logger carrying the loop phase, one of
// "dispatch", "review", "consolidate" or "sync".
func (l *Logger) WithPhase(phase string) *Logger {
	return l.child(l.logger.With("phase", phase))
}

// With returns a child logger carrying arbitrary alternating key-value
// attributes.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	return l.child(l.logger.With(args...))
}

func (l *Logger) child(sl *slog.Logger) *Logger {
	return &Logger{logger: sl, out: l.out}
}

// Debug logs at debug level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info logs at info level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn logs at warn level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error logs at error level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelError, msg, args...)
}

// Close flushes and closes the log file. Safe to call more than once;
// a stderr logger has nothing to close.
func (l *Logger) Close() error {
	if l.out == nil {
		return nil
	}
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.file == nil {
		return nil
	}
	if err := l.out.file.Sync(); err != nil {
		return fmt.Errorf("sync log file: %w", err)
	}
	if err := l.out.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	l.out.file = nil
	return nil
}

// NopLogger returns a Logger that discards all output.
func NopLogger() *Logger {
	return &Logger{logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}
