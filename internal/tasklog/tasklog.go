// Package tasklog writes a task's append-only log stream and progress.
package tasklog

import (
	"context"
	"fmt"
	"time"

	"github.com/taskdock/taskdock/internal/log"
	"github.com/taskdock/taskdock/internal/redact"
	"github.com/taskdock/taskdock/internal/storage"
	"github.com/taskdock/taskdock/internal/types"
)

// Logger appends structured log entries and progress updates for one task.
// Every message passes the redactor before it reaches storage. Log write
// failures are reported to the process logger and never interrupt the
// pipeline.
type Logger struct {
	store    storage.Storage
	taskID   string
	redactor *redact.Redactor
	logger   log.Logger
}

// Config holds the task logger configuration.
type Config struct {
	Store    storage.Storage
	TaskID   string
	Redactor *redact.Redactor
	Logger   log.Logger
}

func (c *Config) defaults() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.TaskID == "" {
		return fmt.Errorf("task id is required")
	}
	if c.Redactor == nil {
		c.Redactor = redact.New()
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "tasklog.Logger", "task": c.TaskID})
	return nil
}

// New creates a task logger bound to one task.
func New(cfg Config) (*Logger, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Logger{
		store:    cfg.Store,
		taskID:   cfg.TaskID,
		redactor: cfg.Redactor,
		logger:   cfg.Logger,
	}, nil
}

// Info appends an info entry.
func (l *Logger) Info(ctx context.Context, format string, args ...interface{}) {
	l.append(ctx, types.LogInfo, format, args...)
}

// Command appends a command entry.
func (l *Logger) Command(ctx context.Context, format string, args ...interface{}) {
	l.append(ctx, types.LogCommand, format, args...)
}

// Error appends an error entry.
func (l *Logger) Error(ctx context.Context, format string, args ...interface{}) {
	l.append(ctx, types.LogError, format, args...)
}

// Success appends a success entry.
func (l *Logger) Success(ctx context.Context, format string, args ...interface{}) {
	l.append(ctx, types.LogSuccess, format, args...)
}

// Progress writes a progress milestone. The storage layer keeps progress
// monotonic, late or duplicate writes with lower values are dropped there.
func (l *Logger) Progress(ctx context.Context, progress int) {
	if err := l.store.UpdateProgress(ctx, l.taskID, progress); err != nil {
		l.logger.Warningf("Failed to update progress to %d: %v", progress, err)
	}
}

// Redact exposes the logger's redactor for callers that persist text
// outside the log stream (e.g. the task error field).
func (l *Logger) Redact(s string) string {
	return l.redactor.Redact(s)
}

func (l *Logger) append(ctx context.Context, typ types.LogType, format string, args ...interface{}) {
	msg := l.redactor.Redact(fmt.Sprintf(format, args...))
	entry := &types.LogEntry{
		TaskID:    l.taskID,
		Type:      typ,
		Message:   msg,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.store.AppendLog(ctx, entry); err != nil {
		l.logger.Warningf("Failed to append %s log entry: %v", typ, err)
		return
	}
	l.logger.Debugf("[%s] %s", typ, msg)
}
