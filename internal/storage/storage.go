package storage

import (
	"context"

	"github.com/taskdock/taskdock/internal/storage/sqlite"
	"github.com/taskdock/taskdock/internal/types"
)

// Storage defines the interface for task persistence backends.
//
// Implementations must support safe concurrent access: every write is a
// single atomic per-task update, and log reads always observe entries in
// generation order.
type Storage interface {
	// Tasks
	CreateTask(ctx context.Context, task *types.Task) error
	GetTask(ctx context.Context, id string) (*types.Task, error)
	ListTasks(ctx context.Context) ([]*types.Task, error)
	DeleteTasksByStatus(ctx context.Context, statuses ...types.TaskStatus) (int, error)

	// Status transitions. MarkProcessing only applies from pending.
	// MarkCompleted, MarkError and MarkStopped only apply while the task
	// is still active, so a stop that already landed is never overwritten
	// by a racing error path. Each returns whether the write applied.
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkCompleted(ctx context.Context, id string) (bool, error)
	MarkError(ctx context.Context, id string, message string) (bool, error)
	MarkStopped(ctx context.Context, id string) (bool, error)

	// Field updates
	UpdateProgress(ctx context.Context, id string, progress int) error
	SetSandboxURL(ctx context.Context, id string, url string) error

	// SetBranchNameIfEmpty atomically sets the branch name only when no
	// name has been persisted yet (compare-and-set, first writer wins).
	// Returns whether this call won the write.
	SetBranchNameIfEmpty(ctx context.Context, id string, branch string) (bool, error)

	// Stop flag (cooperative cancellation)
	RequestStop(ctx context.Context, id string) error
	StopRequested(ctx context.Context, id string) (bool, error)

	// Task log stream (append-only)
	AppendLog(ctx context.Context, entry *types.LogEntry) error
	GetLogs(ctx context.Context, taskID string) ([]*types.LogEntry, error)

	// Lifecycle
	Close() error
}

// Config holds database configuration.
type Config struct {
	// Path is the SQLite database file path.
	// Special value ":memory:" creates an in-memory database (useful for tests).
	Path string
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Path: ".taskdock/taskdock.db",
	}
}

// NewStorage creates a new SQLite storage backend.
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = ".taskdock/taskdock.db"
	}

	return sqlite.New(cfg.Path)
}
