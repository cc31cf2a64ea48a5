package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/taskdock/taskdock/internal/types"
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// New creates a new SQLite storage backend.
func New(path string) (*SQLiteStorage, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// WAL mode for better concurrency between the creation path and the
	// detached processing goroutines.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateTask inserts a new task record.
func (s *SQLiteStorage) CreateTask(ctx context.Context, task *types.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, prompt, repo_url, agent, model, install_deps, max_duration,
			status, progress, error, branch_name, sandbox_url, stop_requested,
			created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Prompt, task.RepoURL, string(task.Agent), task.Model,
		boolToInt(task.InstallDeps), task.MaxDuration, string(task.Status),
		task.Progress, task.Error, task.BranchName, task.SandboxURL,
		boolToInt(task.StopRequested), task.CreatedAt, task.UpdatedAt, task.CompletedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("task %s: %w", task.ID, types.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}

	return nil
}

// GetTask retrieves a task by ID.
func (s *SQLiteStorage) GetTask(ctx context.Context, id string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, prompt, repo_url, agent, model, install_deps, max_duration,
			status, progress, error, branch_name, sandbox_url, stop_requested,
			created_at, updated_at, completed_at
		FROM tasks WHERE id = ?`, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

// ListTasks returns all tasks, newest first.
func (s *SQLiteStorage) ListTasks(ctx context.Context) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prompt, repo_url, agent, model, install_deps, max_duration,
			status, progress, error, branch_name, sandbox_url, stop_requested,
			created_at, updated_at, completed_at
		FROM tasks ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// DeleteTasksByStatus deletes all tasks whose status is in the given set.
// Task logs are removed through the ON DELETE CASCADE constraint.
func (s *SQLiteStorage) DeleteTasksByStatus(ctx context.Context, statuses ...types.TaskStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}

	query := fmt.Sprintf("DELETE FROM tasks WHERE status IN (%s)", strings.Join(placeholders, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tasks: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted tasks: %w", err)
	}
	return int(n), nil
}

// MarkProcessing transitions a task from pending to processing.
func (s *SQLiteStorage) MarkProcessing(ctx context.Context, id string) (bool, error) {
	return s.guardedStatusUpdate(ctx, id, `
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(types.StatusProcessing), time.Now().UTC(), id, string(types.StatusPending))
}

// MarkCompleted transitions a task from processing to completed and records
// the completion time. Progress is forced to 100.
func (s *SQLiteStorage) MarkCompleted(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	return s.guardedStatusUpdate(ctx, id, `
		UPDATE tasks SET status = ?, progress = 100, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(types.StatusCompleted), now, now, id, string(types.StatusProcessing))
}

// MarkError transitions an active task to error with a message. Tasks that
// already reached a terminal status (in particular "stopped") are left
// untouched.
func (s *SQLiteStorage) MarkError(ctx context.Context, id string, message string) (bool, error) {
	now := time.Now().UTC()
	return s.guardedStatusUpdate(ctx, id, `
		UPDATE tasks SET status = ?, error = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(types.StatusError), message, now, now, id,
		string(types.StatusPending), string(types.StatusProcessing))
}

// MarkStopped transitions an active task to stopped.
func (s *SQLiteStorage) MarkStopped(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	return s.guardedStatusUpdate(ctx, id, `
		UPDATE tasks SET status = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(types.StatusStopped), now, now, id,
		string(types.StatusPending), string(types.StatusProcessing))
}

func (s *SQLiteStorage) guardedStatusUpdate(ctx context.Context, id, query string, args ...interface{}) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check status update: %w", err)
	}
	if n == 0 {
		// Distinguish "guard rejected" from "no such task".
		var exists int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks WHERE id = ?", id).Scan(&exists); err != nil {
			return false, fmt.Errorf("failed to check task existence: %w", err)
		}
		if exists == 0 {
			return false, fmt.Errorf("task %s: %w", id, types.ErrNotFound)
		}
		return false, nil
	}
	return true, nil
}

// UpdateProgress writes a new progress value. The update only applies while
// the task is processing and the new value does not go backwards, so
// progress stays monotonic under concurrent writers.
func (s *SQLiteStorage) UpdateProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET progress = ?, updated_at = ?
		WHERE id = ? AND status = ? AND progress <= ?`,
		progress, time.Now().UTC(), id, string(types.StatusProcessing), progress)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// SetSandboxURL records the public URL of the task's sandbox.
func (s *SQLiteStorage) SetSandboxURL(ctx context.Context, id string, url string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET sandbox_url = ?, updated_at = ? WHERE id = ?`,
		url, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set sandbox URL: %w", err)
	}
	return nil
}

// SetBranchNameIfEmpty atomically sets the branch name when none has been
// persisted yet. Returns whether this call won the write.
func (s *SQLiteStorage) SetBranchNameIfEmpty(ctx context.Context, id string, branch string) (bool, error) {
	if branch == "" {
		return false, fmt.Errorf("branch name is required: %w", types.ErrNotValid)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET branch_name = ?, updated_at = ?
		WHERE id = ? AND branch_name = ''`,
		branch, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to set branch name: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check branch name update: %w", err)
	}
	return n > 0, nil
}

// RequestStop sets the persisted stop flag. The orchestrator observes the
// flag at its cancellation checkpoints.
func (s *SQLiteStorage) RequestStop(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET stop_requested = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to request stop: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check stop request: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// StopRequested reports whether a stop has been requested for the task.
func (s *SQLiteStorage) StopRequested(ctx context.Context, id string) (bool, error) {
	var flag int
	err := s.db.QueryRowContext(ctx, "SELECT stop_requested FROM tasks WHERE id = ?", id).Scan(&flag)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("task %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read stop flag: %w", err)
	}
	return flag != 0, nil
}

// AppendLog appends a log entry to the task's log stream. The AUTOINCREMENT
// id preserves generation order on every re-read.
func (s *SQLiteStorage) AppendLog(ctx context.Context, entry *types.LogEntry) error {
	if !entry.Type.IsValid() {
		return fmt.Errorf("invalid log type %q: %w", entry.Type, types.ErrNotValid)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_logs (task_id, type, message, created_at)
		VALUES (?, ?, ?, ?)`,
		entry.TaskID, string(entry.Type), entry.Message, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read log id: %w", err)
	}
	entry.ID = id
	return nil
}

// GetLogs returns the task's log entries in generation order.
func (s *SQLiteStorage) GetLogs(ctx context.Context, taskID string) ([]*types.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, type, message, created_at
		FROM task_logs WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var entries []*types.LogEntry
	for rows.Next() {
		var e types.LogEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.TaskID, &typ, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		e.Type = types.LogType(typ)
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var t types.Task
	var agent, status string
	var installDeps, stopRequested int
	var completedAt sql.NullTime

	err := row.Scan(&t.ID, &t.Prompt, &t.RepoURL, &agent, &t.Model, &installDeps,
		&t.MaxDuration, &status, &t.Progress, &t.Error, &t.BranchName,
		&t.SandboxURL, &stopRequested, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	t.Agent = types.AgentKind(agent)
	t.Status = types.TaskStatus(status)
	t.InstallDeps = installDeps != 0
	t.StopRequested = stopRequested != 0
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
