package sqlite

// schema is the embedded SQLite schema, applied on open. All statements
// are idempotent so reopening an existing database is safe.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id             TEXT PRIMARY KEY,
	prompt         TEXT NOT NULL,
	repo_url       TEXT NOT NULL,
	agent          TEXT NOT NULL,
	model          TEXT NOT NULL DEFAULT '',
	install_deps   INTEGER NOT NULL DEFAULT 0,
	max_duration   INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'pending',
	progress       INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	branch_name    TEXT NOT NULL DEFAULT '',
	sandbox_url    TEXT NOT NULL DEFAULT '',
	stop_requested INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL,
	completed_at   TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);

CREATE TABLE IF NOT EXISTS task_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id    TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	type       TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_logs_task_id ON task_logs(task_id, id);
`
