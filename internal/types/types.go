package types

import (
	"fmt"
	"strings"
	"time"
)

// Task is a user-submitted unit of work: a natural-language coding
// instruction executed by an agent CLI against a repository inside an
// ephemeral sandbox, published as a git branch.
type Task struct {
	ID            string     `json:"id"`
	Prompt        string     `json:"prompt"`
	RepoURL       string     `json:"repo_url"`
	Agent         AgentKind  `json:"agent"`
	Model         string     `json:"model,omitempty"`
	InstallDeps   bool       `json:"install_deps"`
	MaxDuration   int        `json:"max_duration"` // minutes; 0 means the default budget
	Status        TaskStatus `json:"status"`
	Progress      int        `json:"progress"` // 0-100, non-decreasing while processing
	Error         string     `json:"error,omitempty"`
	BranchName    string     `json:"branch_name,omitempty"` // write-once, first writer wins
	SandboxURL    string     `json:"sandbox_url,omitempty"`
	StopRequested bool       `json:"stop_requested"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Validate checks if the task has valid field values.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Prompt) == "" {
		return fmt.Errorf("prompt is required: %w", ErrNotValid)
	}
	if len(t.Prompt) > 10000 {
		return fmt.Errorf("prompt must be 10000 characters or less (got %d): %w", len(t.Prompt), ErrNotValid)
	}
	if strings.TrimSpace(t.RepoURL) == "" {
		return fmt.Errorf("repo_url is required: %w", ErrNotValid)
	}
	if !strings.HasPrefix(t.RepoURL, "https://") && !strings.HasPrefix(t.RepoURL, "git@") {
		return fmt.Errorf("repo_url must be an https or ssh git URL (got %q): %w", t.RepoURL, ErrNotValid)
	}
	if !t.Agent.IsValid() {
		return fmt.Errorf("invalid agent: %q: %w", t.Agent, ErrNotValid)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid status: %q: %w", t.Status, ErrNotValid)
	}
	if t.Progress < 0 || t.Progress > 100 {
		return fmt.Errorf("progress must be between 0 and 100 (got %d): %w", t.Progress, ErrNotValid)
	}
	if t.MaxDuration < 0 || t.MaxDuration > 120 {
		return fmt.Errorf("max_duration must be between 0 and 120 minutes (got %d): %w", t.MaxDuration, ErrNotValid)
	}
	return nil
}

// IsTerminal reports whether the task has reached a terminal status.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusError      TaskStatus = "error"
	StatusStopped    TaskStatus = "stopped"
)

// IsValid checks if the status value is valid.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusError, StatusStopped:
		return true
	}
	return false
}

// IsTerminal reports whether the status is terminal.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusStopped:
		return true
	}
	return false
}

// ValidTransitions defines the valid transitions of the task state machine.
//
//	pending → processing → completed
//	    ↓          ↓     ↘
//	 stopped    stopped    error
//
// Transitions are forward-only. Stopping is reachable from any active
// state, and once the stop path has written "stopped" no concurrently
// running error path may overwrite it.
func (s TaskStatus) ValidTransitions() []TaskStatus {
	switch s {
	case StatusPending:
		return []TaskStatus{StatusProcessing, StatusError, StatusStopped}
	case StatusProcessing:
		return []TaskStatus{StatusCompleted, StatusError, StatusStopped}
	default:
		return []TaskStatus{} // Terminal states
	}
}

// CanTransitionTo checks if a transition to the target status is valid.
func (s TaskStatus) CanTransitionTo(target TaskStatus) bool {
	for _, valid := range s.ValidTransitions() {
		if valid == target {
			return true
		}
	}
	return false
}

// LogType categorizes task log entries.
type LogType string

const (
	LogInfo    LogType = "info"
	LogCommand LogType = "command"
	LogError   LogType = "error"
	LogSuccess LogType = "success"
)

// IsValid checks if the log type value is valid.
func (t LogType) IsValid() bool {
	switch t {
	case LogInfo, LogCommand, LogError, LogSuccess:
		return true
	}
	return false
}

// LogEntry is a single append-only entry in a task's log stream.
// Entries are immutable once written and observed in generation order.
type LogEntry struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Type      LogType   `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentKind identifies one of the supported coding-agent CLIs.
type AgentKind string

const (
	AgentClaude   AgentKind = "claude"
	AgentCodex    AgentKind = "codex"
	AgentGemini   AgentKind = "gemini"
	AgentOpenCode AgentKind = "opencode"
	AgentAmp      AgentKind = "amp"
)

// AgentKinds returns the closed set of supported agents.
func AgentKinds() []AgentKind {
	return []AgentKind{AgentClaude, AgentCodex, AgentGemini, AgentOpenCode, AgentAmp}
}

// IsValid checks if the agent kind is one of the supported CLIs.
func (a AgentKind) IsValid() bool {
	switch a {
	case AgentClaude, AgentCodex, AgentGemini, AgentOpenCode, AgentAmp:
		return true
	}
	return false
}
