// Package agent runs a natural-language coding instruction through one of
// the supported coding-agent CLIs inside a sandbox. The five CLI variants
// sit behind one uniform contract, dispatched from a closed table keyed by
// agent kind.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskdock/taskdock/internal/log"
	"github.com/taskdock/taskdock/internal/redact"
	"github.com/taskdock/taskdock/internal/sandbox"
	"github.com/taskdock/taskdock/internal/tasklog"
	"github.com/taskdock/taskdock/internal/types"
)

// maxOutputBytes caps captured agent output to bound memory and storage.
const maxOutputBytes = 64 * 1024

// ErrorKind classifies agent failures.
type ErrorKind string

const (
	ErrKindMissingCredential ErrorKind = "missing_credential"
	ErrKindCLINotFound       ErrorKind = "cli_not_found"
	ErrKindNonZeroExit       ErrorKind = "non_zero_exit"
	ErrKindTimeout           ErrorKind = "timeout"
	ErrKindInternal          ErrorKind = "internal"
)

// Error is the structured error carried in a Result.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Result is the uniform outcome shape every variant converges on.
// Output is always populated, even on failure, for diagnosis.
type Result struct {
	Success         bool
	Output          string
	ChangesDetected bool
	Err             *Error
}

// ExecuteRequest carries one agent invocation.
type ExecuteRequest struct {
	Handle  sandbox.Handle
	Prompt  string
	Agent   types.AgentKind
	Model   string
	TaskLog *tasklog.Logger // optional; variants log install/invoke steps
}

// Runner is the uniform contract over the agent CLI variants.
type Runner interface {
	// Run installs the CLI if absent, verifies credentials, invokes the
	// CLI non-interactively and inspects the working tree afterwards.
	Run(ctx context.Context, req ExecuteRequest) (*Result, error)
}

// Executor dispatches execution requests to the variant runners.
type Executor struct {
	runners  map[types.AgentKind]Runner
	redactor *redact.Redactor
	logger   log.Logger
}

// Config holds executor configuration.
type Config struct {
	// Credentials maps environment variable names to secret values
	// forwarded into the sandbox for the agent CLIs.
	Credentials map[string]string

	// Redactor scrubs secrets from captured output before it is
	// returned. Required when Credentials is non-empty.
	Redactor *redact.Redactor

	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.Redactor == nil {
		secrets := make([]string, 0, len(c.Credentials))
		for _, v := range c.Credentials {
			secrets = append(secrets, v)
		}
		c.Redactor = redact.New(secrets...)
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "agent.Executor"})
	return nil
}

// NewExecutor creates an executor with the closed set of variant runners.
func NewExecutor(cfg Config) (*Executor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	base := runnerDeps{creds: cfg.Credentials, logger: cfg.Logger}
	e := &Executor{
		runners: map[types.AgentKind]Runner{
			types.AgentClaude:   &claudeRunner{runnerDeps: base},
			types.AgentCodex:    &codexRunner{runnerDeps: base},
			types.AgentGemini:   &geminiRunner{runnerDeps: base},
			types.AgentOpenCode: &opencodeRunner{runnerDeps: base},
			types.AgentAmp:      &ampRunner{runnerDeps: base},
		},
		redactor: cfg.Redactor,
		logger:   cfg.Logger,
	}
	return e, nil
}

// Timeout returns the per-agent execution budget. Agents known to need
// longer get the extended budget.
func (e *Executor) Timeout(kind types.AgentKind) time.Duration {
	switch kind {
	case types.AgentCodex, types.AgentOpenCode:
		return 5 * time.Minute
	default:
		return 3 * time.Minute
	}
}

// Execute runs the request through the matching variant. Output in the
// returned result is already redacted; it is safe to log or persist.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (*Result, error) {
	runner, ok := e.runners[req.Agent]
	if !ok {
		return nil, fmt.Errorf("unsupported agent %q: %w", req.Agent, types.ErrNotValid)
	}
	if req.Handle == nil {
		return nil, fmt.Errorf("sandbox handle is required: %w", types.ErrNotValid)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required: %w", types.ErrNotValid)
	}

	result, err := runner.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	result.Output = e.redactor.Redact(result.Output)
	if result.Err != nil {
		result.Err.Message = e.redactor.Redact(result.Err.Message)
	}
	return result, nil
}

// detectChanges derives changes-detected from the sandbox working tree:
// non-empty git status output means the agent modified something.
func detectChanges(ctx context.Context, h sandbox.Handle) (bool, error) {
	res, err := h.RunCommand(ctx, "git", []string{"status", "--porcelain"}, nil)
	if err != nil {
		return false, fmt.Errorf("git status failed: %w", err)
	}
	if res.ExitCode != 0 {
		return false, fmt.Errorf("git status exited with code %d: %s", res.ExitCode, res.Stderr)
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

// combineOutput merges stdout and stderr, keeping the tail within the
// output cap so the most recent activity survives truncation.
func combineOutput(res *sandbox.ExecResult) string {
	out := res.Stdout
	if strings.TrimSpace(res.Stderr) != "" {
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += res.Stderr
	}
	if len(out) > maxOutputBytes {
		out = "[... output truncated ...]\n" + out[len(out)-maxOutputBytes:]
	}
	return out
}
