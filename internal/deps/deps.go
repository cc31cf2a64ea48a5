// Package deps primes a sandbox with project dependencies. Installation is
// best-effort environment priming, never a precondition for agent
// execution: every failure degrades to a logged warning.
package deps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskdock/taskdock/internal/log"
	"github.com/taskdock/taskdock/internal/sandbox"
	"github.com/taskdock/taskdock/internal/types"
)

// Manager identifies a package manager.
type Manager string

const (
	ManagerPnpm Manager = "pnpm"
	ManagerYarn Manager = "yarn"
	ManagerBun  Manager = "bun"
	ManagerNpm  Manager = "npm"
)

// lockFiles maps managers to their lock files in detection priority order.
var lockFiles = []struct {
	file    string
	manager Manager
}{
	{"pnpm-lock.yaml", ManagerPnpm},
	{"yarn.lock", ManagerYarn},
	{"bun.lockb", ManagerBun},
	{"package-lock.json", ManagerNpm},
}

// installArgs returns the non-interactive install invocation for a manager.
func installArgs(m Manager) (string, []string) {
	switch m {
	case ManagerPnpm:
		return "pnpm", []string{"install", "--no-frozen-lockfile"}
	case ManagerYarn:
		return "yarn", []string{"install", "--non-interactive"}
	case ManagerBun:
		return "bun", []string{"install"}
	default:
		return "npm", []string{"install", "--no-audit", "--no-fund"}
	}
}

// Outcome classifies an install attempt.
type Outcome string

const (
	OutcomeInstalled Outcome = "installed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeFailed    Outcome = "failed"
)

// Installer detects the project's package manager and primes the sandbox.
type Installer struct {
	timeout time.Duration
	logger  log.Logger
}

var _ sandbox.Installer = (*Installer)(nil)

// Config holds installer configuration.
type Config struct {
	// Timeout bounds each install attempt. Default: 3 minutes.
	Timeout time.Duration
	Logger  log.Logger
}

func (c *Config) defaults() {
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "deps.Installer"})
}

// New creates a dependency installer.
func New(cfg Config) *Installer {
	cfg.defaults()
	return &Installer{timeout: cfg.Timeout, logger: cfg.Logger}
}

// DetectManager picks the package manager by lock-file presence in priority
// order. Absence of any lock file defaults to npm.
func (i *Installer) DetectManager(ctx context.Context, h sandbox.Handle) (Manager, error) {
	for _, lf := range lockFiles {
		res, err := h.RunCommand(ctx, "test", []string{"-f", lf.file}, nil)
		if err != nil {
			return "", fmt.Errorf("failed to probe for %s: %w", lf.file, err)
		}
		if res.ExitCode == 0 {
			return lf.manager, nil
		}
	}
	return ManagerNpm, nil
}

// Install primes the sandbox with one bounded install attempt, retrying
// exactly once with npm when the preferred manager was something else and
// the attempt did not succeed. The returned error is advisory: callers log
// it and continue.
func (i *Installer) Install(ctx context.Context, h sandbox.Handle) (*sandbox.InstallResult, error) {
	manager, err := i.DetectManager(ctx, h)
	if err != nil {
		return &sandbox.InstallResult{}, fmt.Errorf("package manager detection failed: %w", err)
	}

	outcome, err := i.attempt(ctx, h, manager)
	if outcome == OutcomeInstalled {
		return &sandbox.InstallResult{Manager: string(manager)}, nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return &sandbox.InstallResult{Manager: string(manager)}, err
	}

	// One automatic retry with the fallback manager.
	if manager != ManagerNpm {
		i.logger.Warningf("%s install did not succeed (%s), retrying with npm", manager, outcome)
		_, retryErr := i.attempt(ctx, h, ManagerNpm)
		return &sandbox.InstallResult{Manager: string(ManagerNpm), Retried: true}, retryErr
	}

	return &sandbox.InstallResult{Manager: string(manager)}, err
}

func (i *Installer) attempt(ctx context.Context, h sandbox.Handle, m Manager) (Outcome, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	cmd, args := installArgs(m)
	i.logger.Infof("Installing dependencies with %s", m)

	res, err := h.RunCommand(attemptCtx, cmd, args, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return OutcomeTimedOut, fmt.Errorf("%s install: %w", m, types.ErrTimeout)
		}
		return OutcomeFailed, fmt.Errorf("%s install failed: %w", m, err)
	}
	if res.ExitCode != 0 {
		return OutcomeFailed, fmt.Errorf("%s install exited with code %d: %s", m, res.ExitCode, tail(res.Stderr, 500))
	}

	return OutcomeInstalled, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
