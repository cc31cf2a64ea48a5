// Package gitops stages, commits and pushes a task's changes from inside
// its sandbox.
package gitops

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskdock/taskdock/internal/log"
	"github.com/taskdock/taskdock/internal/sandbox"
	"github.com/taskdock/taskdock/internal/types"
)

// maxSubjectLen caps the commit subject derived from the instruction.
const maxSubjectLen = 72

// PublishResult reports what the publisher did.
type PublishResult struct {
	// Committed is false when the working tree was clean and publishing
	// was a no-op.
	Committed bool

	// Pushed reports whether the branch reached the remote.
	Pushed bool

	// PushFailed is set when the commit exists locally but the push was
	// rejected for credential or permission reasons. The orchestrator
	// maps this to a terminal task error: artifact produced but not
	// published.
	PushFailed bool

	// CommitHash is the created commit, when one was made.
	CommitHash string

	// Reason carries the push rejection detail for the log stream.
	Reason string
}

// Publisher publishes a sandbox working tree to a remote branch.
type Publisher struct {
	logger log.Logger
}

// Config holds publisher configuration.
type Config struct {
	Logger log.Logger
}

// New creates a git publisher.
func New(cfg Config) *Publisher {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Noop
	}
	return &Publisher{logger: logger.WithValues(log.Kv{"svc": "gitops.Publisher"})}
}

// HasChanges checks the sandbox working tree with git status --porcelain.
func (p *Publisher) HasChanges(ctx context.Context, h sandbox.Handle) (bool, error) {
	res, err := h.RunCommand(ctx, "git", []string{"status", "--porcelain"}, nil)
	if err != nil {
		return false, fmt.Errorf("git status failed: %w", err)
	}
	if res.ExitCode != 0 {
		return false, fmt.Errorf("git status exited with code %d: %s", res.ExitCode, res.Stderr)
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

// Publish inspects the working tree and, when dirty, stages everything,
// commits with a subject derived from the instruction, and pushes the
// resolved branch. A clean tree is a successful no-op.
func (p *Publisher) Publish(ctx context.Context, h sandbox.Handle, branch, instruction string) (*PublishResult, error) {
	dirty, err := p.HasChanges(ctx, h)
	if err != nil {
		return nil, err
	}
	if !dirty {
		p.logger.Infof("Working tree clean, nothing to publish")
		return &PublishResult{}, nil
	}

	addRes, err := h.RunCommand(ctx, "git", []string{"add", "-A"}, nil)
	if err != nil {
		return nil, fmt.Errorf("git add failed: %w", err)
	}
	if addRes.ExitCode != 0 {
		return nil, fmt.Errorf("git add exited with code %d: %s", addRes.ExitCode, addRes.Stderr)
	}

	message := commitMessage(instruction)
	commitRes, err := h.RunCommand(ctx, "git", []string{"commit", "-m", message}, nil)
	if err != nil {
		return nil, fmt.Errorf("git commit failed: %w", err)
	}
	if commitRes.ExitCode != 0 {
		return nil, fmt.Errorf("git commit exited with code %d: %s", commitRes.ExitCode, commitRes.Stderr)
	}

	result := &PublishResult{Committed: true}
	if hashRes, err := h.RunCommand(ctx, "git", []string{"rev-parse", "HEAD"}, nil); err == nil && hashRes.ExitCode == 0 {
		result.CommitHash = strings.TrimSpace(hashRes.Stdout)
	}

	pushRes, err := h.RunCommand(ctx, "git", []string{"push", "-u", "origin", branch}, nil)
	if err != nil {
		return nil, fmt.Errorf("git push failed: %w", err)
	}
	if pushRes.ExitCode != 0 {
		detail := strings.TrimSpace(pushRes.Stderr)
		if isPermissionFailure(detail) {
			p.logger.Warningf("Push rejected for branch %s: %s", branch, detail)
			result.PushFailed = true
			result.Reason = detail
			return result, nil
		}
		return result, fmt.Errorf("git push exited with code %d: %s: %w", pushRes.ExitCode, detail, types.ErrPushRejected)
	}

	result.Pushed = true
	p.logger.Infof("Pushed branch %s (%s)", branch, result.CommitHash)
	return result, nil
}

// isPermissionFailure classifies push stderr as a credential or permission
// rejection rather than a transient or structural git failure.
func isPermissionFailure(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, marker := range []string{
		"permission denied",
		"authentication failed",
		"could not read username",
		"could not read password",
		"403",
		"access denied",
		"protected branch",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// commitMessage derives a one-line commit subject from the instruction.
func commitMessage(instruction string) string {
	subject := strings.TrimSpace(strings.Join(strings.Fields(instruction), " "))
	if subject == "" {
		subject = "Apply automated changes"
	}
	if len(subject) > maxSubjectLen {
		subject = strings.TrimSpace(subject[:maxSubjectLen-3]) + "..."
	}
	return subject
}
