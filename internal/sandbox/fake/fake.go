// Package fake is an in-memory implementation of the sandbox service
// client. It simulates sandbox lifecycle without any real compute and lets
// tests script command responses.
package fake

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskdock/taskdock/internal/log"
	"github.com/taskdock/taskdock/internal/sandbox"
)

// Response is a scripted reply for commands matching a prefix.
type Response struct {
	Result sandbox.ExecResult
	Err    error
}

// Client is a fake implementation of sandbox.Client.
type Client struct {
	mu        sync.Mutex
	responses map[string]Response
	createErr error
	delay     time.Duration
	handles   []*Handle
	logger    log.Logger
}

// ClientConfig is the configuration for the fake client.
type ClientConfig struct {
	Logger log.Logger
}

// NewClient creates a new fake sandbox client.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Noop
	}
	return &Client{
		responses: make(map[string]Response),
		logger:    logger.WithValues(log.Kv{"svc": "sandbox.Fake"}),
	}
}

// ScriptCommand registers a response for any command whose rendered form
// ("cmd arg1 arg2 ...") starts with the given prefix.
func (c *Client) ScriptCommand(prefix string, res sandbox.ExecResult, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[prefix] = Response{Result: res, Err: err}
}

// FailCreate makes subsequent Create calls fail with the given error.
func (c *Client) FailCreate(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createErr = err
}

// SetCreateDelay makes Create block for the given duration, for exercising
// provisioning timeouts.
func (c *Client) SetCreateDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// Handles returns all handles created so far.
func (c *Client) Handles() []*Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Handle, len(c.handles))
	copy(out, c.handles)
	return out
}

// Create creates a new fake sandbox.
func (c *Client) Create(ctx context.Context, req sandbox.CreateRequest) (sandbox.Handle, error) {
	c.mu.Lock()
	createErr := c.createErr
	delay := c.delay
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("sandbox creation aborted: %w", ctx.Err())
		}
	}
	if createErr != nil {
		return nil, createErr
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	h := &Handle{
		id:     id,
		client: c,
		git:    req.Git,
	}

	c.mu.Lock()
	c.handles = append(c.handles, h)
	c.mu.Unlock()

	c.logger.Infof("Created fake sandbox %s (revision: %q)", id, req.Git.Revision)
	return h, nil
}

// Handle is a fake sandbox handle. It records every executed command and
// counts Destroy calls so tests can assert exactly-once teardown.
type Handle struct {
	id     string
	client *Client
	git    sandbox.GitSource

	mu       sync.Mutex
	commands []string
	destroys int
}

// ID returns the sandbox identifier.
func (h *Handle) ID() string { return h.id }

// RunCommand simulates command execution using the client's scripted
// responses. Unscripted commands succeed with empty output.
func (h *Handle) RunCommand(ctx context.Context, cmd string, args []string, env map[string]string) (*sandbox.ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rendered := strings.TrimSpace(cmd + " " + strings.Join(args, " "))
	h.mu.Lock()
	h.commands = append(h.commands, rendered)
	destroyed := h.destroys > 0
	h.mu.Unlock()

	if destroyed {
		return nil, fmt.Errorf("sandbox %s destroyed", h.id)
	}

	h.client.mu.Lock()
	defer h.client.mu.Unlock()
	// Longest matching prefix wins so tests can script both "git" and
	// "git status" with different outcomes.
	var best string
	found := false
	for prefix := range h.client.responses {
		if strings.HasPrefix(rendered, prefix) && len(prefix) >= len(best) {
			best = prefix
			found = true
		}
	}
	if found {
		resp := h.client.responses[best]
		if resp.Err != nil {
			return nil, resp.Err
		}
		result := resp.Result
		return &result, nil
	}

	return &sandbox.ExecResult{ExitCode: 0}, nil
}

// Domain returns a deterministic fake public URL.
func (h *Handle) Domain(port int) string {
	return fmt.Sprintf("https://%s-%d.sandbox.test", strings.ToLower(h.id), port)
}

// Destroy marks the sandbox destroyed. Idempotent.
func (h *Handle) Destroy(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroys++
	return nil
}

// Commands returns the rendered commands executed so far.
func (h *Handle) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.commands))
	copy(out, h.commands)
	return out
}

// DestroyCount returns how many times Destroy was called.
func (h *Handle) DestroyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroys
}
