// Package namer resolves the git branch name for a task. Generation races
// the main orchestration path: the resolver and the provisioning-time
// fallback both try to persist a name, and the storage compare-and-set
// guarantees the first writer wins.
package namer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"golang.org/x/time/rate"

	"github.com/taskdock/taskdock/internal/log"
	"github.com/taskdock/taskdock/internal/storage"
	"github.com/taskdock/taskdock/internal/types"
)

const (
	// maxSlugLen bounds the generated part of a branch name.
	maxSlugLen = 40

	// generateTimeout bounds one generation API call.
	generateTimeout = 10 * time.Second

	retryAttempts = 3
)

// Resolver derives branch names from task prompts.
type Resolver struct {
	client  *anthropic.Client
	model   string
	store   storage.Storage
	limiter *rate.Limiter
	logger  log.Logger
}

// Config holds resolver configuration.
type Config struct {
	Store storage.Storage

	// Client is the Anthropic API client for the generative naming step.
	// When nil, every resolution uses the deterministic fallback.
	Client *anthropic.Client

	// Model is the model used for name generation.
	Model string

	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Model == "" {
		c.Model = "claude-3-5-haiku-latest"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "namer.Resolver"})
	return nil
}

// New creates a branch name resolver.
func New(cfg Config) (*Resolver, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Resolver{
		client: cfg.Client,
		model:  cfg.Model,
		store:  cfg.Store,
		// Naming calls are small but bursty when many tasks are created
		// at once; keep them under 2/s.
		limiter: rate.NewLimiter(rate.Limit(2), 2),
		logger:  cfg.Logger,
	}, nil
}

// Resolve generates a branch name for the task and persists it with
// first-writer-wins semantics. It returns the name that ended up
// persisted, which may come from the racing provisioning path.
func (r *Resolver) Resolve(ctx context.Context, task *types.Task) (string, error) {
	name := r.generate(ctx, task)
	if name == "" {
		name = Fallback(task.ID)
	}

	won, err := r.store.SetBranchNameIfEmpty(ctx, task.ID, name)
	if err != nil {
		return "", fmt.Errorf("failed to persist branch name: %w", err)
	}
	if !won {
		// A racing writer got there first; its name stands.
		current, err := r.store.GetTask(ctx, task.ID)
		if err != nil {
			return "", fmt.Errorf("failed to read persisted branch name: %w", err)
		}
		r.logger.Debugf("Discarding generated name %q, %q already persisted", name, current.BranchName)
		return current.BranchName, nil
	}

	r.logger.Infof("Resolved branch name %q for task %s", name, task.ID)
	return name, nil
}

// generate asks the naming model for a descriptive branch slug. Any
// failure returns "" and the caller falls back deterministically.
func (r *Resolver) generate(ctx context.Context, task *types.Task) string {
	if r.client == nil {
		return ""
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return ""
	}

	prompt := buildPrompt(task)

	var responseText string
	err := r.retryWithBackoff(ctx, func(attemptCtx context.Context) error {
		callCtx, cancel := context.WithTimeout(attemptCtx, generateTimeout)
		defer cancel()

		resp, apiErr := r.client.Messages.New(callCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(r.model),
			MaxTokens: 128,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		responseText = ""
		for _, block := range resp.Content {
			if block.Type == "text" {
				responseText += block.Text
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Warningf("Branch name generation failed: %v", err)
		return ""
	}

	slug := Slugify(responseText)
	if slug == "" {
		return ""
	}
	return slug + "-" + randomSuffix()
}

func buildPrompt(task *types.Task) string {
	var b strings.Builder
	b.WriteString("Generate a short git branch name for the following coding task.\n\n")
	b.WriteString(fmt.Sprintf("Repository: %s\n", repoName(task.RepoURL)))
	b.WriteString(fmt.Sprintf("Agent: %s\n", task.Agent))
	b.WriteString(fmt.Sprintf("Task: %s\n\n", truncate(task.Prompt, 500)))
	b.WriteString("Rules: lowercase, words separated by hyphens, at most 5 words, ")
	b.WriteString("no prefix, no quotes. Respond with the branch name only.")
	return b.String()
}

func (r *Resolver) retryWithBackoff(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	backoff := time.Second

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("name generation canceled: %w", ctx.Err())
		}
		if attempt == retryAttempts {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("name generation canceled: %w", ctx.Err())
		}
		backoff *= 2
	}

	return fmt.Errorf("name generation failed after %d attempts: %w", retryAttempts, lastErr)
}

// Fallback builds the deterministic branch name used when generation is
// unavailable or failed.
func Fallback(taskID string) string {
	return fmt.Sprintf("task/%d-%s", time.Now().Unix(), taskID)
}

// Slugify normalizes model output into a valid branch slug.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	// Keep only the first line, models sometimes add commentary.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}

	var b strings.Builder
	lastHyphen := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	return slug
}

func randomSuffix() string {
	var buf [3]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("%06d", time.Now().Nanosecond()%1000000)
	}
	return hex.EncodeToString(buf[:])
}

func repoName(repoURL string) string {
	u, err := url.Parse(repoURL)
	if err != nil || u.Path == "" {
		return repoURL
	}
	name := strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git")
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
