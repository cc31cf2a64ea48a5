// Package registry tracks live sandbox handles by task id so an external
// stop request can reach a sandbox owned by a background task it did not
// create.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskdock/taskdock/internal/log"
	"github.com/taskdock/taskdock/internal/sandbox"
)

// Registry is a concurrency-safe table of task id → live sandbox handle.
// It is injectable state owned by the orchestration layer, not a process
// global.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
	strict  bool
	logger  log.Logger
}

type entry struct {
	handle       sandbox.Handle
	registeredAt time.Time
}

// Config holds registry configuration.
type Config struct {
	// Strict disables the kill-oldest fallback in DestroyFor. With the
	// fallback enabled (the default), a destroy request for an unknown
	// task id tears down the oldest registered sandbox instead. That
	// heuristic can release resources belonging to the wrong task under
	// concurrent load; callers must tolerate it.
	Strict bool

	Logger log.Logger
}

// New creates a sandbox registry.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Noop
	}
	return &Registry{
		entries: make(map[string]entry),
		strict:  cfg.Strict,
		logger:  logger.WithValues(log.Kv{"svc": "registry.Registry"}),
	}
}

// Register records the live handle for a task. Registering twice for the
// same task replaces the previous handle.
func (r *Registry) Register(taskID string, h sandbox.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[taskID] = entry{handle: h, registeredAt: time.Now()}
	r.logger.Debugf("Registered sandbox %s for task %s", h.ID(), taskID)
}

// Deregister removes the entry for a task. It is idempotent: removing a
// missing entry is not an error.
func (r *Registry) Deregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, taskID)
}

// Get returns the handle registered for a task, or nil.
func (r *Registry) Get(taskID string) sandbox.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[taskID]
	if !ok {
		return nil
	}
	return e.handle
}

// Len returns the number of registered sandboxes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Release tears down the sandbox registered for the task, if any. Unlike
// DestroyFor it never falls back to another task's entry: a missing entry
// is a no-op. It reports whether a sandbox was destroyed. This is the
// teardown for a task's own exit paths.
func (r *Registry) Release(ctx context.Context, taskID string) (bool, error) {
	r.mu.Lock()
	e, ok := r.entries[taskID]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	delete(r.entries, taskID)
	r.mu.Unlock()

	if err := e.handle.Destroy(ctx); err != nil {
		return true, fmt.Errorf("failed to destroy sandbox %s: %w", e.handle.ID(), err)
	}
	return true, nil
}

// DestroyFor tears down the sandbox registered for the task and removes its
// entry. When no entry exists for the id but others do, the oldest entry is
// destroyed as a best-effort fallback unless Strict is set. This is the
// teardown for out-of-band stop requests, which may race registration.
func (r *Registry) DestroyFor(ctx context.Context, taskID string) error {
	r.mu.Lock()
	e, ok := r.entries[taskID]
	victimID := taskID
	if !ok {
		if r.strict || len(r.entries) == 0 {
			r.mu.Unlock()
			return nil
		}
		// Fall back to the oldest registered sandbox.
		victimID, e = r.oldestLocked()
		r.logger.Warningf("No sandbox registered for task %s, destroying oldest (task %s)", taskID, victimID)
	}
	delete(r.entries, victimID)
	r.mu.Unlock()

	if err := e.handle.Destroy(ctx); err != nil {
		return fmt.Errorf("failed to destroy sandbox %s: %w", e.handle.ID(), err)
	}
	return nil
}

func (r *Registry) oldestLocked() (string, entry) {
	var oldestID string
	var oldest entry
	first := true
	for id, e := range r.entries {
		if first || e.registeredAt.Before(oldest.registeredAt) {
			oldestID, oldest = id, e
			first = false
		}
	}
	return oldestID, oldest
}
