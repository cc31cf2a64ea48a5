// Package orchestrator owns the task lifecycle: accept a task, run it in
// the background through provisioning, agent execution and publishing,
// and drive the pending → processing → {completed | error | stopped}
// state machine in storage.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/taskdock/taskdock/internal/agent"
	"github.com/taskdock/taskdock/internal/gitops"
	"github.com/taskdock/taskdock/internal/log"
	"github.com/taskdock/taskdock/internal/namer"
	"github.com/taskdock/taskdock/internal/redact"
	"github.com/taskdock/taskdock/internal/registry"
	"github.com/taskdock/taskdock/internal/sandbox"
	"github.com/taskdock/taskdock/internal/storage"
	"github.com/taskdock/taskdock/internal/tasklog"
	"github.com/taskdock/taskdock/internal/types"
)

const (
	// defaultGlobalTimeout bounds one task end to end.
	defaultGlobalTimeout = 5 * time.Minute

	// warningFraction of the global budget triggers a runtime warning in
	// the task log.
	warningFraction = 0.8

	// branchNameWait bounds how long provisioning waits for the racing
	// name generation before falling back deterministically.
	branchNameWait = 15 * time.Second

	branchNamePoll = 500 * time.Millisecond

	// teardownTimeout bounds sandbox destruction on the exit paths.
	teardownTimeout = 30 * time.Second
)

// CreateRequest carries a task submission.
type CreateRequest struct {
	Prompt      string
	RepoURL     string
	Agent       types.AgentKind
	Model       string
	InstallDeps bool

	// MaxDuration overrides the global budget, in minutes. Zero keeps the
	// default.
	MaxDuration int

	// ExistingBranch resumes work on a branch instead of creating one.
	ExistingBranch string
}

// Orchestrator runs tasks through their full lifecycle.
type Orchestrator struct {
	store       storage.Storage
	provisioner *sandbox.Provisioner
	executor    *agent.Executor
	publisher   *gitops.Publisher
	resolver    *namer.Resolver
	registry    *registry.Registry
	redactor    *redact.Redactor
	timeout     time.Duration
	logger      log.Logger

	wg sync.WaitGroup
}

// Config holds orchestrator configuration.
type Config struct {
	Store       storage.Storage
	Provisioner *sandbox.Provisioner
	Executor    *agent.Executor
	Publisher   *gitops.Publisher

	// Resolver generates branch names. Optional: without it every task
	// gets the deterministic fallback name.
	Resolver *namer.Resolver

	Registry *registry.Registry

	// Redactor scrubs secrets from everything the orchestrator persists.
	Redactor *redact.Redactor

	// GlobalTimeout bounds one task end to end. Default: 5 minutes.
	GlobalTimeout time.Duration

	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Provisioner == nil {
		return fmt.Errorf("provisioner is required")
	}
	if c.Executor == nil {
		return fmt.Errorf("executor is required")
	}
	if c.Publisher == nil {
		return fmt.Errorf("publisher is required")
	}
	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}
	if c.Redactor == nil {
		c.Redactor = redact.New()
	}
	if c.GlobalTimeout == 0 {
		c.GlobalTimeout = defaultGlobalTimeout
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "orchestrator.Orchestrator"})
	return nil
}

// New creates a task orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Orchestrator{
		store:       cfg.Store,
		provisioner: cfg.Provisioner,
		executor:    cfg.Executor,
		publisher:   cfg.Publisher,
		resolver:    cfg.Resolver,
		registry:    cfg.Registry,
		redactor:    cfg.Redactor,
		timeout:     cfg.GlobalTimeout,
		logger:      cfg.Logger,
	}, nil
}

// Create validates and persists a new task, then starts processing it in
// the background. Name generation runs concurrently with processing; the
// first writer to persist a branch name wins.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*types.Task, error) {
	task := &types.Task{
		ID:          uuid.NewString(),
		Prompt:      req.Prompt,
		RepoURL:     req.RepoURL,
		Agent:       req.Agent,
		Model:       req.Model,
		InstallDeps: req.InstallDeps,
		MaxDuration: req.MaxDuration,
		Status:      types.StatusPending,
		BranchName:  req.ExistingBranch,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}

	if err := o.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}
	o.logger.Infof("Created task %s (agent=%s repo=%s)", task.ID, task.Agent, task.RepoURL)

	// Name generation races the processing path. Resuming an existing
	// branch skips generation entirely, the name is already persisted.
	if o.resolver != nil && req.ExistingBranch == "" {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			nameCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := o.resolver.Resolve(nameCtx, task); err != nil {
				o.logger.Warningf("Branch name resolution for task %s failed: %v", task.ID, err)
			}
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(task.ID, req)
	}()

	return task, nil
}

// Stop requests cooperative cancellation of a task and tears down its
// sandbox. It is idempotent and safe to call regardless of task state.
func (o *Orchestrator) Stop(ctx context.Context, taskID string) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		return nil
	}

	if err := o.store.RequestStop(ctx, taskID); err != nil {
		return fmt.Errorf("failed to set stop flag: %w", err)
	}

	if err := o.registry.DestroyFor(ctx, taskID); err != nil {
		o.logger.Warningf("Sandbox teardown during stop of task %s failed: %v", taskID, err)
	}

	applied, err := o.store.MarkStopped(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to mark task stopped: %w", err)
	}
	if applied {
		o.logger.Infof("Stopped task %s", taskID)
	}
	return nil
}

// Wait blocks until all background task goroutines finish. Used for
// graceful shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Purge bulk-deletes tasks in the given statuses and returns how many
// were removed.
func (o *Orchestrator) Purge(ctx context.Context, statuses ...types.TaskStatus) (int, error) {
	return o.store.DeleteTasksByStatus(ctx, statuses...)
}

// CleanupResult reports what Cleanup removed.
type CleanupResult struct {
	SandboxesDestroyed int
	TasksDeleted       int
}

// Cleanup destroys every registered sandbox in parallel and deletes all
// terminal tasks.
func (o *Orchestrator) Cleanup(ctx context.Context) (*CleanupResult, error) {
	tasks, err := o.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	result := &CleanupResult{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, task := range tasks {
		if o.registry.Get(task.ID) == nil {
			continue
		}
		id := task.ID
		g.Go(func() error {
			destroyed, err := o.registry.Release(gctx, id)
			if err != nil {
				return err
			}
			if destroyed {
				mu.Lock()
				result.SandboxesDestroyed++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("sandbox cleanup failed: %w", err)
	}

	deleted, err := o.store.DeleteTasksByStatus(ctx, types.StatusCompleted, types.StatusError, types.StatusStopped)
	if err != nil {
		return result, fmt.Errorf("failed to delete terminal tasks: %w", err)
	}
	result.TasksDeleted = deleted
	return result, nil
}

// run executes one task in the background, detached from the submitting
// request. All failures funnel through the single error handler at the
// bottom; teardown runs exactly once on every exit path.
func (o *Orchestrator) run(taskID string, req CreateRequest) {
	budget := o.timeout
	if req.MaxDuration > 0 {
		budget = time.Duration(req.MaxDuration) * time.Minute
	}

	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	logger := o.logger.WithValues(log.Kv{"task": taskID})

	tl, err := tasklog.New(tasklog.Config{
		Store:    o.store,
		TaskID:   taskID,
		Redactor: o.redactor,
		Logger:   logger,
	})
	if err != nil {
		logger.Errorf("Failed to build task logger: %v", err)
		return
	}

	warn := time.AfterFunc(time.Duration(float64(budget)*warningFraction), func() {
		tl.Info(context.Background(), "Task has used most of its %s budget", budget)
		logger.Warningf("Task approaching its %s budget", budget)
	})
	defer warn.Stop()

	// Teardown is deferred once, here, so the normal, error and timeout
	// exits all release the sandbox exactly once. Release only touches this
	// task's own entry: a stop request may already have torn it down.
	defer func() {
		tdCtx, tdCancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer tdCancel()
		if _, err := o.registry.Release(tdCtx, taskID); err != nil {
			logger.Warningf("Sandbox teardown failed: %v", err)
		}
	}()

	if err := o.process(ctx, taskID, req, budget, tl, logger); err != nil {
		o.fail(taskID, tl, logger, err)
	}
}

func (o *Orchestrator) process(ctx context.Context, taskID string, req CreateRequest, budget time.Duration, tl *tasklog.Logger, logger log.Logger) error {
	applied, err := o.store.MarkProcessing(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to mark task processing: %w", err)
	}
	if !applied {
		// Stopped or otherwise finalized before processing began.
		logger.Infof("Task no longer pending, skipping")
		return nil
	}

	tl.Info(ctx, "Task accepted, preparing environment")
	tl.Progress(ctx, 10)

	stopProbe := func(ctx context.Context) (bool, error) {
		return o.store.StopRequested(ctx, taskID)
	}

	branch, err := o.awaitBranchName(ctx, taskID, req)
	if err != nil {
		return err
	}

	prov, err := o.provisioner.Provision(ctx, sandbox.ProvisionRequest{
		TaskID:            taskID,
		RepoURL:           req.RepoURL,
		ExistingBranch:    req.ExistingBranch,
		PrecomputedBranch: branch,
		InstallDeps:       req.InstallDeps,
		TaskLog:           tl,
		StopRequested:     stopProbe,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("task exceeded its %s budget during provisioning: %w", budget, types.ErrTimeout)
		}
		return err
	}

	if err := o.store.SetSandboxURL(ctx, taskID, prov.URL); err != nil {
		logger.Warningf("Failed to persist sandbox URL: %v", err)
	}

	// Checkpoint: last chance to stop before the agent starts.
	if stopped, err := stopProbe(ctx); err == nil && stopped {
		return fmt.Errorf("stop requested before agent execution: %w", types.ErrCancelled)
	}

	tl.Info(ctx, "Running %s agent", req.Agent)
	tl.Progress(ctx, 50)

	result, err := o.executeAgent(ctx, taskID, req, prov.Handle, tl)
	if err != nil {
		return err
	}
	if result.Err != nil {
		tl.Error(ctx, "Agent failed: %s", result.Err.Message)
		return fmt.Errorf("agent %s failed (%s): %s", req.Agent, result.Err.Kind, result.Err.Message)
	}

	tl.Success(ctx, "Agent finished")
	if !result.ChangesDetected {
		tl.Info(ctx, "Agent made no changes to the working tree")
	}

	pub, err := o.publisher.Publish(ctx, prov.Handle, prov.Branch, req.Prompt)
	if err != nil {
		return fmt.Errorf("failed to publish changes: %w", err)
	}
	if pub.PushFailed {
		tl.Error(ctx, "Changes committed but push was rejected: %s", pub.Reason)
		return fmt.Errorf("changes committed locally but push to %s was rejected: %s", prov.Branch, pub.Reason)
	}
	if pub.Pushed {
		tl.Success(ctx, "Pushed branch %s (%s)", prov.Branch, pub.CommitHash)
	}

	tl.Progress(ctx, 100)
	applied, err = o.store.MarkCompleted(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to mark task completed: %w", err)
	}
	if !applied {
		logger.Infof("Task was finalized elsewhere, completion not recorded")
		return nil
	}

	logger.Infof("Task completed on branch %s", prov.Branch)
	return nil
}

// awaitBranchName waits a bounded time for the racing name generation to
// persist a branch name, then falls back deterministically. Either way a
// name is persisted before provisioning starts and first writer wins.
func (o *Orchestrator) awaitBranchName(ctx context.Context, taskID string, req CreateRequest) (string, error) {
	if req.ExistingBranch != "" {
		return req.ExistingBranch, nil
	}

	// Without a resolver there is no race to wait for.
	deadline := time.Now()
	if o.resolver != nil {
		deadline = time.Now().Add(branchNameWait)
	}
	ticker := time.NewTicker(branchNamePoll)
	defer ticker.Stop()

	for {
		task, err := o.store.GetTask(ctx, taskID)
		if err != nil {
			return "", fmt.Errorf("failed to poll branch name: %w", err)
		}
		if task.BranchName != "" {
			return task.BranchName, nil
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("canceled while waiting for branch name: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	fallback := namer.Fallback(taskID)
	won, err := o.store.SetBranchNameIfEmpty(ctx, taskID, fallback)
	if err != nil {
		return "", fmt.Errorf("failed to persist fallback branch name: %w", err)
	}
	if !won {
		// Generation landed between the last poll and the fallback write.
		task, err := o.store.GetTask(ctx, taskID)
		if err != nil {
			return "", fmt.Errorf("failed to read persisted branch name: %w", err)
		}
		return task.BranchName, nil
	}
	return fallback, nil
}

// executeAgent runs the agent under its per-agent budget, racing the
// task's global deadline.
func (o *Orchestrator) executeAgent(ctx context.Context, taskID string, req CreateRequest, h sandbox.Handle, tl *tasklog.Logger) (*agent.Result, error) {
	agentCtx, cancel := context.WithTimeout(ctx, o.executor.Timeout(req.Agent))
	defer cancel()

	result, err := o.executor.Execute(agentCtx, agent.ExecuteRequest{
		Handle:  h,
		Prompt:  req.Prompt,
		Agent:   req.Agent,
		Model:   req.Model,
		TaskLog: tl,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("task budget exhausted during agent execution: %w", types.ErrTimeout)
		}
		return nil, fmt.Errorf("agent execution failed: %w", err)
	}
	return result, nil
}

// fail finalizes a task that left the pipeline with an error. A stop that
// already landed is preserved: the guarded status writes refuse to
// overwrite a terminal state.
func (o *Orchestrator) fail(taskID string, tl *tasklog.Logger, logger log.Logger, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if errors.Is(err, types.ErrCancelled) {
		applied, markErr := o.store.MarkStopped(ctx, taskID)
		if markErr != nil {
			logger.Errorf("Failed to mark task stopped: %v", markErr)
			return
		}
		if applied {
			tl.Info(ctx, "Task stopped")
		}
		return
	}

	msg := o.redactor.Redact(err.Error())
	tl.Error(ctx, "Task failed: %s", msg)

	applied, markErr := o.store.MarkError(ctx, taskID, msg)
	if markErr != nil {
		logger.Errorf("Failed to mark task errored: %v", markErr)
		return
	}
	if !applied {
		logger.Infof("Task already finalized, error not recorded: %s", msg)
		return
	}
	logger.Errorf("Task failed: %s", msg)
}
