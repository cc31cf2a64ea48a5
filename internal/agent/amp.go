package agent

import (
	"context"
	"time"
)

// ampRunner drives the Sourcegraph Amp CLI. Amp occasionally reports
// success before its thread has finished flushing edits to disk, so a
// successful run with no visible changes re-checks the working tree a few
// times before concluding nothing changed. The poll is hard-capped; it
// never waits out the per-agent budget.
type ampRunner struct {
	runnerDeps
}

const (
	ampSettlePolls    = 5
	ampSettleInterval = 2 * time.Second
)

func (r *ampRunner) Run(ctx context.Context, req ExecuteRequest) (*Result, error) {
	if aerr := r.requireCredential("AMP_API_KEY"); aerr != nil {
		return &Result{Err: aerr}, nil
	}
	if aerr := r.ensureInstalled(ctx, req, "amp", "@sourcegraph/amp"); aerr != nil {
		return &Result{Err: aerr}, nil
	}

	// amp requires --execute for single-shot execution; permission checks
	// are bypassed because the sandbox is isolated.
	args := []string{"--execute", req.Prompt, "--dangerously-allow-all"}

	result, err := r.invoke(ctx, req, "amp", args, r.env("AMP_API_KEY"))
	if err != nil {
		return nil, err
	}

	if result.Success && !result.ChangesDetected {
		result.ChangesDetected = r.waitForSettle(ctx, req)
	}
	return result, nil
}

func (r *ampRunner) waitForSettle(ctx context.Context, req ExecuteRequest) bool {
	ticker := time.NewTicker(ampSettleInterval)
	defer ticker.Stop()

	for i := 0; i < ampSettlePolls; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}

		changed, err := detectChanges(ctx, req.Handle)
		if err != nil {
			r.logger.Warningf("Settle poll failed: %v", err)
			return false
		}
		if changed {
			return true
		}
	}
	return false
}
