package agent

import "context"

// claudeRunner drives the Anthropic Claude Code CLI.
type claudeRunner struct {
	runnerDeps
}

func (r *claudeRunner) Run(ctx context.Context, req ExecuteRequest) (*Result, error) {
	if aerr := r.requireCredential("ANTHROPIC_API_KEY"); aerr != nil {
		return &Result{Err: aerr}, nil
	}
	if aerr := r.ensureInstalled(ctx, req, "claude", "@anthropic-ai/claude-code"); aerr != nil {
		return &Result{Err: aerr}, nil
	}

	// Sandboxes are isolated, so permission prompts can be skipped for
	// autonomous operation.
	args := []string{"-p", req.Prompt, "--output-format", "text", "--dangerously-skip-permissions"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}

	return r.invoke(ctx, req, "claude", args, r.env("ANTHROPIC_API_KEY"))
}
