package agent

import "context"

// codexRunner drives the OpenAI Codex CLI. Newer releases use the "exec"
// subcommand; older installs only understand the quiet flag, so a failed
// modern invocation falls back to the legacy form exactly once.
type codexRunner struct {
	runnerDeps
}

func (r *codexRunner) Run(ctx context.Context, req ExecuteRequest) (*Result, error) {
	if aerr := r.requireCredential("OPENAI_API_KEY"); aerr != nil {
		return &Result{Err: aerr}, nil
	}
	if aerr := r.ensureInstalled(ctx, req, "codex", "@openai/codex"); aerr != nil {
		return &Result{Err: aerr}, nil
	}

	env := r.env("OPENAI_API_KEY")

	args := []string{"exec", "--full-auto", "--skip-git-repo-check"}
	if req.Model != "" {
		args = append(args, "-m", req.Model)
	}
	args = append(args, req.Prompt)

	result, err := r.invoke(ctx, req, "codex", args, env)
	if err != nil {
		return nil, err
	}
	if result.Err == nil || result.Err.Kind != ErrKindNonZeroExit {
		return result, nil
	}

	// Legacy fallback invocation.
	r.logger.Warningf("codex exec invocation failed, retrying with legacy flags")
	legacyArgs := []string{"-q", "--full-auto", req.Prompt}
	legacyResult, err := r.invoke(ctx, req, "codex", legacyArgs, env)
	if err != nil {
		return nil, err
	}
	if legacyResult.Output == "" {
		legacyResult.Output = result.Output
	}
	return legacyResult, nil
}
