package agent

import "context"

// geminiRunner drives the Google Gemini CLI.
type geminiRunner struct {
	runnerDeps
}

func (r *geminiRunner) Run(ctx context.Context, req ExecuteRequest) (*Result, error) {
	if aerr := r.requireCredential("GEMINI_API_KEY"); aerr != nil {
		return &Result{Err: aerr}, nil
	}
	if aerr := r.ensureInstalled(ctx, req, "gemini", "@google/gemini-cli"); aerr != nil {
		return &Result{Err: aerr}, nil
	}

	args := []string{"-p", req.Prompt, "--yolo"}
	if req.Model != "" {
		args = append(args, "-m", req.Model)
	}

	return r.invoke(ctx, req, "gemini", args, r.env("GEMINI_API_KEY"))
}
