package agent

import (
	"context"
	"strconv"
)

// opencodeRunner drives the OpenCode CLI. OpenCode can talk to several
// model providers, so any one of the provider keys satisfies the
// credential check. The npm package is the primary install path with the
// vendor install script as fallback.
type opencodeRunner struct {
	runnerDeps
}

var opencodeCredentialEnvs = []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "OPENROUTER_API_KEY"}

func (r *opencodeRunner) Run(ctx context.Context, req ExecuteRequest) (*Result, error) {
	hasCred := false
	for _, key := range opencodeCredentialEnvs {
		if r.creds[key] != "" {
			hasCred = true
			break
		}
	}
	if !hasCred {
		return &Result{Err: &Error{
			Kind:    ErrKindMissingCredential,
			Message: "none of ANTHROPIC_API_KEY, OPENAI_API_KEY, OPENROUTER_API_KEY is set",
		}}, nil
	}

	if aerr := r.ensureInstalled(ctx, req, "opencode", "opencode-ai"); aerr != nil {
		if aerr.Kind != ErrKindCLINotFound {
			return &Result{Err: aerr}, nil
		}
		// npm path failed, try the vendor install script.
		if scriptErr := r.installFromScript(ctx, req); scriptErr != nil {
			return &Result{Err: scriptErr}, nil
		}
	}

	args := []string{"run", req.Prompt}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}

	return r.invoke(ctx, req, "opencode", args, r.env(opencodeCredentialEnvs...))
}

func (r *opencodeRunner) installFromScript(ctx context.Context, req ExecuteRequest) *Error {
	if req.TaskLog != nil {
		req.TaskLog.Command(ctx, "curl -fsSL https://opencode.ai/install | bash")
	}
	res, err := req.Handle.RunCommand(ctx, "bash", []string{"-c", "curl -fsSL https://opencode.ai/install | bash"}, nil)
	if err != nil {
		return &Error{Kind: ErrKindCLINotFound, Message: "opencode install script failed: " + err.Error()}
	}
	if res.ExitCode != 0 {
		return &Error{Kind: ErrKindCLINotFound, Message: "opencode install script exited with code " + strconv.Itoa(res.ExitCode)}
	}

	installed, err := r.cliInstalled(ctx, req.Handle, "opencode")
	if err != nil || !installed {
		return &Error{Kind: ErrKindCLINotFound, Message: "opencode still not found after install script"}
	}
	return nil
}
