package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskdock/taskdock/internal/log"
	"github.com/taskdock/taskdock/internal/sandbox"
)

// runnerDeps is the shared plumbing embedded by every variant runner.
type runnerDeps struct {
	creds  map[string]string
	logger log.Logger
}

// env builds the sandbox environment for an invocation, forwarding only
// the credentials the variant asked for.
func (d *runnerDeps) env(keys ...string) map[string]string {
	env := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := d.creds[k]; ok && v != "" {
			env[k] = v
		}
	}
	return env
}

// requireCredential fails fast with a structured error naming the missing
// environment variable.
func (d *runnerDeps) requireCredential(key string) *Error {
	if d.creds[key] == "" {
		return &Error{
			Kind:    ErrKindMissingCredential,
			Message: fmt.Sprintf("%s is not set", key),
		}
	}
	return nil
}

// cliInstalled checks whether a CLI binary is on the sandbox PATH.
func (d *runnerDeps) cliInstalled(ctx context.Context, h sandbox.Handle, cli string) (bool, error) {
	res, err := h.RunCommand(ctx, "which", []string{cli}, nil)
	if err != nil {
		return false, fmt.Errorf("failed to probe for %s: %w", cli, err)
	}
	return res.ExitCode == 0, nil
}

// ensureInstalled installs a CLI from its npm package when it is absent.
// Variants with an alternate install path layer it on top of this.
func (d *runnerDeps) ensureInstalled(ctx context.Context, req ExecuteRequest, cli, npmPackage string) *Error {
	installed, err := d.cliInstalled(ctx, req.Handle, cli)
	if err != nil {
		return &Error{Kind: ErrKindInternal, Message: err.Error()}
	}
	if installed {
		return nil
	}

	if req.TaskLog != nil {
		req.TaskLog.Command(ctx, "npm install -g %s", npmPackage)
	}
	res, err := req.Handle.RunCommand(ctx, "npm", []string{"install", "-g", npmPackage}, nil)
	if err != nil {
		return &Error{Kind: ErrKindCLINotFound, Message: fmt.Sprintf("failed to install %s: %v", npmPackage, err)}
	}
	if res.ExitCode != 0 {
		return &Error{Kind: ErrKindCLINotFound, Message: fmt.Sprintf("npm install -g %s exited with code %d: %s", npmPackage, res.ExitCode, res.Stderr)}
	}

	installed, err = d.cliInstalled(ctx, req.Handle, cli)
	if err != nil {
		return &Error{Kind: ErrKindInternal, Message: err.Error()}
	}
	if !installed {
		return &Error{Kind: ErrKindCLINotFound, Message: fmt.Sprintf("%s still not found after installing %s", cli, npmPackage)}
	}
	return nil
}

// invoke runs the CLI and converges on the uniform result shape. Partial
// output is always returned, even on failure or timeout, for diagnosis.
func (d *runnerDeps) invoke(ctx context.Context, req ExecuteRequest, cli string, args []string, env map[string]string) (*Result, error) {
	if req.TaskLog != nil {
		req.TaskLog.Command(ctx, "%s %s", cli, renderArgs(args, req.Prompt))
	}

	res, err := req.Handle.RunCommand(ctx, cli, args, env)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &Result{Err: &Error{Kind: ErrKindTimeout, Message: fmt.Sprintf("%s execution timed out", cli)}}, nil
		}
		return nil, fmt.Errorf("%s invocation failed: %w", cli, err)
	}

	result := &Result{Output: combineOutput(res)}
	if res.ExitCode != 0 {
		result.Err = &Error{
			Kind:    ErrKindNonZeroExit,
			Message: fmt.Sprintf("%s exited with code %d", cli, res.ExitCode),
		}
		return result, nil
	}

	changed, err := detectChanges(ctx, req.Handle)
	if err != nil {
		d.logger.Warningf("Failed to inspect working tree after %s run: %v", cli, err)
	}
	result.Success = true
	result.ChangesDetected = changed
	return result, nil
}

// renderArgs shows the invocation in logs with the prompt elided, prompts
// can be thousands of characters.
func renderArgs(args []string, prompt string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		if a == prompt {
			out += "<instruction>"
			continue
		}
		out += a
	}
	return out
}
