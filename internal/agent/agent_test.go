package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdock/taskdock/internal/redact"
	"github.com/taskdock/taskdock/internal/sandbox"
	"github.com/taskdock/taskdock/internal/sandbox/fake"
	"github.com/taskdock/taskdock/internal/types"
)

func newSandbox(t *testing.T) (*fake.Client, sandbox.Handle) {
	t.Helper()
	client := fake.NewClient(fake.ClientConfig{})
	h, err := client.Create(context.Background(), sandbox.CreateRequest{})
	require.NoError(t, err)
	return client, h
}

func newExecutor(t *testing.T, creds map[string]string) *Executor {
	t.Helper()
	e, err := NewExecutor(Config{Credentials: creds})
	require.NoError(t, err)
	return e
}

func TestExecuteRejectsInvalidRequests(t *testing.T) {
	e := newExecutor(t, nil)
	_, h := newSandbox(t)

	tests := []struct {
		name string
		req  ExecuteRequest
	}{
		{name: "unsupported agent", req: ExecuteRequest{Handle: h, Prompt: "do it", Agent: "copilot"}},
		{name: "missing handle", req: ExecuteRequest{Prompt: "do it", Agent: types.AgentClaude}},
		{name: "empty prompt", req: ExecuteRequest{Handle: h, Prompt: "  ", Agent: types.AgentClaude}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Execute(context.Background(), tt.req)
			assert.ErrorIs(t, err, types.ErrNotValid)
		})
	}
}

func TestMissingCredentialFailsFast(t *testing.T) {
	tests := []struct {
		agent   types.AgentKind
		wantEnv string
	}{
		{types.AgentClaude, "ANTHROPIC_API_KEY"},
		{types.AgentCodex, "OPENAI_API_KEY"},
		{types.AgentGemini, "GEMINI_API_KEY"},
		{types.AgentAmp, "AMP_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(string(tt.agent), func(t *testing.T) {
			e := newExecutor(t, nil)
			client, h := newSandbox(t)

			result, err := e.Execute(context.Background(), ExecuteRequest{
				Handle: h, Prompt: "do it", Agent: tt.agent,
			})
			require.NoError(t, err)
			require.NotNil(t, result.Err)
			assert.Equal(t, ErrKindMissingCredential, result.Err.Kind)
			assert.Contains(t, result.Err.Message, tt.wantEnv)

			// Failing fast means no command ran in the sandbox.
			assert.Empty(t, client.Handles()[0].Commands())
		})
	}
}

func TestOpenCodeAcceptsAnyProviderKey(t *testing.T) {
	e := newExecutor(t, map[string]string{"OPENROUTER_API_KEY": "or-key-12345"})
	client, h := newSandbox(t)
	client.ScriptCommand("git status --porcelain", sandbox.ExecResult{ExitCode: 0, Stdout: " M a.go\n"}, nil)

	result, err := e.Execute(context.Background(), ExecuteRequest{
		Handle: h, Prompt: "do it", Agent: types.AgentOpenCode,
	})
	require.NoError(t, err)
	require.Nil(t, result.Err)
	assert.True(t, result.Success)
}

func TestClaudeRunSuccess(t *testing.T) {
	e := newExecutor(t, map[string]string{"ANTHROPIC_API_KEY": "sk-ant-12345"})
	client, h := newSandbox(t)
	client.ScriptCommand("claude -p", sandbox.ExecResult{ExitCode: 0, Stdout: "Fixed the typo."}, nil)
	client.ScriptCommand("git status --porcelain", sandbox.ExecResult{ExitCode: 0, Stdout: " M README.md\n"}, nil)

	result, err := e.Execute(context.Background(), ExecuteRequest{
		Handle: h, Prompt: "Fix typo in README", Agent: types.AgentClaude,
	})
	require.NoError(t, err)
	require.Nil(t, result.Err)
	assert.True(t, result.Success)
	assert.True(t, result.ChangesDetected)
	assert.Contains(t, result.Output, "Fixed the typo.")

	commands := client.Handles()[0].Commands()
	joined := strings.Join(commands, "\n")
	assert.Contains(t, joined, "claude -p Fix typo in README --output-format text --dangerously-skip-permissions")
}

func TestCLIInstalledOnDemand(t *testing.T) {
	e := newExecutor(t, map[string]string{"GEMINI_API_KEY": "gm-key-12345"})
	client, h := newSandbox(t)
	client.ScriptCommand("which gemini", sandbox.ExecResult{ExitCode: 1}, nil)
	// After the npm install the probe still reports missing, which is a
	// structured cli_not_found failure.
	result, err := e.Execute(context.Background(), ExecuteRequest{
		Handle: h, Prompt: "do it", Agent: types.AgentGemini,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Err)
	assert.Equal(t, ErrKindCLINotFound, result.Err.Kind)

	commands := client.Handles()[0].Commands()
	assert.Contains(t, commands, "npm install -g @google/gemini-cli")
}

func TestNonZeroExitReturnsPartialOutput(t *testing.T) {
	e := newExecutor(t, map[string]string{"ANTHROPIC_API_KEY": "sk-ant-12345"})
	client, h := newSandbox(t)
	client.ScriptCommand("claude -p", sandbox.ExecResult{ExitCode: 2, Stdout: "partial work", Stderr: "boom"}, nil)

	result, err := e.Execute(context.Background(), ExecuteRequest{
		Handle: h, Prompt: "do it", Agent: types.AgentClaude,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Err)
	assert.Equal(t, ErrKindNonZeroExit, result.Err.Kind)
	assert.False(t, result.Success)
	assert.Contains(t, result.Output, "partial work")
	assert.Contains(t, result.Output, "boom")
}

func TestTimeoutIsTypedResult(t *testing.T) {
	e := newExecutor(t, map[string]string{"ANTHROPIC_API_KEY": "sk-ant-12345"})
	client, h := newSandbox(t)
	client.ScriptCommand("claude -p", sandbox.ExecResult{}, context.DeadlineExceeded)

	result, err := e.Execute(context.Background(), ExecuteRequest{
		Handle: h, Prompt: "do it", Agent: types.AgentClaude,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Err)
	assert.Equal(t, ErrKindTimeout, result.Err.Kind)
}

func TestOutputIsRedacted(t *testing.T) {
	const secret = "tok_ABCDEF123"
	e, err := NewExecutor(Config{
		Credentials: map[string]string{"ANTHROPIC_API_KEY": secret},
		Redactor:    redact.New(secret),
	})
	require.NoError(t, err)

	client, h := newSandbox(t)
	client.ScriptCommand("claude -p", sandbox.ExecResult{ExitCode: 2, Stdout: "key is " + secret, Stderr: "auth " + secret}, nil)

	result, execErr := e.Execute(context.Background(), ExecuteRequest{
		Handle: h, Prompt: "do it", Agent: types.AgentClaude,
	})
	require.NoError(t, execErr)
	assert.NotContains(t, result.Output, secret)
	assert.NotContains(t, result.Err.Message, secret)
}

func TestPerAgentTimeouts(t *testing.T) {
	e := newExecutor(t, nil)
	assert.Equal(t, e.Timeout(types.AgentCodex), e.Timeout(types.AgentOpenCode))
	assert.Greater(t, e.Timeout(types.AgentCodex), e.Timeout(types.AgentClaude))
	assert.Equal(t, e.Timeout(types.AgentClaude), e.Timeout(types.AgentAmp))
}

func TestAmpInvocation(t *testing.T) {
	e := newExecutor(t, map[string]string{"AMP_API_KEY": "amp-key-12345"})
	client, h := newSandbox(t)
	client.ScriptCommand("git status --porcelain", sandbox.ExecResult{ExitCode: 0, Stdout: " M a.go\n"}, nil)

	result, err := e.Execute(context.Background(), ExecuteRequest{Handle: h, Prompt: "do it", Agent: types.AgentAmp})
	require.NoError(t, err)
	require.Nil(t, result.Err)
	assert.True(t, result.Success)
	assert.True(t, result.ChangesDetected)

	joined := strings.Join(client.Handles()[0].Commands(), "\n")
	assert.Contains(t, joined, "amp --execute do it --dangerously-allow-all")
}
