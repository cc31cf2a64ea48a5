package deps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// scriptNoLockfiles makes every lock-file probe miss.
func scriptNoLockfiles(client *fake.Client) {
	for _, f := range []string{"pnpm-lock.yaml", "yarn.lock", "bun.lockb", "package-lock.json"} {
		client.ScriptCommand("test -f "+f, sandbox.ExecResult{ExitCode: 1}, nil)
	}
}

func TestDetectManagerPriority(t *testing.T) {
	tests := []struct {
		name    string
		present []string
		want    Manager
	}{
		{name: "pnpm wins over yarn", present: []string{"pnpm-lock.yaml", "yarn.lock"}, want: ManagerPnpm},
		{name: "yarn wins over npm", present: []string{"yarn.lock", "package-lock.json"}, want: ManagerYarn},
		{name: "bun before npm", present: []string{"bun.lockb", "package-lock.json"}, want: ManagerBun},
		{name: "npm lockfile", present: []string{"package-lock.json"}, want: ManagerNpm},
		{name: "no lockfile defaults to npm", present: nil, want: ManagerNpm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, h := newSandbox(t)
			scriptNoLockfiles(client)
			for _, f := range tt.present {
				client.ScriptCommand("test -f "+f, sandbox.ExecResult{ExitCode: 0}, nil)
			}

			installer := New(Config{})
			got, err := installer.DetectManager(context.Background(), h)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInstallSuccess(t *testing.T) {
	client, h := newSandbox(t)
	scriptNoLockfiles(client)
	client.ScriptCommand("test -f yarn.lock", sandbox.ExecResult{ExitCode: 0}, nil)
	client.ScriptCommand("yarn install", sandbox.ExecResult{ExitCode: 0}, nil)

	installer := New(Config{})
	result, err := installer.Install(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, string(ManagerYarn), result.Manager)
	assert.False(t, result.Retried)
}

func TestInstallRetriesOnceWithNpm(t *testing.T) {
	client, h := newSandbox(t)
	scriptNoLockfiles(client)
	client.ScriptCommand("test -f pnpm-lock.yaml", sandbox.ExecResult{ExitCode: 0}, nil)
	client.ScriptCommand("pnpm install", sandbox.ExecResult{ExitCode: 1, Stderr: "pnpm exploded"}, nil)
	client.ScriptCommand("npm install", sandbox.ExecResult{ExitCode: 0}, nil)

	installer := New(Config{})
	result, err := installer.Install(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, string(ManagerNpm), result.Manager)
	assert.True(t, result.Retried)
}

func TestInstallNpmFailureDoesNotRetry(t *testing.T) {
	client, h := newSandbox(t)
	scriptNoLockfiles(client)
	client.ScriptCommand("npm install", sandbox.ExecResult{ExitCode: 1, Stderr: "registry down"}, nil)

	installer := New(Config{})
	result, err := installer.Install(context.Background(), h)
	require.Error(t, err)
	assert.Equal(t, string(ManagerNpm), result.Manager)
	assert.False(t, result.Retried)

	// Exactly one npm attempt ran.
	installs := 0
	for _, cmd := range client.Handles()[0].Commands() {
		if cmd == "npm install --no-audit --no-fund" {
			installs++
		}
	}
	assert.Equal(t, 1, installs)
}

func TestInstallTimeoutIsTypedError(t *testing.T) {
	client, h := newSandbox(t)
	scriptNoLockfiles(client)
	client.ScriptCommand("npm install", sandbox.ExecResult{}, context.DeadlineExceeded)

	installer := New(Config{Timeout: 10 * time.Millisecond})
	result, err := installer.Install(context.Background(), h)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.Equal(t, string(ManagerNpm), result.Manager)
}
