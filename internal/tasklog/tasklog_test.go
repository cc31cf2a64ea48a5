package tasklog

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdock/taskdock/internal/redact"
	"github.com/taskdock/taskdock/internal/storage"
	"github.com/taskdock/taskdock/internal/types"
)

func newTestLogger(t *testing.T, secrets ...string) (*Logger, storage.Storage, string) {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewStorage(ctx, &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	task := &types.Task{
		ID:      "t1",
		Prompt:  "Fix typo in README",
		RepoURL: "https://github.com/acme/site",
		Agent:   types.AgentClaude,
		Status:  types.StatusPending,
	}
	require.NoError(t, store.CreateTask(ctx, task))

	logger, err := New(Config{
		Store:    store,
		TaskID:   task.ID,
		Redactor: redact.New(secrets...),
	})
	require.NoError(t, err)
	return logger, store, task.ID
}

func TestLoggerAppendsTypedEntries(t *testing.T) {
	logger, store, taskID := newTestLogger(t)
	ctx := context.Background()

	logger.Info(ctx, "preparing %s", "sandbox")
	logger.Command(ctx, "npm install")
	logger.Error(ctx, "install failed")
	logger.Success(ctx, "done")

	entries, err := store.GetLogs(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, types.LogInfo, entries[0].Type)
	assert.Equal(t, "preparing sandbox", entries[0].Message)
	assert.Equal(t, types.LogCommand, entries[1].Type)
	assert.Equal(t, types.LogError, entries[2].Type)
	assert.Equal(t, types.LogSuccess, entries[3].Type)
}

func TestSecretsNeverReachStorage(t *testing.T) {
	const secret = "tok_ABCDEF123"
	logger, store, taskID := newTestLogger(t, secret)
	ctx := context.Background()

	logger.Info(ctx, "cloning https://x-access-token:%s@github.com/acme/site", secret)
	logger.Error(ctx, "push failed for token %s", secret)

	entries, err := store.GetLogs(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, entry := range entries {
		assert.NotContains(t, entry.Message, secret)
		assert.True(t, strings.Contains(entry.Message, redact.Placeholder))
	}
}

func TestProgressWrites(t *testing.T) {
	logger, store, taskID := newTestLogger(t)
	ctx := context.Background()

	_, err := store.MarkProcessing(ctx, taskID)
	require.NoError(t, err)

	logger.Progress(ctx, 10)
	logger.Progress(ctx, 50)

	task, err := store.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, 50, task.Progress)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
