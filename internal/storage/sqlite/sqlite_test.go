package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdock/taskdock/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestTask(id string) *types.Task {
	return &types.Task{
		ID:      id,
		Prompt:  "Fix typo in README",
		RepoURL: "https://github.com/acme/site",
		Agent:   types.AgentClaude,
		Status:  types.StatusPending,
	}
}

func createTestTask(t *testing.T, store *SQLiteStorage, id string) *types.Task {
	t.Helper()
	task := newTestTask(id)
	require.NoError(t, store.CreateTask(context.Background(), task))
	return task
}

func TestCreateAndGetTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := createTestTask(t, store, "t1")

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.Prompt, got.Prompt)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.False(t, got.StopRequested)
	assert.Nil(t, got.CompletedAt)
}

func TestCreateTaskDuplicate(t *testing.T) {
	store := newTestStore(t)
	createTestTask(t, store, "t1")

	err := store.CreateTask(context.Background(), newTestTask("t1"))
	assert.ErrorIs(t, err, types.ErrAlreadyExists)
}

func TestGetTaskNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStatusLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	task := createTestTask(t, store, "t1")

	applied, err := store.MarkProcessing(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	// A second MarkProcessing finds the guard closed.
	applied, err = store.MarkProcessing(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = store.MarkCompleted(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)
}

func TestStoppedIsNeverOverwrittenByError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	task := createTestTask(t, store, "t1")

	_, err := store.MarkProcessing(ctx, task.ID)
	require.NoError(t, err)

	applied, err := store.MarkStopped(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	// The racing error path loses.
	applied, err = store.MarkError(ctx, task.ID, "boom")
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, got.Status)
	assert.Empty(t, got.Error)
}

func TestMarkErrorFromPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	task := createTestTask(t, store, "t1")

	applied, err := store.MarkError(ctx, task.ID, "validation exploded")
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, got.Status)
	assert.Equal(t, "validation exploded", got.Error)
}

func TestStatusUpdateNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.MarkProcessing(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestProgressIsMonotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	task := createTestTask(t, store, "t1")

	_, err := store.MarkProcessing(ctx, task.ID)
	require.NoError(t, err)

	require.NoError(t, store.UpdateProgress(ctx, task.ID, 50))
	// A late, lower write is dropped.
	require.NoError(t, store.UpdateProgress(ctx, task.ID, 20))

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)
}

func TestProgressIgnoredWhenNotProcessing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	task := createTestTask(t, store, "t1")

	require.NoError(t, store.UpdateProgress(ctx, task.ID, 50))

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Progress)
}

func TestSetBranchNameFirstWriterWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	task := createTestTask(t, store, "t1")

	won, err := store.SetBranchNameIfEmpty(ctx, task.ID, "fix-readme-typo-a1b2c3")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.SetBranchNameIfEmpty(ctx, task.ID, "task/1700000000-t1")
	require.NoError(t, err)
	assert.False(t, won)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "fix-readme-typo-a1b2c3", got.BranchName)
}

func TestSetBranchNameEmptyRejected(t *testing.T) {
	store := newTestStore(t)
	task := createTestTask(t, store, "t1")

	_, err := store.SetBranchNameIfEmpty(context.Background(), task.ID, "")
	assert.ErrorIs(t, err, types.ErrNotValid)
}

func TestStopFlag(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	task := createTestTask(t, store, "t1")

	stopped, err := store.StopRequested(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, stopped)

	require.NoError(t, store.RequestStop(ctx, task.ID))

	stopped, err = store.StopRequested(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, stopped)

	assert.ErrorIs(t, store.RequestStop(ctx, "missing"), types.ErrNotFound)
}

func TestLogsPreserveGenerationOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	task := createTestTask(t, store, "t1")

	for i := 0; i < 10; i++ {
		err := store.AppendLog(ctx, &types.LogEntry{
			TaskID:  task.ID,
			Type:    types.LogInfo,
			Message: fmt.Sprintf("entry %d", i),
		})
		require.NoError(t, err)
	}

	entries, err := store.GetLogs(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, entries, 10)
	for i, entry := range entries {
		assert.Equal(t, fmt.Sprintf("entry %d", i), entry.Message)
	}
}

func TestAppendLogInvalidType(t *testing.T) {
	store := newTestStore(t)
	task := createTestTask(t, store, "t1")

	err := store.AppendLog(context.Background(), &types.LogEntry{
		TaskID: task.ID,
		Type:   "debug",
	})
	assert.ErrorIs(t, err, types.ErrNotValid)
}

func TestDeleteTasksByStatusCascadesLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	done := createTestTask(t, store, "done")
	_, err := store.MarkProcessing(ctx, done.ID)
	require.NoError(t, err)
	_, err = store.MarkCompleted(ctx, done.ID)
	require.NoError(t, err)
	require.NoError(t, store.AppendLog(ctx, &types.LogEntry{TaskID: done.ID, Type: types.LogInfo, Message: "hi"}))

	createTestTask(t, store, "active")

	n, err := store.DeleteTasksByStatus(ctx, types.StatusCompleted, types.StatusError, types.StatusStopped)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetTask(ctx, done.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	entries, err := store.GetLogs(ctx, done.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = store.GetTask(ctx, "active")
	assert.NoError(t, err)
}

func TestListTasksNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var terr error
	for _, id := range []string{"a", "b", "c"} {
		task := newTestTask(id)
		terr = store.CreateTask(ctx, task)
		require.NoError(t, terr)
	}

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	ids := []string{tasks[0].ID, tasks[1].ID, tasks[2].ID}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
}
