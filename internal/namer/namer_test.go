package namer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdock/taskdock/internal/storage"
	"github.com/taskdock/taskdock/internal/types"
)

func newStoreWithTask(t *testing.T) (storage.Storage, *types.Task) {
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
	return store, task
}

func TestResolveWithoutClientUsesFallback(t *testing.T) {
	store, task := newStoreWithTask(t)

	r, err := New(Config{Store: store})
	require.NoError(t, err)

	name, err := r.Resolve(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "task/"))
	assert.Contains(t, name, task.ID)

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, name, got.BranchName)
}

func TestResolveLosesRaceToEarlierWriter(t *testing.T) {
	store, task := newStoreWithTask(t)
	ctx := context.Background()

	// The provisioning path persisted a name first.
	won, err := store.SetBranchNameIfEmpty(ctx, task.ID, "existing-branch-name")
	require.NoError(t, err)
	require.True(t, won)

	r, err := New(Config{Store: store})
	require.NoError(t, err)

	name, err := r.Resolve(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, "existing-branch-name", name)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "existing-branch-name", got.BranchName)
}

func TestFallbackIsDeterministicShape(t *testing.T) {
	name := Fallback("abc-123")
	assert.True(t, strings.HasPrefix(name, "task/"))
	assert.True(t, strings.HasSuffix(name, "-abc-123"))
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "simple", in: "fix-readme-typo", want: "fix-readme-typo"},
		{name: "uppercase and spaces", in: "Fix README Typo", want: "fix-readme-typo"},
		{name: "keeps first line only", in: "fix-typo\nHere is why I chose it", want: "fix-typo"},
		{name: "strips punctuation", in: "fix: the (readme) typo!", want: "fix-the-readme-typo"},
		{name: "collapses separators", in: "fix -- the   typo", want: "fix-the-typo"},
		{name: "trims hyphens", in: "--fix-typo--", want: "fix-typo"},
		{name: "caps length", in: strings.Repeat("verylongword-", 10), want: strings.Repeat("verylongword-", 10)[:40]},
		{name: "empty", in: "  \n ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slugify(tt.in)
			assert.Equal(t, strings.Trim(tt.want, "-"), got)
			assert.LessOrEqual(t, len(got), 40)
		})
	}
}
