package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskdock/taskdock/internal/orchestrator"
	"github.com/taskdock/taskdock/internal/types"
)

var (
	createRepo        string
	createAgent       string
	createModel       string
	createBranch      string
	createInstall     bool
	createMaxDuration int
)

var createCmd = &cobra.Command{
	Use:   "create <instruction>",
	Short: "Submit a coding task and watch it run",
	Long: `Submit a natural-language coding instruction against a repository.

The instruction runs inside an ephemeral sandbox using the selected agent
CLI; the resulting changes are pushed as a git branch. The command streams
the task log until the task reaches a terminal state.

Example:
  taskdock create "Fix typo in README" --repo https://github.com/acme/site
  taskdock create "Add dark mode" --repo https://github.com/acme/site --agent codex --install-deps`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := setupApp(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer teardownApp()

		task, err := orch.Create(ctx, orchestrator.CreateRequest{
			Prompt:         args[0],
			RepoURL:        createRepo,
			Agent:          types.AgentKind(createAgent),
			Model:          createModel,
			InstallDeps:    createInstall,
			MaxDuration:    createMaxDuration,
			ExistingBranch: createBranch,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Task %s created (agent: %s)\n\n", green("✓"), cyan(shortID(task.ID)), task.Agent)

		final, err := followTask(ctx, task.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		printOutcome(final)
		if final.Status != types.StatusCompleted {
			os.Exit(1)
		}
	},
}

func init() {
	createCmd.Flags().StringVar(&createRepo, "repo", "", "Repository URL (required)")
	createCmd.Flags().StringVar(&createAgent, "agent", "claude", "Agent CLI: claude, codex, gemini, opencode, amp")
	createCmd.Flags().StringVar(&createModel, "model", "", "Model override passed to the agent CLI")
	createCmd.Flags().StringVar(&createBranch, "branch", "", "Resume work on an existing branch")
	createCmd.Flags().BoolVar(&createInstall, "install-deps", false, "Install project dependencies before the agent runs")
	createCmd.Flags().IntVar(&createMaxDuration, "max-duration", 0, "Task budget in minutes (0 uses the default)")
	createCmd.MarkFlagRequired("repo")
	rootCmd.AddCommand(createCmd)
}

// followTask polls the task, printing new log entries until the task
// reaches a terminal state.
func followTask(ctx context.Context, taskID string) (*types.Task, error) {
	seen := 0
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		task, err := store.GetTask(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("failed to read task: %w", err)
		}

		entries, err := store.GetLogs(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("failed to read task log: %w", err)
		}
		for _, entry := range entries[seen:] {
			fmt.Printf("  %s %s\n", logGlyph(entry.Type), entry.Message)
		}
		seen = len(entries)

		if task.IsTerminal() {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printOutcome(task *types.Task) {
	fmt.Println()
	switch task.Status {
	case types.StatusCompleted:
		fmt.Printf("%s Task completed\n", green("✓"))
		if task.BranchName != "" {
			fmt.Printf("  Branch: %s\n", cyan(task.BranchName))
		}
		if task.SandboxURL != "" {
			fmt.Printf("  Preview: %s\n", cyan(task.SandboxURL))
		}
	case types.StatusStopped:
		fmt.Printf("%s Task stopped\n", yellow("⚠"))
	default:
		fmt.Printf("%s Task failed\n", red("✗"))
		if task.Error != "" {
			fmt.Printf("  %s\n", task.Error)
		}
	}
}
