package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskdock/taskdock/internal/types"
)

var statusFollow bool

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the state of a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := setupApp(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer teardownApp()

		for {
			task, err := store.GetTask(ctx, args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			printTask(task)
			if !statusFollow || task.IsTerminal() {
				if task.Status == types.StatusError {
					os.Exit(1)
				}
				return
			}
			time.Sleep(time.Second)
			fmt.Println()
		}
	},
}

func init() {
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "Poll until the task reaches a terminal state")
	rootCmd.AddCommand(statusCmd)
}

func printTask(task *types.Task) {
	fmt.Printf("Task %s\n", cyan(task.ID))
	fmt.Printf("  Status:   %s\n", statusLabel(task.Status))
	fmt.Printf("  Progress: %d%%\n", task.Progress)
	fmt.Printf("  Agent:    %s\n", task.Agent)
	fmt.Printf("  Repo:     %s\n", task.RepoURL)
	if task.BranchName != "" {
		fmt.Printf("  Branch:   %s\n", task.BranchName)
	}
	if task.SandboxURL != "" {
		fmt.Printf("  Preview:  %s\n", task.SandboxURL)
	}
	if task.Error != "" {
		fmt.Printf("  Error:    %s\n", red(task.Error))
	}
	fmt.Printf("  Created:  %s ago\n", formatAge(task.CreatedAt))
	if task.CompletedAt != nil {
		fmt.Printf("  Finished: %s ago\n", formatAge(*task.CompletedAt))
	}
}
