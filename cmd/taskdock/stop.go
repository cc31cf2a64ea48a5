package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop <task-id>",
	Short: "Stop a running task",
	Long: `Request cooperative cancellation of a task.

The persisted stop flag is set, the task's sandbox is torn down, and the
task is marked stopped. Stopping an already-terminal task is a no-op.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := setupApp(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer teardownApp()

		if err := orch.Stop(ctx, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Stop requested for task %s\n", green("✓"), cyan(shortID(args[0])))
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
