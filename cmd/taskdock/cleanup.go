package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Destroy leftover sandboxes and delete finished tasks",
	Long: `Destroy every sandbox still registered for a task and delete all
tasks that reached a terminal state (completed, error, stopped).
Sandbox teardown runs in parallel.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := setupApp(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer teardownApp()

		result, err := orch.Cleanup(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Destroyed %d sandbox(es), deleted %d task(s)\n",
			green("✓"), result.SandboxesDestroyed, result.TasksDeleted)
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
