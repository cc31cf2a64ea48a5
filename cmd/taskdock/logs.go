package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs <task-id>",
	Short: "Print the log stream of a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := setupApp(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer teardownApp()

		entries, err := store.GetLogs(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(entries) == 0 {
			fmt.Printf("%s No log entries\n", yellow("ℹ"))
			return
		}
		for _, entry := range entries {
			fmt.Printf("%s %s %s\n", gray(entry.CreatedAt.Local().Format("15:04:05")), logGlyph(entry.Type), entry.Message)
		}
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
}
