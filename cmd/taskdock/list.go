package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tasks",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := setupApp(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer teardownApp()

		tasks, err := store.ListTasks(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(tasks) == 0 {
			fmt.Printf("%s No tasks\n", yellow("ℹ"))
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tAGENT\tBRANCH\tAGE")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\t%s\t%s\n",
				shortID(t.ID), statusLabel(t.Status), t.Progress, t.Agent, t.BranchName, formatAge(t.CreatedAt))
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
