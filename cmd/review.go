package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List the manual review queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Store.ListReviewEntries(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("review queue is empty")
			return nil
		}

		total := 0
		for _, e := range entries {
			total += e.EffortMinutes
			fmt.Printf("%-36s %-14s %-8s ~%dm\n", e.ItemID, e.Identifier, e.Priority, e.EffortMinutes)
			for _, field := range e.MissingFields {
				fmt.Printf("    missing: %s\n", field)
			}
			for _, rec := range e.Recommend {
				fmt.Printf("    next: %s\n", rec)
			}
		}
		fmt.Printf("\n%d entries, ~%dh%02dm of review work\n", len(entries), total/60, total%60)
		return nil
	},
}

var reviewResolveCmd = &cobra.Command{
	Use:   "resolve <item-id>",
	Short: "Remove an item from the review queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.DeleteReviewEntry(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("resolved %s\n", args[0])
		return nil
	},
}

func init() {
	reviewCmd.AddCommand(reviewResolveCmd)
	rootCmd.AddCommand(reviewCmd)
}
