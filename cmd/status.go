package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show provider health, rate usage, and credit balances",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		fmt.Printf("system: %s\n\n", env.Board.SystemHealth())
		fmt.Printf("%-12s %-10s %-10s %-12s %-8s %s\n",
			"PROVIDER", "HEALTH", "CIRCUIT", "RATE", "QUEUE", "CREDITS")
		for _, ps := range env.Board.Statuses() {
			credits := "-"
			if ps.CreditsRemaining > 0 || ps.CreditsLow {
				credits = fmt.Sprintf("%.0f", ps.CreditsRemaining)
				if ps.CreditsLow {
					credits += " (low)"
				}
			}
			fmt.Printf("%-12s %-10s %-10s %-12s %-8d %s\n",
				ps.Provider, ps.Health, ps.Circuit,
				fmt.Sprintf("%d/%d", ps.RateUsed, ps.RateMax),
				ps.QueueLength, credits)
		}

		alerts := env.Board.Alerter().Unresolved()
		if len(alerts) > 0 {
			fmt.Printf("\nunresolved alerts:\n")
			for _, a := range alerts {
				fmt.Printf("  [%s] %s %s: %s\n", a.Severity, a.Provider, a.Type, a.Message)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
