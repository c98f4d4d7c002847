package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-enricher/internal/model"
)

var (
	enrichIdentifier string
	enrichPriority   string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <raw input>",
	Short: "Enrich a single catalog item",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		item := model.NewCandidateItem(strings.Join(args, " "))
		item.Identifier = enrichIdentifier
		if item.Identifier == "" {
			item.Identifier = item.RawInput
		}

		if err := env.Enricher.EnrichItem(ctx, item, model.ParsePriority(enrichPriority)); err != nil {
			return err
		}

		fmt.Printf("item %s: %s\n", item.ID, item.Status)
		for field, value := range item.Fields {
			fmt.Printf("  %s = %v\n", field, value)
		}
		for _, rec := range item.Errors {
			fmt.Printf("  [%s/%s] %s (action: %s)\n", rec.Severity, rec.Reason, rec.Message, rec.Action)
		}
		return nil
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichIdentifier, "identifier", "", "part identifier (defaults to raw input)")
	enrichCmd.Flags().StringVar(&enrichPriority, "priority", "medium", "queue priority: high, medium, low")
	rootCmd.AddCommand(enrichCmd)
}
