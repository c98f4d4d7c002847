package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catalog-enricher/internal/catalog"
)

var (
	importSheet       string
	importSkipRows    int
	importPriorityCol int
	importDryRun      bool
	importConcurrency int
)

var importCmd = &cobra.Command{
	Use:   "import <file.xlsx|file.csv>",
	Short: "Import catalog items from a spreadsheet and enrich them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		imported, err := catalog.ImportFile(args[0], catalog.Options{
			SheetName:      importSheet,
			SkipRows:       importSkipRows,
			PriorityColumn: importPriorityCol,
		})
		if err != nil {
			return err
		}
		fmt.Printf("parsed %d items from %s\n", len(imported), args[0])

		if importDryRun {
			for _, im := range imported {
				fmt.Printf("  %-12s %s (%s)\n", im.Item.Identifier, im.Item.RawInput, im.Priority)
			}
			return nil
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Providers serialize their own calls; the group bound only caps
		// how many items are mid-pipeline at once.
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(importConcurrency)
		for _, im := range imported {
			g.Go(func() error {
				if err := env.Enricher.EnrichItem(gctx, im.Item, im.Priority); err != nil {
					zap.L().Error("enrichment failed",
						zap.String("identifier", im.Item.Identifier),
						zap.Error(err),
					)
				}
				return nil
			})
		}
		g.Wait() //nolint:errcheck

		byStatus := make(map[string]int)
		for _, im := range imported {
			byStatus[string(im.Item.Status)]++
		}
		for status, n := range byStatus {
			fmt.Printf("  %s: %d\n", status, n)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (default: first sheet)")
	importCmd.Flags().IntVar(&importSkipRows, "skip-rows", 0, "data rows to skip after the header")
	importCmd.Flags().IntVar(&importPriorityCol, "priority-column", -1, "column index holding high/medium/low")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "parse and list items without enriching")
	importCmd.Flags().IntVar(&importConcurrency, "concurrency", 4, "items enriched in parallel")
	rootCmd.AddCommand(importCmd)
}
