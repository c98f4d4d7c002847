package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-enricher/internal/model"
	"github.com/sells-group/catalog-enricher/internal/retrysched"
	"github.com/sells-group/catalog-enricher/internal/store"
)

var retryOnce bool

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Run the retry scanner over items awaiting another attempt",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		scanner := retrysched.NewScanner(
			env.Retry,
			cfg.Retry.ScanInterval(),
			func(ctx context.Context) ([]*model.CandidateItem, error) {
				items, err := env.Store.ListItems(ctx, store.ItemFilter{Status: model.ItemStatusPending})
				if err != nil {
					return nil, err
				}
				out := make([]*model.CandidateItem, len(items))
				for i := range items {
					out[i] = &items[i]
				}
				return out, nil
			},
			func(ctx context.Context, item *model.CandidateItem) error {
				zap.L().Info("requeueing item",
					zap.String("item_id", item.ID),
					zap.String("identifier", item.Identifier),
					zap.Int("attempts", item.Attempts),
				)
				return env.Enricher.EnrichItem(ctx, item, model.PriorityMedium)
			},
		)

		if retryOnce {
			scanner.Tick(ctx)
			return nil
		}

		fmt.Printf("retry scanner running every %s\n", cfg.Retry.ScanInterval())
		scanner.Run(ctx)
		return nil
	},
}

func init() {
	retryCmd.Flags().BoolVar(&retryOnce, "once", false, "scan a single time and exit")
	rootCmd.AddCommand(retryCmd)
}
