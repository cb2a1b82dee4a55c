package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/batch-crawler/internal/strategy"
)

func newStrategiesCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "strategies",
		Short: "List the registered extraction and chunking strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			out := map[strategy.Kind][]strategy.Descriptor{}
			switch kind {
			case "", "all":
				out[strategy.KindExtraction] = appInstance.Batches().Strategies(strategy.KindExtraction)
				out[strategy.KindChunking] = appInstance.Batches().Strategies(strategy.KindChunking)
			case string(strategy.KindExtraction), string(strategy.KindChunking):
				out[strategy.Kind(kind)] = appInstance.Batches().Strategies(strategy.Kind(kind))
			default:
				return fmt.Errorf("unknown strategy kind %q", kind)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("write strategies: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "all", "extraction, chunking or all")
	return cmd
}
