// Package cmd defines the batchcrawler command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/batch-crawler/internal/api"
	"github.com/JakeFAU/batch-crawler/internal/config"
	"github.com/JakeFAU/batch-crawler/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what subcommands need from the built application. Tests inject
// their own implementation through newApp.
type App interface {
	Start(ctx context.Context)
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Config() *config.Config
	Batches() api.BatchService
}

type serverApp struct {
	*server.App
}

func (a serverApp) Batches() api.BatchService {
	return a.Service()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by the caller
	}
	return serverApp{app}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "batchcrawler",
		Short: "Crawl batches of URLs and return cleaned, chunked and extracted content.",
		Long: `batchcrawler fetches every URL of a batch in parallel on a shared worker
pool, converts each page to Markdown, splits it with a chunking strategy and
runs an extraction strategy over the chunks. It runs as an HTTP service
(serve) or as a one-shot command (crawl).`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				if err := appInstance.Close(context.WithoutCancel(cmd.Context())); err != nil {
					return fmt.Errorf("close application: %w", err)
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.AddCommand(newServeCmd(), newCrawlCmd(), newStrategiesCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
