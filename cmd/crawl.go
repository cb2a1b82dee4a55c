package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
	"github.com/JakeFAU/batch-crawler/internal/strategy"
)

type crawlFlags struct {
	extraction         string
	extractionArgs     string
	chunking           string
	chunkingArgs       string
	includeRaw         bool
	bypassCache        bool
	cssSelector        string
	wordCountThreshold int
	verbose            bool
}

func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl URL...",
		Short: "Crawl one batch of URLs and print the JSON reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			if !cmd.Flags().Changed("word-count-threshold") {
				f.wordCountThreshold = cfg.Crawler.WordCountThreshold
			}
			if !cmd.Flags().Changed("verbose") {
				f.verbose = cfg.Crawler.Verbose
			}
			req, err := f.batchRequest(args)
			if err != nil {
				return err
			}
			appInstance.Start(cmd.Context())

			reply, err := appInstance.Batches().Submit(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			appInstance.Logger().Info("crawl finished",
				zap.String("batch_id", reply.BatchID),
				zap.Int("succeeded", reply.Succeeded),
				zap.Int("failed", reply.Failed))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(reply); err != nil {
				return fmt.Errorf("write reply: %w", err)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.extraction, "extraction", strategy.DefaultExtraction, "extraction strategy name")
	flags.StringVar(&f.extractionArgs, "extraction-args", "", "extraction strategy arguments as a JSON object")
	flags.StringVar(&f.chunking, "chunking", strategy.DefaultChunking, "chunking strategy name")
	flags.StringVar(&f.chunkingArgs, "chunking-args", "", "chunking strategy arguments as a JSON object")
	flags.BoolVar(&f.includeRaw, "include-raw", false, "include the raw HTML of each page")
	flags.BoolVar(&f.bypassCache, "bypass-cache", false, "fetch pages even when cached")
	flags.StringVar(&f.cssSelector, "css-selector", "", "only keep content matching this CSS selector")
	flags.IntVar(&f.wordCountThreshold, "word-count-threshold", 5, "drop text blocks with fewer words (default from config)")
	flags.BoolVar(&f.verbose, "verbose", false, "log each processing stage (default from config)")
	return cmd
}

func (f crawlFlags) batchRequest(urls []string) (crawler.BatchRequest, error) {
	extractionArgs, err := parseArgs("extraction-args", f.extractionArgs)
	if err != nil {
		return crawler.BatchRequest{}, err
	}
	chunkingArgs, err := parseArgs("chunking-args", f.chunkingArgs)
	if err != nil {
		return crawler.BatchRequest{}, err
	}
	return crawler.BatchRequest{
		URLs:               urls,
		IncludeRawHTML:     f.includeRaw,
		BypassCache:        f.bypassCache,
		WordCountThreshold: f.wordCountThreshold,
		Extraction:         crawler.StrategySpec{Name: f.extraction, Args: extractionArgs},
		Chunking:           crawler.StrategySpec{Name: f.chunking, Args: chunkingArgs},
		CSSSelector:        f.cssSelector,
		Verbose:            f.verbose,
	}, nil
}

func parseArgs(flag, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", flag, err)
	}
	return args, nil
}
