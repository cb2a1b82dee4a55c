package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
)

// PassThroughExtractor turns every section into a block unchanged.
type PassThroughExtractor struct{}

func newPassThroughExtractor(args Args, _ Settings) (ExtractionStrategy, error) {
	if err := decodeArgs(args, &struct{}{}); err != nil {
		return nil, err
	}
	return PassThroughExtractor{}, nil
}

// Extract returns one untagged block per section.
func (PassThroughExtractor) Extract(_ context.Context, in Input) ([]crawler.Block, error) {
	blocks := make([]crawler.Block, 0, len(in.Sections))
	for i, s := range in.Sections {
		blocks = append(blocks, crawler.Block{Index: i, Tags: []string{}, Content: s})
	}
	return blocks, nil
}

// SelectorExtractor returns the text of every element matching a CSS selector.
type SelectorExtractor struct {
	selector string
	matcher  cascadia.Selector
	logger   *zap.Logger
	verbose  bool
}

type selectorParams struct {
	Selector string `mapstructure:"selector"`
}

func newSelectorExtractor(args Args, settings Settings) (ExtractionStrategy, error) {
	var params selectorParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	params.Selector = strings.TrimSpace(params.Selector)
	if params.Selector == "" {
		return nil, fmt.Errorf("selector is required")
	}
	matcher, err := cascadia.Compile(params.Selector)
	if err != nil {
		return nil, fmt.Errorf("parse selector %q: %w", params.Selector, err)
	}
	return &SelectorExtractor{
		selector: params.Selector,
		matcher:  matcher,
		logger:   settings.logger(),
		verbose:  settings.Verbose,
	}, nil
}

// Extract matches the selector against the page HTML.
func (e *SelectorExtractor) Extract(_ context.Context, in Input) ([]crawler.Block, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(in.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	blocks := []crawler.Block{}
	doc.FindMatcher(e.matcher).Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		blocks = append(blocks, crawler.Block{
			Index:   len(blocks),
			Tags:    []string{e.selector},
			Content: text,
		})
	})
	if e.verbose {
		e.logger.Debug("selector extraction finished",
			zap.String("url", in.URL), zap.Int("blocks", len(blocks)))
	}
	return blocks, nil
}
