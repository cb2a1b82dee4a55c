// Package engine fetches and processes one resource at a time. A single
// Engine is shared by every worker; it keeps no per-request state.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
	"github.com/JakeFAU/batch-crawler/internal/strategy"
)

var (
	// ErrStatus marks responses outside the 2xx range.
	ErrStatus = errors.New("unexpected status code")
	// ErrEmptyContent marks responses without a body.
	ErrEmptyContent = errors.New("empty content")
	// ErrSelectorNoMatch marks css selectors that matched nothing.
	ErrSelectorNoMatch = errors.New("css selector matched nothing")
	// ErrBlocked marks URLs on the domain blocklist.
	ErrBlocked = errors.New("domain is blocked")
)

// Request is the per-resource input to Run.
type Request struct {
	BatchID            string
	URL                string
	WordCountThreshold int
	Extraction         strategy.ExtractionStrategy
	Chunking           strategy.ChunkingStrategy
	BypassCache        bool
	CSSSelector        string
	Verbose            bool
}

// Archiver names the blob path for a fetched page.
type Archiver interface {
	ArchivePath(prefix, rawURL string, body []byte) (string, error)
}

// Config tunes the engine.
type Config struct {
	BlobPrefix  string
	ContentType string
	Blocklist   []string
}

// Deps are the collaborators the engine uses. Fetcher and Clock are
// required; the rest may be nil to disable that stage.
type Deps struct {
	Fetcher  crawler.Fetcher
	Headless crawler.Fetcher
	Detector crawler.HeadlessDetector
	Cache    crawler.PageCache
	Counts   crawler.CountStore
	Blobs    crawler.BlobStore
	Archiver Archiver
	Limiter  crawler.RateLimiter
	Clock    crawler.Clock
}

// Engine runs the crawl pipeline.
type Engine struct {
	deps      Deps
	cfg       Config
	blocklist *crawler.DomainBlocklist
	logger    *zap.Logger
}

// New constructs an Engine.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Engine, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("engine requires a fetcher")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("engine requires a clock")
	}
	if deps.Blobs != nil && deps.Archiver == nil {
		return nil, fmt.Errorf("engine requires an archiver when a blob store is set")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		deps:      deps,
		cfg:       cfg,
		blocklist: crawler.NewDomainBlocklist(cfg.Blocklist),
		logger:    logger,
	}, nil
}

// Run fetches req.URL (or reuses the cached copy), cleans it, converts it to
// Markdown, chunks the Markdown and runs extraction over the chunks.
func (e *Engine) Run(ctx context.Context, req Request) (crawler.CrawlResult, error) {
	if req.Extraction == nil || req.Chunking == nil {
		return crawler.CrawlResult{}, fmt.Errorf("extraction and chunking strategies are required")
	}
	if err := crawler.ValidateURL(req.URL); err != nil {
		return crawler.CrawlResult{}, err
	}
	if e.blocklist.BlocksURL(req.URL) {
		return crawler.CrawlResult{}, fmt.Errorf("%w: %s", ErrBlocked, crawler.Hostname(req.URL))
	}
	key, err := crawler.NormalizeURL(req.URL)
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("%w: %v", crawler.ErrInvalidURL, err)
	}
	logger := e.logger.With(zap.String("batch_id", req.BatchID), zap.String("url", req.URL))
	// Verbose requests log each stage at info so they show in production.
	stage := func(msg string, fields ...zap.Field) {
		if req.Verbose {
			logger.Info(msg, fields...)
		}
	}

	page, fromCache, err := e.load(ctx, req, key, logger)
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	stage("page loaded",
		zap.Bool("from_cache", fromCache),
		zap.Bool("used_headless", page.UsedHeadless),
		zap.Int("status", page.StatusCode),
		zap.Int("bytes", len(page.HTML)))
	if page.StatusCode < http.StatusOK || page.StatusCode >= http.StatusMultipleChoices {
		return crawler.CrawlResult{}, fmt.Errorf("%w: %d", ErrStatus, page.StatusCode)
	}
	if strings.TrimSpace(page.HTML) == "" {
		return crawler.CrawlResult{}, ErrEmptyContent
	}

	cleaned, err := cleanHTML(page.HTML, req.CSSSelector, req.WordCountThreshold)
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	markdown, err := toMarkdown(cleaned, req.URL)
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	stage("page cleaned", zap.Int("cleaned_bytes", len(cleaned)), zap.Int("markdown_bytes", len(markdown)))

	chunks, err := req.Chunking.Chunk(markdown)
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("chunk content: %w", err)
	}
	if chunks == nil {
		chunks = []string{}
	}
	blocks, err := req.Extraction.Extract(ctx, strategy.Input{URL: req.URL, HTML: cleaned, Sections: chunks})
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("extract content: %w", err)
	}
	if blocks == nil {
		blocks = []crawler.Block{}
	}
	stage("page processed", zap.Int("chunks", len(chunks)), zap.Int("blocks", len(blocks)))

	if e.deps.Counts != nil {
		if err := e.deps.Counts.RecordProcessed(ctx, key, e.deps.Clock.Now()); err != nil {
			logger.Warn("record processed url failed", zap.Error(err))
		}
	}

	html := page.HTML
	return crawler.CrawlResult{
		URL:              req.URL,
		HTML:             &html,
		Success:          true,
		StatusCode:       page.StatusCode,
		CleanedHTML:      cleaned,
		Markdown:         markdown,
		Chunks:           chunks,
		ExtractedContent: blocks,
		Metadata:         extractMetadata(page),
		BlobURI:          page.BlobURI,
		UsedHeadless:     page.UsedHeadless,
		FromCache:        fromCache,
	}, nil
}

// load returns the cached page unless bypassed, otherwise fetches, archives
// and caches it. Only successful non-empty pages are archived or cached.
func (e *Engine) load(ctx context.Context, req Request, key string, logger *zap.Logger) (crawler.CachedPage, bool, error) {
	if !req.BypassCache && e.deps.Cache != nil {
		page, ok, err := e.deps.Cache.Get(ctx, key)
		switch {
		case err != nil:
			logger.Warn("cache lookup failed", zap.Error(err))
		case ok:
			return page, true, nil
		}
	}

	if e.deps.Limiter != nil {
		if err := e.deps.Limiter.Wait(ctx, req.URL); err != nil {
			return crawler.CachedPage{}, false, err
		}
	}

	resp, err := e.deps.Fetcher.Fetch(ctx, crawler.FetchRequest{URL: req.URL})
	if err != nil {
		return crawler.CachedPage{}, false, fmt.Errorf("fetch: %w", err)
	}
	if e.deps.Headless != nil && e.deps.Detector != nil && e.deps.Detector.ShouldPromote(resp) {
		// Render where the static fetch landed so redirects are not replayed.
		target := resp.URL
		if target == "" {
			target = req.URL
		}
		rendered, herr := e.deps.Headless.Fetch(ctx, crawler.FetchRequest{URL: target, UseHeadless: true})
		if herr != nil {
			logger.Warn("headless fetch failed, keeping static response", zap.Error(herr))
		} else {
			resp = rendered
		}
	}

	finalURL := resp.URL
	if finalURL == "" {
		finalURL = req.URL
	}
	page := crawler.CachedPage{
		URL:          finalURL,
		StatusCode:   resp.StatusCode,
		Headers:      resp.Headers,
		HTML:         string(resp.Body),
		UsedHeadless: resp.UsedHeadless,
		FetchedAt:    e.deps.Clock.Now(),
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices ||
		len(bytes.TrimSpace(resp.Body)) == 0 {
		return page, false, nil
	}

	if e.deps.Blobs != nil {
		page.BlobURI = e.archive(ctx, req.URL, resp.Body, logger)
	}
	if e.deps.Cache != nil {
		if err := e.deps.Cache.Set(ctx, key, page); err != nil {
			logger.Warn("cache store failed", zap.Error(err))
		}
	}
	return page, false, nil
}

func (e *Engine) archive(ctx context.Context, rawURL string, body []byte, logger *zap.Logger) string {
	path, err := e.deps.Archiver.ArchivePath(e.cfg.BlobPrefix, rawURL, body)
	if err != nil {
		logger.Warn("archive path failed", zap.Error(err))
		return ""
	}
	uri, err := e.deps.Blobs.PutObject(ctx, path, e.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		logger.Warn("archive page failed", zap.Error(err))
		return ""
	}
	return uri
}
