// Package dispatcher fans the resources of one batch out to the shared worker
// pool and joins their outcomes.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
	"github.com/JakeFAU/batch-crawler/internal/engine"
	"github.com/JakeFAU/batch-crawler/internal/metrics"
	"github.com/JakeFAU/batch-crawler/internal/strategy"
)

var (
	// ErrDispatch marks a batch the pool could not accept in full.
	ErrDispatch = errors.New("dispatch failed")
	// ErrTaskPanic marks a resource whose processing panicked.
	ErrTaskPanic = errors.New("crawl task panicked")
)

// Engine processes a single resource.
type Engine interface {
	Run(ctx context.Context, req engine.Request) (crawler.CrawlResult, error)
}

// Handles are the resolved strategies shared by every job of a batch.
type Handles struct {
	Extraction strategy.ExtractionStrategy
	Chunking   strategy.ChunkingStrategy
}

// Dispatcher runs batches on a shared Pool.
type Dispatcher struct {
	pool   *Pool
	engine Engine
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(pool *Pool, eng Engine, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		pool:   pool,
		engine: eng,
		logger: logger,
	}
}

// Dispatch creates one job per URL and returns one outcome per URL in input
// order once every job has finished. A failing job never cancels its
// siblings. If the pool refuses a job, the jobs already queued are still
// awaited before ErrDispatch is returned.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	batchID string,
	urls []string,
	handles Handles,
	opts crawler.Options,
) ([]crawler.Outcome, error) {
	outcomes := make([]crawler.Outcome, len(urls))
	var (
		wg        sync.WaitGroup
		submitErr error
	)
	for i, u := range urls {
		job := crawler.CrawlJob{BatchID: batchID, Index: i, URL: u, Options: opts}
		wg.Add(1)
		err := d.pool.Submit(ctx, func(taskCtx context.Context) {
			defer wg.Done()
			outcomes[job.Index] = d.run(taskCtx, job, handles)
		})
		if err != nil {
			wg.Done()
			submitErr = err
			break
		}
	}
	wg.Wait()

	if submitErr != nil {
		d.logger.Error("batch dispatch failed", zap.String("batch_id", batchID), zap.Error(submitErr))
		return nil, fmt.Errorf("%w: %w", ErrDispatch, submitErr)
	}
	return outcomes, nil
}

func (d *Dispatcher) run(ctx context.Context, job crawler.CrawlJob, handles Handles) (out crawler.Outcome) {
	out = crawler.Outcome{Index: job.Index, URL: job.URL}
	logger := d.logger.With(
		zap.String("batch_id", job.BatchID),
		zap.String("url", job.URL),
		zap.Int("index", job.Index),
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("crawl job panicked", zap.Any("panic", r))
			metrics.ObserveResource(job.URL, "failed", 0)
			out.Result = crawler.CrawlResult{}
			out.Err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()

	result, err := d.engine.Run(ctx, engine.Request{
		BatchID:            job.BatchID,
		URL:                job.URL,
		WordCountThreshold: job.Options.WordCountThreshold,
		Extraction:         handles.Extraction,
		Chunking:           handles.Chunking,
		BypassCache:        job.Options.BypassCache,
		CSSSelector:        job.Options.CSSSelector,
		Verbose:            job.Options.Verbose,
	})
	if err != nil {
		logger.Warn("crawl job failed", zap.Error(err))
		metrics.ObserveResource(job.URL, "failed", 0)
		out.Err = err
		return out
	}
	bytes := 0
	if result.HTML != nil {
		bytes = len(*result.HTML)
	}
	metrics.ObserveResource(job.URL, "success", bytes)
	logger.Debug("crawl job finished", zap.Bool("from_cache", result.FromCache))
	out.Result = result
	return out
}
