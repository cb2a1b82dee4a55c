// Package batch is the service core: it admits a batch, resolves its
// strategies, fans its resources out to the worker pool and assembles the
// reply.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/batch-crawler/internal/admission"
	"github.com/JakeFAU/batch-crawler/internal/aggregator"
	"github.com/JakeFAU/batch-crawler/internal/clock/system"
	"github.com/JakeFAU/batch-crawler/internal/crawler"
	"github.com/JakeFAU/batch-crawler/internal/dispatcher"
	"github.com/JakeFAU/batch-crawler/internal/metrics"
	"github.com/JakeFAU/batch-crawler/internal/strategy"
)

// ErrInvalidRequest marks batches rejected before admission.
var ErrInvalidRequest = errors.New("invalid batch request")

// Dispatcher runs the resources of one batch.
type Dispatcher interface {
	Dispatch(ctx context.Context, batchID string, urls []string, handles dispatcher.Handles, opts crawler.Options) ([]crawler.Outcome, error)
}

// Strategies resolves and lists named strategies.
type Strategies interface {
	ResolveExtraction(name string, args strategy.Args, verbose bool) (strategy.ExtractionStrategy, error)
	ResolveChunking(name string, args strategy.Args, verbose bool) (strategy.ChunkingStrategy, error)
	Descriptors(kind strategy.Kind) []strategy.Descriptor
}

// Deps wires the service. Admission, Strategies, Dispatcher, Counts and IDs
// are required. Cache and Publisher are optional.
type Deps struct {
	Admission  *admission.Controller
	Strategies Strategies
	Dispatcher Dispatcher
	Cache      crawler.PageCache
	Counts     crawler.CountStore
	Publisher  crawler.Publisher
	IDs        crawler.IDGenerator
	Clock      crawler.Clock
}

// Config tunes the service.
type Config struct {
	// Topic receives a Summary per finished batch. Empty disables publishing.
	Topic string
	// MaxURLs caps the resources per batch. Zero means no cap.
	MaxURLs int
}

// Summary is the notification published for each finished batch.
type Summary struct {
	BatchID    string    `json:"batch_id"`
	URLs       int       `json:"urls"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Extraction string    `json:"extraction_strategy"`
	Chunking   string    `json:"chunking_strategy"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Service processes batch crawl requests.
type Service struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and returns a Service.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Admission == nil:
		return nil, fmt.Errorf("batch service requires an admission controller")
	case deps.Strategies == nil:
		return nil, fmt.Errorf("batch service requires a strategy registry")
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("batch service requires a dispatcher")
	case deps.Counts == nil:
		return nil, fmt.Errorf("batch service requires a count store")
	case deps.IDs == nil:
		return nil, fmt.Errorf("batch service requires an id generator")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, cfg: cfg, logger: logger}, nil
}

// Submit runs one batch to completion. The admission permit is held for the
// whole call and released on every return path.
func (s *Service) Submit(ctx context.Context, req crawler.BatchRequest) (crawler.Reply, error) {
	ctx, span := otel.Tracer("batchcrawler/batch").Start(ctx, "batch.submit")
	defer span.End()

	if err := s.validate(req); err != nil {
		metrics.ObserveBatch("invalid")
		span.SetStatus(codes.Error, err.Error())
		return crawler.Reply{}, err
	}

	permit, err := s.deps.Admission.TryAcquire()
	if err != nil {
		metrics.ObserveBatch("rejected")
		span.SetStatus(codes.Error, err.Error())
		return crawler.Reply{}, err
	}
	defer permit.Release()

	batchID, err := s.deps.IDs.NewID()
	if err != nil {
		metrics.ObserveBatch("error")
		return crawler.Reply{}, fmt.Errorf("generate batch id: %w", err)
	}
	extractionName := defaultName(req.Extraction.Name, strategy.DefaultExtraction)
	chunkingName := defaultName(req.Chunking.Name, strategy.DefaultChunking)
	span.SetAttributes(
		attribute.String("batch.id", batchID),
		attribute.Int("batch.urls", len(req.URLs)),
		attribute.String("batch.extraction", extractionName),
		attribute.String("batch.chunking", chunkingName),
	)
	logger := s.logger.With(
		zap.String("batch_id", batchID),
		zap.Int("urls", len(req.URLs)),
		zap.String("extraction", extractionName),
		zap.String("chunking", chunkingName),
	)

	extraction, err := s.deps.Strategies.ResolveExtraction(extractionName, req.Extraction.Args, req.Verbose)
	if err != nil {
		return s.strategyFailure(span, logger, err)
	}
	chunking, err := s.deps.Strategies.ResolveChunking(chunkingName, req.Chunking.Args, req.Verbose)
	if err != nil {
		return s.strategyFailure(span, logger, err)
	}

	started := s.deps.Clock.Now()
	logger.Info("batch started")
	outcomes, err := s.deps.Dispatcher.Dispatch(ctx, batchID, req.URLs,
		dispatcher.Handles{Extraction: extraction, Chunking: chunking}, req.Options())
	if err != nil {
		metrics.ObserveBatch("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("batch dispatch failed", zap.Error(err))
		return crawler.Reply{}, err
	}

	reply := aggregator.Assemble(batchID, outcomes, req.IncludeRawHTML)
	finished := s.deps.Clock.Now()
	logger.Info("batch finished",
		zap.Int("succeeded", reply.Succeeded),
		zap.Int("failed", reply.Failed),
		zap.Duration("duration", finished.Sub(started)))
	span.SetAttributes(attribute.Int("batch.succeeded", reply.Succeeded), attribute.Int("batch.failed", reply.Failed))

	s.publish(ctx, logger, Summary{
		BatchID:    batchID,
		URLs:       len(req.URLs),
		Succeeded:  reply.Succeeded,
		Failed:     reply.Failed,
		Extraction: extractionName,
		Chunking:   chunkingName,
		StartedAt:  started,
		FinishedAt: finished,
	})
	metrics.ObserveBatch("completed")
	return reply, nil
}

// TotalCount reports how many distinct resources have been processed.
func (s *Service) TotalCount(ctx context.Context) (int64, error) {
	n, err := s.deps.Counts.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count processed urls: %w", err)
	}
	return n, nil
}

// Clear empties the page cache and the processed-count store.
func (s *Service) Clear(ctx context.Context) error {
	if s.deps.Cache != nil {
		if err := s.deps.Cache.Clear(ctx); err != nil {
			return fmt.Errorf("clear page cache: %w", err)
		}
	}
	if err := s.deps.Counts.Clear(ctx); err != nil {
		return fmt.Errorf("clear count store: %w", err)
	}
	s.logger.Info("cache and count store cleared")
	return nil
}

// Strategies lists the registered strategies of kind.
func (s *Service) Strategies(kind strategy.Kind) []strategy.Descriptor {
	return s.deps.Strategies.Descriptors(kind)
}

func (s *Service) validate(req crawler.BatchRequest) error {
	if len(req.URLs) == 0 {
		return fmt.Errorf("%w: urls must not be empty", ErrInvalidRequest)
	}
	if s.cfg.MaxURLs > 0 && len(req.URLs) > s.cfg.MaxURLs {
		return fmt.Errorf("%w: %d urls exceeds the limit of %d", ErrInvalidRequest, len(req.URLs), s.cfg.MaxURLs)
	}
	if req.WordCountThreshold < 0 {
		return fmt.Errorf("%w: word_count_threshold must be >= 0", ErrInvalidRequest)
	}
	return nil
}

func (s *Service) strategyFailure(span trace.Span, logger *zap.Logger, err error) (crawler.Reply, error) {
	metrics.ObserveBatch("strategy_error")
	span.SetStatus(codes.Error, err.Error())
	logger.Warn("strategy resolution failed", zap.Error(err))
	return crawler.Reply{}, err
}

func (s *Service) publish(ctx context.Context, logger *zap.Logger, summary Summary) {
	if s.deps.Publisher == nil || s.cfg.Topic == "" {
		return
	}
	id, err := s.deps.Publisher.Publish(ctx, s.cfg.Topic, summary)
	if err != nil {
		logger.Warn("publish batch summary failed", zap.Error(err))
		return
	}
	logger.Debug("batch summary published", zap.String("message_id", id))
}

func defaultName(name, fallback string) string {
	if name = strings.TrimSpace(name); name == "" {
		return fallback
	}
	return name
}
