package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/batch-crawler/internal/admission"
	"github.com/JakeFAU/batch-crawler/internal/batch"
	"github.com/JakeFAU/batch-crawler/internal/config"
	"github.com/JakeFAU/batch-crawler/internal/crawler"
	"github.com/JakeFAU/batch-crawler/internal/dispatcher"
	"github.com/JakeFAU/batch-crawler/internal/metrics"
	"github.com/JakeFAU/batch-crawler/internal/strategy"
)

// maxBodyBytes caps the size of a batch request body.
const maxBodyBytes = 1 << 20

// BatchService is the service core behind the handlers.
type BatchService interface {
	Submit(ctx context.Context, req crawler.BatchRequest) (crawler.Reply, error)
	TotalCount(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
	Strategies(kind strategy.Kind) []strategy.Descriptor
}

// ReadinessCheck probes one downstream dependency for /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server wires HTTP handlers to the batch service.
type Server struct {
	router  chi.Router
	service BatchService
	cfg     config.Config
	checks  []ReadinessCheck
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(service BatchService, cfg config.Config, logger *zap.Logger, checks ...ReadinessCheck) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service: service,
		cfg:     cfg,
		checks:  checks,
		logger:  logger,
	}
	timeout := time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware(cfg.Server.CORSOrigins))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/crawl", s.crawl)
		r.Post("/v1/crawl", s.crawl)
		r.Get("/total-count", s.totalCount)
		r.Get("/clear-db", s.clear)
		r.Get("/strategies/{kind}", s.strategies)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failing := map[string]string{}
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			failing[c.Name] = err.Error()
		}
	}
	if len(failing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failing": failing})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	reply, err := s.service.Submit(r.Context(), s.toBatchRequest(req))
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("batch failed", zap.Error(err), zap.String("request_id", requestID(r.Context())))
		}
		writeError(w, status, messageFor(status, err))
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) totalCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.TotalCount(r.Context())
	if err != nil {
		s.logger.Error("total count failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read total count")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Clear(r.Context()); err != nil {
		s.logger.Error("clear failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear database")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Database cleared."})
}

func (s *Server) strategies(w http.ResponseWriter, r *http.Request) {
	kind := strategy.Kind(strings.ToLower(chi.URLParam(r, "kind")))
	switch kind {
	case strategy.KindExtraction, strategy.KindChunking:
	default:
		writeError(w, http.StatusNotFound, "unknown strategy kind")
		return
	}
	writeJSON(w, http.StatusOK, s.service.Strategies(kind))
}

type crawlRequest struct {
	URLs                   []string       `json:"urls"`
	IncludeRawHTML         bool           `json:"include_raw_html"`
	BypassCache            bool           `json:"bypass_cache"`
	WordCountThreshold     *int           `json:"word_count_threshold"`
	ExtractionStrategy     string         `json:"extraction_strategy"`
	ExtractionStrategyArgs map[string]any `json:"extraction_strategy_args"`
	ChunkingStrategy       string         `json:"chunking_strategy"`
	ChunkingStrategyArgs   map[string]any `json:"chunking_strategy_args"`
	CSSSelector            *string        `json:"css_selector"`
	Verbose                *bool          `json:"verbose"`
}

func (s *Server) toBatchRequest(req crawlRequest) crawler.BatchRequest {
	return crawler.BatchRequest{
		URLs:               req.URLs,
		IncludeRawHTML:     req.IncludeRawHTML,
		BypassCache:        req.BypassCache,
		WordCountThreshold: valueOrDefault(req.WordCountThreshold, s.cfg.Crawler.WordCountThreshold),
		Extraction: crawler.StrategySpec{
			Name: valueOrDefault(nonEmpty(req.ExtractionStrategy), strategy.DefaultExtraction),
			Args: req.ExtractionStrategyArgs,
		},
		Chunking: crawler.StrategySpec{
			Name: valueOrDefault(nonEmpty(req.ChunkingStrategy), strategy.DefaultChunking),
			Args: req.ChunkingStrategyArgs,
		},
		CSSSelector: valueOrDefault(req.CSSSelector, ""),
		Verbose:     valueOrDefault(req.Verbose, s.cfg.Crawler.Verbose),
	}
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, admission.ErrCapacityExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, batch.ErrInvalidRequest),
		errors.Is(err, strategy.ErrNotFound),
		errors.Is(err, strategy.ErrConstruction):
		return http.StatusBadRequest
	case errors.Is(err, dispatcher.ErrDispatch):
		// Includes pool submit timeouts.
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(status int, err error) string {
	switch status {
	case http.StatusTooManyRequests:
		return "Server is at capacity, please try again later."
	case http.StatusInternalServerError:
		return "internal server error"
	default:
		return err.Error()
	}
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func nonEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
