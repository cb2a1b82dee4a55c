package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/batch-crawler/internal/admission"
	"github.com/JakeFAU/batch-crawler/internal/batch"
	"github.com/JakeFAU/batch-crawler/internal/config"
	"github.com/JakeFAU/batch-crawler/internal/crawler"
	"github.com/JakeFAU/batch-crawler/internal/dispatcher"
	"github.com/JakeFAU/batch-crawler/internal/strategy"
)

type fakeService struct {
	mu       sync.Mutex
	requests []crawler.BatchRequest
	reply    crawler.Reply
	err      error
	count    int64
	countErr error
	cleared  int
	panicMsg string
}

func (f *fakeService) Submit(_ context.Context, req crawler.BatchRequest) (crawler.Reply, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func (f *fakeService) TotalCount(context.Context) (int64, error) { return f.count, f.countErr }

func (f *fakeService) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func (f *fakeService) Strategies(kind strategy.Kind) []strategy.Descriptor {
	return []strategy.Descriptor{{Name: string(kind) + "-one", Kind: kind, Params: []strategy.Param{}}}
}

func (f *fakeService) lastRequest(t *testing.T) crawler.BatchRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 8080, CORSOrigins: []string{"*"}, RequestTimeoutSeconds: 30},
		Crawler: config.CrawlerConfig{WordCountThreshold: 5},
	}
}

func newTestServer(svc *fakeService) *Server {
	return NewServer(svc, testConfig(), zap.NewNop())
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Crawl_AppliesDefaults(t *testing.T) {
	t.Parallel()

	html := "<p>x</p>"
	svc := &fakeService{reply: crawler.Reply{
		BatchID: "batch-1",
		Results: []crawler.CrawlResult{{URL: "https://example.com", HTML: &html, Success: true, Chunks: []string{}, ExtractedContent: []crawler.Block{}}},
	}}
	rec := do(t, newTestServer(svc), http.MethodPost, "/crawl", `{"urls":["https://example.com"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var reply crawler.Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	require.Equal(t, "batch-1", reply.BatchID)
	require.Len(t, reply.Results, 1)

	got := svc.lastRequest(t)
	require.Equal(t, []string{"https://example.com"}, got.URLs)
	require.Equal(t, 5, got.WordCountThreshold)
	require.Equal(t, strategy.DefaultExtraction, got.Extraction.Name)
	require.Equal(t, strategy.DefaultChunking, got.Chunking.Name)
	require.False(t, got.IncludeRawHTML)
	require.False(t, got.BypassCache)
	require.Empty(t, got.CSSSelector)
	require.False(t, got.Verbose)
}

func TestServer_Crawl_PassesOptions(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	body := `{
		"urls": ["https://a.test", "https://b.test"],
		"include_raw_html": true,
		"bypass_cache": true,
		"word_count_threshold": 0,
		"extraction_strategy": "CosineStrategy",
		"extraction_strategy_args": {"top_k": 2},
		"chunking_strategy": "SlidingWindowChunking",
		"chunking_strategy_args": {"window_size": 20, "step": 10},
		"css_selector": "main article",
		"verbose": true
	}`
	rec := do(t, newTestServer(svc), http.MethodPost, "/v1/crawl", body)
	require.Equal(t, http.StatusOK, rec.Code)

	got := svc.lastRequest(t)
	require.True(t, got.IncludeRawHTML)
	require.True(t, got.BypassCache)
	require.Zero(t, got.WordCountThreshold)
	require.Equal(t, "CosineStrategy", got.Extraction.Name)
	require.EqualValues(t, 2, got.Extraction.Args["top_k"])
	require.Equal(t, "SlidingWindowChunking", got.Chunking.Name)
	require.EqualValues(t, 20, got.Chunking.Args["window_size"])
	require.Equal(t, "main article", got.CSSSelector)
	require.True(t, got.Verbose)
}

func TestServer_Crawl_InvalidJSON(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestServer(&fakeService{}), http.MethodPost, "/crawl", "{invalid")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid JSON")
}

func TestServer_Crawl_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{name: "capacity", err: admission.ErrCapacityExceeded, status: http.StatusTooManyRequests, body: "capacity"},
		{name: "invalid", err: fmt.Errorf("%w: urls must not be empty", batch.ErrInvalidRequest), status: http.StatusBadRequest, body: "urls must not be empty"},
		{name: "unknown strategy", err: &strategy.NotFoundError{Kind: strategy.KindExtraction, Name: "Nope"}, status: http.StatusBadRequest, body: "Nope"},
		{
			name:   "bad args",
			err:    &strategy.ConstructionError{Kind: strategy.KindChunking, Name: "RegexChunking", Err: errors.New("bad pattern")},
			status: http.StatusBadRequest,
			body:   "bad pattern",
		},
		{name: "dispatch", err: fmt.Errorf("%w: %w", dispatcher.ErrDispatch, context.DeadlineExceeded), status: http.StatusInternalServerError, body: "internal server error"},
		{name: "deadline", err: context.DeadlineExceeded, status: http.StatusGatewayTimeout},
		{name: "other", err: errors.New("disk on fire"), status: http.StatusInternalServerError, body: "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, newTestServer(&fakeService{err: tt.err}), http.MethodPost, "/crawl", `{"urls":["https://a.test"]}`)
			require.Equal(t, tt.status, rec.Code)
			require.Contains(t, rec.Body.String(), `"error"`)
			require.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestServer_TotalCount(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestServer(&fakeService{count: 42}), http.MethodGet, "/total-count", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"count":42}`, rec.Body.String())

	rec = do(t, newTestServer(&fakeService{countErr: errors.New("db down")}), http.MethodGet, "/total-count", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_ClearDB(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	rec := do(t, newTestServer(svc), http.MethodGet, "/clear-db", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"Database cleared."}`, rec.Body.String())
	require.Equal(t, 1, svc.cleared)
}

func TestServer_Strategies(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeService{})
	rec := do(t, s, http.MethodGet, "/strategies/extraction", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var descs []strategy.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &descs))
	require.Len(t, descs, 1)
	require.Equal(t, "extraction-one", descs[0].Name)

	rec = do(t, s, http.MethodGet, "/strategies/chunking", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "chunking-one")

	rec = do(t, s, http.MethodGet, "/strategies/other", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeService{}, testConfig(), nil,
		ReadinessCheck{Name: "cache", Check: func(context.Context) error { return nil }})
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/readyz", "").Code)

	s = NewServer(&fakeService{}, testConfig(), nil,
		ReadinessCheck{Name: "cache", Check: func(context.Context) error { return errors.New("redis down") }})
	rec := do(t, s, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "redis down")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeService{})
	do(t, s, http.MethodGet, "/healthz", "")
	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	s := NewServer(&fakeService{count: 1}, cfg, zap.NewNop())

	require.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/total-count", "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/total-count?api_key=secret", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/total-count", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Health probes stay open.
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
}

func TestServer_CORS(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.CORSOrigins = []string{"https://app.example"}
	s := NewServer(&fakeService{}, cfg, zap.NewNop())

	req := httptest.NewRequest(http.MethodOptions, "/crawl", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, newTestServer(&fakeService{}), http.MethodGet, "/healthz", "")
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestServer(&fakeService{panicMsg: "boom"}), http.MethodPost, "/crawl", `{"urls":["https://a.test"]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_RequestIDPropagates(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	newTestServer(&fakeService{}).Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
