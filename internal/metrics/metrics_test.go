package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestObserversInitializeLazily(t *testing.T) {
	t.Parallel()

	Init()
	before := testutil.ToFloat64(batchRequestsTotal.WithLabelValues("rejected"))
	ObserveBatch("rejected")
	require.InDelta(t, before+1, testutil.ToFloat64(batchRequestsTotal.WithLabelValues("rejected")), 0.001)

	SetAdmissionInFlight(3)
	require.InDelta(t, 3, testutil.ToFloat64(admissionInFlight), 0.001)

	ObserveResource("https://metrics.example/a", "success", 128)
	require.GreaterOrEqual(t, testutil.ToFloat64(crawlBytesTotal.WithLabelValues("metrics.example")), float64(128))

	ObserveFetch("colly", 20*time.Millisecond)
	ObserveRateLimitDelay("metrics.example", time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(crawlFetchDurationSeconds))
	require.Positive(t, testutil.CollectAndCount(rateLimitDelaySeconds))
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/mw-ok", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/mw-teapot", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	beforeTeapot := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))

	for _, path := range []string{"/mw-ok", "/mw-teapot"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, beforeTeapot+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")), 0.001)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
