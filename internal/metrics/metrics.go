// Package metrics exposes Prometheus collectors for the batch crawl service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	batchRequestsTotal         *prometheus.CounterVec
	admissionInFlight          prometheus.Gauge
	admissionRejectionsTotal   prometheus.Counter
	crawlResourcesTotal        *prometheus.CounterVec
	crawlBytesTotal            *prometheus.CounterVec
	crawlFetchDurationSeconds  *prometheus.HistogramVec
	poolQueueDepth             prometheus.Gauge
	poolActiveWorkers          prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		batchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batch_requests_total",
				Help: "Total number of batch crawl requests, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		admissionInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "admission_in_flight",
				Help: "Number of batch requests currently holding an admission slot.",
			},
		)

		admissionRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "admission_rejections_total",
				Help: "Total number of batch requests rejected because capacity was exhausted.",
			},
		)

		crawlResourcesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_resources_total",
				Help: "Total number of resources processed, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawl_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by fetcher kind.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"fetcher"},
		)

		poolQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pool_queue_depth",
				Help: "Number of crawl tasks waiting in the worker pool queue.",
			},
		)

		poolActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pool_active_workers",
				Help: "Number of pool workers currently running a task.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveBatch counts one finished batch request by outcome.
func ObserveBatch(outcome string) {
	Init()
	batchRequestsTotal.WithLabelValues(outcome).Inc()
}

// SetAdmissionInFlight publishes the current number of held admission slots.
func SetAdmissionInFlight(n int) {
	Init()
	admissionInFlight.Set(float64(n))
}

// ObserveAdmissionRejected counts one rejected batch.
func ObserveAdmissionRejected() {
	Init()
	admissionRejectionsTotal.Inc()
}

// ObserveResource increments the per-resource counters.
func ObserveResource(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlResourcesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetch records how long one fetch took.
func ObserveFetch(fetcher string, duration time.Duration) {
	Init()
	crawlFetchDurationSeconds.WithLabelValues(fetcher).Observe(duration.Seconds())
}

// SetQueueDepth publishes the number of queued pool tasks.
func SetQueueDepth(n int) {
	Init()
	poolQueueDepth.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	poolActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	poolActiveWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
