// Package metrics exposes Prometheus collectors for the link preview service.
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
	previewRequestsTotal          *prometheus.CounterVec
	previewRenderDurationSeconds  prometheus.Histogram
	previewScreenshotFallbacks    prometheus.Counter
	previewNavigationAttempts     *prometheus.CounterVec
	previewCacheOperationsTotal   *prometheus.CounterVec
	previewActiveRenders          prometheus.Gauge
	previewRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times; every Observe helper
// calls it.
func Init() {
	once.Do(func() {
		previewRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preview_requests_total",
				Help: "Preview lookups, labeled by outcome (hit, miss, invalid, error).",
			},
			[]string{"outcome"},
		)

		previewRenderDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "preview_render_duration_seconds",
				Help:    "Wall time of a browser render from launch to close.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
		)

		previewScreenshotFallbacks = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "preview_screenshot_fallback_total",
				Help: "Renders that used a viewport screenshot because no image metadata was found.",
			},
		)

		previewNavigationAttempts = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preview_navigation_attempts_total",
				Help: "Individual navigation attempts, labeled by result.",
			},
			[]string{"result"},
		)

		previewCacheOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preview_cache_operations_total",
				Help: "Cache operations, labeled by operation and result.",
			},
			[]string{"op", "result"},
		)

		previewActiveRenders = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "preview_active_renders",
				Help: "Number of browser sessions currently open.",
			},
		)

		previewRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "preview_rate_limit_delays_seconds",
				Help:    "Histogram of per-host render rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname for use as a label value.
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
	Init()
	return promhttp.Handler()
}

// ObservePreview counts a preview lookup by outcome.
func ObservePreview(outcome string) {
	Init()
	previewRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRender records how long a browser render took.
func ObserveRender(duration time.Duration) {
	Init()
	previewRenderDurationSeconds.Observe(duration.Seconds())
}

// ObserveScreenshotFallback counts a screenshot used in place of an image.
func ObserveScreenshotFallback() {
	Init()
	previewScreenshotFallbacks.Inc()
}

// ObserveNavigationAttempt counts one navigation attempt.
func ObserveNavigationAttempt(result string) {
	Init()
	previewNavigationAttempts.WithLabelValues(result).Inc()
}

// ObserveCacheOperation counts a cache call.
func ObserveCacheOperation(op, result string) {
	Init()
	previewCacheOperationsTotal.WithLabelValues(op, result).Inc()
}

// IncActiveRenders increments the open browser session gauge.
func IncActiveRenders() {
	Init()
	previewActiveRenders.Inc()
}

// DecActiveRenders decrements the open browser session gauge.
func DecActiveRenders() {
	Init()
	previewActiveRenders.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	previewRateLimitDelaysSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
