// Package metrics exposes Prometheus collectors for the capture service.
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
	captureAttemptsTotal       *prometheus.CounterVec
	captureDurationSeconds     *prometheus.HistogramVec
	captureActiveBrowsers      prometheus.Gauge
	variantResultsTotal        *prometheus.CounterVec
	permissionEscalationsTotal *prometheus.CounterVec
	batchTargetsTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		captureAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "demoshot_capture_attempts_total",
				Help: "Browser-backed capture attempts, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		captureDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "demoshot_capture_duration_seconds",
				Help:    "Wall time of a single capture attempt, labeled by strategy.",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"strategy"},
		)

		captureActiveBrowsers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "demoshot_capture_active_browsers",
				Help: "Number of browser processes currently admitted by the capture gate.",
			},
		)

		variantResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "demoshot_variant_results_total",
				Help: "Variant generation results, labeled by format and outcome.",
			},
			[]string{"format", "outcome"},
		)

		permissionEscalationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "demoshot_permission_escalations_total",
				Help: "Privileged ownership escalations, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		batchTargetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "demoshot_batch_targets_total",
				Help: "Targets processed by the batch runner, labeled by site and status.",
			},
			[]string{"site", "status"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
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

// ObserveAttempt records the outcome and duration of one capture attempt.
func ObserveAttempt(strategy, outcome string, duration time.Duration) {
	Init()
	captureAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
	captureDurationSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
}

// IncActiveBrowsers increments the admitted browser gauge.
func IncActiveBrowsers() {
	Init()
	captureActiveBrowsers.Inc()
}

// DecActiveBrowsers decrements the admitted browser gauge.
func DecActiveBrowsers() {
	Init()
	captureActiveBrowsers.Dec()
}

// ObserveVariant counts a variant generation result.
func ObserveVariant(format, outcome string) {
	Init()
	variantResultsTotal.WithLabelValues(format, outcome).Inc()
}

// ObserveEscalation counts a privileged chown attempt.
func ObserveEscalation(outcome string) {
	Init()
	permissionEscalationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBatchTarget counts a processed batch target.
func ObserveBatchTarget(site, status string) {
	Init()
	batchTargetsTotal.WithLabelValues(SanitizeSite(site), status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
