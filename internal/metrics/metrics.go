// Package metrics exposes Prometheus collectors for the ingestion service.
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
	pagesTotal                 *prometheus.CounterVec
	pageBytesTotal             *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	robotsFallbackTotal        prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	poolAvailableWorkers       prometheus.Gauge
	poolQuarantinedWorkers     prometheus.Gauge
	poolPendingJobs            prometheus.Gauge
	poolDispatchTotal          *prometheus.CounterVec
	poolReclaimedTotal         prometheus.Counter
	progressDroppedTotal       *prometheus.CounterVec
	ingestDocumentsTotal       *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webingest_pages_total",
				Help: "Pages processed by the crawl engine, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		pageBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webingest_page_bytes_total",
				Help: "Bytes fetched, labeled by site.",
			},
			[]string{"site"},
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

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webingest_robots_fallback_total",
				Help: "robots.txt requests that exhausted retries and fell back to allow-all.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webingest_rate_limit_delay_seconds",
				Help:    "Time spent waiting on download_delay, labeled by domain.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webingest_active_workers",
				Help: "Number of workers currently running a crawl.",
			},
		)

		poolAvailableWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webingest_pool_available_workers",
				Help: "Workers idle in the available pool.",
			},
		)

		poolQuarantinedWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webingest_pool_quarantined_workers",
				Help: "Workers whose job timed out and that have not reported back yet.",
			},
		)

		poolPendingJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webingest_pool_pending_jobs",
				Help: "Jobs dispatched and awaiting a result.",
			},
		)

		poolDispatchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webingest_pool_dispatch_total",
				Help: "Crawl dispatches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		poolReclaimedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webingest_pool_reclaimed_workers_total",
				Help: "Quarantined workers returned to the pool after a late result.",
			},
		)

		progressDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webingest_progress_dropped_total",
				Help: "Progress notifications dropped because a buffer was full.",
			},
			[]string{"stage"},
		)

		ingestDocumentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webingest_ingest_documents_total",
				Help: "Documents handed to the ingest client, labeled by outcome.",
			},
			[]string{"outcome"},
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
	Init()
	return promhttp.Handler()
}

// ObservePage records one page outcome (crawled, failed, skipped, blocked).
func ObservePage(site, outcome string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	pagesTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		pageBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts robots.txt requests answered with allow-all.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// SetPoolState publishes the pool's worker and job accounting.
func SetPoolState(available, quarantined, pending int) {
	Init()
	poolAvailableWorkers.Set(float64(available))
	poolQuarantinedWorkers.Set(float64(quarantined))
	poolPendingJobs.Set(float64(pending))
}

// ObserveDispatch counts a finished Pool.Crawl call by outcome.
func ObserveDispatch(outcome string) {
	Init()
	poolDispatchTotal.WithLabelValues(outcome).Inc()
}

// ObserveReclaim counts a quarantined worker returned to service.
func ObserveReclaim() {
	Init()
	poolReclaimedTotal.Inc()
}

// ObserveProgressDropped counts a dropped progress notification.
func ObserveProgressDropped(stage string) {
	Init()
	progressDroppedTotal.WithLabelValues(stage).Inc()
}

// ObserveIngest counts documents sent to the ingest client.
func ObserveIngest(outcome string, documents int) {
	Init()
	ingestDocumentsTotal.WithLabelValues(outcome).Add(float64(documents))
}
