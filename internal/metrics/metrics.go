// Package metrics exposes Prometheus collectors for the matcher service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sourceFetchesTotal         *prometheus.CounterVec
	sourceFetchDurationSeconds *prometheus.HistogramVec
	sourceListingsTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	matchJobsTotal             *prometheus.CounterVec
	matchJobDurationSeconds    prometheus.Histogram
	cacheLookupsTotal          *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sourceFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matcher_source_fetches_total",
				Help: "Total number of source adapter attempts, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		sourceFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "matcher_source_fetch_duration_seconds",
				Help:    "Histogram of source adapter attempt latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		sourceListingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matcher_source_listings_total",
				Help: "Listings returned by sources, labeled by source and whether they normalized.",
			},
			[]string{"source", "state"},
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

		matchJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matcher_jobs_total",
				Help: "Total number of match jobs finished, labeled by status.",
			},
			[]string{"status"},
		)

		matchJobDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "matcher_job_duration_seconds",
				Help:    "Histogram of match job wall time.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matcher_cache_lookups_total",
				Help: "Price cache lookups, labeled by result (hit, miss).",
			},
			[]string{"result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "matcher_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "matcher_rate_limit_delays_seconds",
				Help:    "Histogram of per-source rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSourceFetch records one adapter attempt. Outcome is "ok" or a failure reason.
func ObserveSourceFetch(source, outcome string, duration time.Duration) {
	Init()
	sourceFetchesTotal.WithLabelValues(source, outcome).Inc()
	sourceFetchDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveListings records how many listings a source produced and how many were dropped.
func ObserveListings(source string, kept, dropped int) {
	Init()
	if kept > 0 {
		sourceListingsTotal.WithLabelValues(source, "kept").Add(float64(kept))
	}
	if dropped > 0 {
		sourceListingsTotal.WithLabelValues(source, "dropped").Add(float64(dropped))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string, duration time.Duration) {
	Init()
	matchJobsTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		matchJobDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
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

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(source).Observe(duration.Seconds())
}
