// Package metrics exposes Prometheus collectors for the crawler pipeline.
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
	tasksTotal              *prometheus.CounterVec
	pagesTotal              *prometheus.CounterVec
	fetchDurationSeconds    *prometheus.HistogramVec
	candidatesTotal         prometheus.Counter
	recordsPersistedTotal   prometheus.Counter
	recordsRejectedTotal    *prometheus.CounterVec
	recordsDeadLetterTotal  prometheus.Counter
	highPriorityTotal       prometheus.Counter
	scoreSignalsTotal       *prometheus.CounterVec
	activeWorkers           prometheus.Gauge
	rateLimitDelaysSeconds  *prometheus.HistogramVec
	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDurationSecs *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rfpscout_tasks_total",
				Help: "Total crawl tasks reaching a terminal or retry transition, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rfpscout_pages_total",
				Help: "Total pages fetched, labeled by site and status code.",
			},
			[]string{"site", "status"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rfpscout_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 15, 45},
			},
			[]string{"site"},
		)

		candidatesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rfpscout_candidates_total",
				Help: "Total candidates emitted by the extractor.",
			},
		)

		recordsPersistedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rfpscout_records_persisted_total",
				Help: "Total validated records handed to the persistence sink.",
			},
		)

		recordsRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rfpscout_records_rejected_total",
				Help: "Total candidates rejected by validation, labeled by reason.",
			},
			[]string{"reason"},
		)

		recordsDeadLetterTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rfpscout_records_dead_letter_total",
				Help: "Total records routed to the dead-letter path after persistence failures.",
			},
		)

		highPriorityTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rfpscout_high_priority_records_total",
				Help: "Total records scored at or above the acceptance threshold.",
			},
		)

		scoreSignalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rfpscout_score_signals_total",
				Help: "Scoring signal computations, labeled by signal and availability.",
			},
			[]string{"signal", "available"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rfpscout_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rfpscout_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
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

		httpRequestDurationSecs = promauto.NewHistogramVec(
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

// ObserveTask counts a task outcome (done, failed, skipped, retried).
func ObserveTask(outcome string) {
	tasksTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records one fetched page.
func ObserveFetch(site string, statusCode int, duration time.Duration) {
	sanitized := SanitizeSite(site)
	pagesTotal.WithLabelValues(sanitized, strconv.Itoa(statusCode)).Inc()
	fetchDurationSeconds.WithLabelValues(sanitized).Observe(duration.Seconds())
}

// ObserveCandidates counts candidates emitted from one page.
func ObserveCandidates(n int) {
	if n > 0 {
		candidatesTotal.Add(float64(n))
	}
}

// ObserveRecordPersisted counts a record handed to the sink, and whether it
// cleared the acceptance threshold.
func ObserveRecordPersisted(highPriority bool) {
	recordsPersistedTotal.Inc()
	if highPriority {
		highPriorityTotal.Inc()
	}
}

// ObserveRejection counts a validation rejection by reason.
func ObserveRejection(reason string) {
	recordsRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveDeadLetter counts a record routed to the dead-letter path.
func ObserveDeadLetter() {
	recordsDeadLetterTotal.Inc()
}

// ObserveScoreSignal counts one signal computation and its availability.
func ObserveScoreSignal(signal string, available bool) {
	scoreSignalsTotal.WithLabelValues(signal, strconv.FormatBool(available)).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecs.WithLabelValues(method, route).Observe(duration.Seconds())
}
