// Package metrics exposes Prometheus collectors for the outreach pipeline.
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
	itemsTotal                 *prometheus.CounterVec
	serviceCallsTotal          *prometheus.CounterVec
	serviceCallDuration        *prometheus.HistogramVec
	retriesTotal               *prometheus.CounterVec
	credentialExhaustionsTotal prometheus.Counter
	domainsBlockedTotal        prometheus.Counter
	mergeEntitiesTotal         *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_items_total",
				Help: "Total number of creators processed, labeled by contact status.",
			},
			[]string{"status"},
		)

		serviceCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_service_calls_total",
				Help: "Extraction service calls, labeled by call kind and outcome class.",
			},
			[]string{"kind", "outcome"},
		)

		serviceCallDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outreach_service_call_duration_seconds",
				Help:    "Latency of extraction service calls, labeled by call kind.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_retries_total",
				Help: "Retries of extraction service calls, labeled by call kind.",
			},
			[]string{"kind"},
		)

		credentialExhaustionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "outreach_credential_exhaustions_total",
				Help: "Credentials retired after the service reported exhausted quota.",
			},
		)

		domainsBlockedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "outreach_domains_blocked_total",
				Help: "Domains added to the blocklist.",
			},
		)

		mergeEntitiesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_merge_entities_total",
				Help: "Merged entities, labeled by entity type and outcome.",
			},
			[]string{"entity", "outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_active_workers",
				Help: "Number of workers currently extracting a creator.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outreach_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
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
	Init()
	return promhttp.Handler()
}

// ObserveItem counts one finished creator.
func ObserveItem(status string) {
	Init()
	itemsTotal.WithLabelValues(status).Inc()
}

// ObserveServiceCall records one extraction service call.
func ObserveServiceCall(kind, outcome string, duration time.Duration) {
	Init()
	serviceCallsTotal.WithLabelValues(kind, outcome).Inc()
	serviceCallDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveRetry counts one retried service call.
func ObserveRetry(kind string) {
	Init()
	retriesTotal.WithLabelValues(kind).Inc()
}

// ObserveCredentialExhausted counts a retired credential.
func ObserveCredentialExhausted() {
	Init()
	credentialExhaustionsTotal.Inc()
}

// ObserveDomainBlocked counts a newly blocked domain.
func ObserveDomainBlocked() {
	Init()
	domainsBlockedTotal.Inc()
}

// ObserveMerge counts one merged entity.
func ObserveMerge(entity, outcome string) {
	Init()
	mergeEntitiesTotal.WithLabelValues(entity, outcome).Inc()
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
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
