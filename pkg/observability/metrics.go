// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring credgate.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ResolveBuckets defines histogram buckets for credential resolution,
// ranging from 100µs (cache hit) to 5s (slow backend).
var ResolveBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credgate_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// ResolveTotal counts resolutions by resolver and outcome.
	ResolveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credgate_resolve_total",
			Help: "Credential resolutions",
		},
		[]string{"resolver", "outcome"},
	)

	// ResolveDuration records resolution latency in seconds by resolver.
	ResolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credgate_resolve_duration_seconds",
			Help:    "Resolution duration",
			Buckets: ResolveBuckets,
		},
		[]string{"resolver"},
	)

	// BackendErrorsTotal counts credential store faults by resolver.
	BackendErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credgate_backend_errors_total",
			Help: "Credential store lookup failures",
		},
		[]string{"resolver"},
	)

	// CacheRequestsTotal counts cache lookups by result (hit, negative_hit, miss).
	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credgate_cache_requests_total",
			Help: "Resolution cache lookups",
		},
		[]string{"result"},
	)

	// CacheEntries tracks the number of entries held by resolution caches.
	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "credgate_cache_entries",
			Help: "Cached resolution results",
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the failure limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credgate_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"class"},
	)

	// ConfigReloadsTotal counts configuration reloads by result.
	ConfigReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credgate_config_reloads_total",
			Help: "Configuration reloads",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		ResolveTotal,
		ResolveDuration,
		BackendErrorsTotal,
		CacheRequestsTotal,
		CacheEntries,
		RateLimitRejectedTotal,
		ConfigReloadsTotal,
	)
}
