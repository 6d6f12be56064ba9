// Package metrics defines the Prometheus metrics the proxy pipeline
// emits: client-facing response counts/latency split by cache outcome,
// and upstream dispatch counts/latency split by impersonation profile.
// The two series stay separate because they have different
// cardinality budgets: a handful of cache outcomes on the client side
// versus a bounded but larger set of fingerprint profiles upstream,
// since this proxy has no fixed backend pool to label by instead.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// requestsTotal counts proxy responses by method, status and cache
	// outcome (HIT/MISS/BYPASS).
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_requests_total",
			Help: "Total proxy responses by method, status and cache result",
		},
		[]string{"method", "status", "cache"},
	)
	// requestDuration captures per-request proxy latency, from the
	// pipeline starting to handle the request to the response being
	// written.
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxy_request_duration_seconds",
			Help:    "End-to-end proxy request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "cache"},
	)
	// upstreamRequestsTotal counts dispatches to the real origin,
	// labeled by the resolved impersonation profile rather than by
	// destination host, to keep the label bounded.
	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_upstream_requests_total",
			Help: "Total upstream dispatches by impersonation profile, method and status",
		},
		[]string{"profile", "method", "status"},
	)
	upstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxy_upstream_request_duration_seconds",
			Help:    "Upstream dispatch duration observed at the proxy by profile and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"profile", "method"},
	)
	// retriesTotal counts retry attempts against the upstream.
	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proxy_upstream_retries_total",
			Help: "Total upstream retry attempts",
		},
	)
	// extractionsTotal counts content-extraction rule matches.
	extractionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proxy_extractions_total",
			Help: "Total flows where an extraction rule matched",
		},
	)
)

func init() {
	prometheus.MustRegister(
		requestsTotal,
		requestDuration,
		upstreamRequestsTotal,
		upstreamRequestDuration,
		retriesTotal,
		extractionsTotal,
	)
}

// normCacheLabel keeps the cache label bounded; an empty outcome is
// reported as BYPASS rather than an empty label value.
func normCacheLabel(v string) string {
	if v == "" {
		return "BYPASS"
	}
	return v
}

// ObserveResponse records a client-facing proxy response.
func ObserveResponse(method string, status int, cache string, dur time.Duration) {
	cache = normCacheLabel(cache)
	requestsTotal.WithLabelValues(method, strconv.Itoa(status), cache).Inc()
	requestDuration.WithLabelValues(method, cache).Observe(dur.Seconds())
}

// ObserveUpstreamResponse records one upstream dispatch as seen by
// the proxy, attributed to the impersonation profile that served it.
func ObserveUpstreamResponse(profile, method string, status int, dur time.Duration) {
	if profile == "" {
		profile = "unknown"
	}
	upstreamRequestsTotal.WithLabelValues(profile, method, strconv.Itoa(status)).Inc()
	upstreamRequestDuration.WithLabelValues(profile, method).Observe(dur.Seconds())
}

// RetryInc increments the upstream retry counter.
func RetryInc() { retriesTotal.Inc() }

// ExtractionInc increments the extraction-match counter.
func ExtractionInc() { extractionsTotal.Inc() }
