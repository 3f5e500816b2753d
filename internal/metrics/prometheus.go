// Package metrics provides Prometheus metrics for the gateway: request
// counts and latencies, reference-resolution fetch counts, and shared-cache
// hit/miss rates.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.5, 5.0, 10.0, 30.0, 60.0,
}

var (
	// ProxyTotalRequests counts total proxied requests.
	ProxyTotalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_total_requests",
			Help:      "Total number of proxied requests",
		},
		[]string{"service", "method", "status_code"},
	)

	// ProxyFailedRequests counts failed proxied requests.
	ProxyFailedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_failed_requests",
			Help:      "Total number of failed proxied requests",
		},
		[]string{"service", "method", "error_kind"},
	)

	// RequestTotalLatency tracks total request latency (end-to-end).
	RequestTotalLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_total_latency_seconds",
			Help:      "Total request latency in seconds (end-to-end)",
			Buckets:   LatencyBuckets,
		},
		[]string{"service", "method"},
	)

	// FetchLatency tracks individual upstream fetch latency.
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_latency_seconds",
			Help:      "Upstream fetch latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"service"},
	)

	// ResolutionsTotal counts reference resolutions attempted during traversal.
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Total number of reference resolutions attempted",
		},
		[]string{"service", "outcome"},
	)

	// CacheOperationsTotal counts shared-cache reads and writes.
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of shared-cache operations",
		},
		[]string{"operation", "outcome"},
	)
)

// Handler returns the HTTP handler that exposes the registered metrics in
// the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
