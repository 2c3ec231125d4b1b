package memgraph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for graph calls and the proxy's
// HTTP surface. Each instance owns its registry, so tests can build as
// many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// Tool calls
	ToolCalls    *prometheus.CounterVec
	ToolDuration *prometheus.HistogramVec

	// Search cache
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Episodes sent through add_memory
	EpisodesAdded *prometheus.CounterVec

	// HTTP metrics, fed by the proxy
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates a collector set under namespace.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	toolCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of memory server tool calls",
		},
		[]string{"tool", "status"},
	)

	toolDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Memory server tool call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of search cache hits",
		},
	)

	cacheMisses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of search cache misses",
		},
	)

	episodesAdded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_added_total",
			Help:      "Total number of episodes submitted",
		},
		[]string{"source", "status"},
	)

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	registry.MustRegister(
		toolCalls,
		toolDuration,
		cacheHits,
		cacheMisses,
		episodesAdded,
		httpRequests,
		httpDuration,
	)

	return &Metrics{
		registry:      registry,
		ToolCalls:     toolCalls,
		ToolDuration:  toolDuration,
		CacheHits:     cacheHits,
		CacheMisses:   cacheMisses,
		EpisodesAdded: episodesAdded,
		HTTPRequests:  httpRequests,
		HTTPDuration:  httpDuration,
	}
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeCall(tool string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(time.Since(started).Seconds())
}
