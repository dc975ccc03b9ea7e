// Package metrics registers the prometheus vectors the planner and cache
// report through: search attempts by outcome, Compute latency by pattern,
// and cache size.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ccltopo/graphsearch/pkg/search"
)

// Registry is the package-level registry the CLI and DebugService both
// register against and expose.
var Registry = prometheus.NewRegistry()

var (
	// SearchAttempts counts Compute calls by outcome: "solved",
	// "degenerate" (no channel found, fell back), or "error".
	SearchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "graphsearch_search_attempts_total",
		Help: "Number of Compute calls by outcome.",
	}, []string{"outcome"})

	// ComputeLatency observes Compute wall-clock latency by graph pattern.
	ComputeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "graphsearch_compute_latency_seconds",
		Help:    "Compute call latency in seconds, by pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"pattern"})

	// CacheSize reports the current number of entries held by the Compute
	// memoization cache.
	CacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "graphsearch_cache_size",
		Help: "Current number of memoized Compute results.",
	})

	// SearchGpuVisits mirrors SearchCore's process-wide atomic visit
	// counter as a gauge, so scrapers see search pressure without the
	// planner having to thread a counter through every call site.
	SearchGpuVisits = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "graphsearch_search_gpu_visits_total",
		Help: "Cumulative SearchRecGpu entries across all Compute calls.",
	})
)

func init() {
	Registry.MustRegister(SearchAttempts, ComputeLatency, CacheSize, SearchGpuVisits)
}

// ObserveOutcome increments SearchAttempts for the given outcome label and
// refreshes SearchGpuVisits from SearchCore's atomic counter.
func ObserveOutcome(outcome string) {
	SearchAttempts.WithLabelValues(outcome).Inc()
	SearchGpuVisits.Set(float64(search.GpuVisits()))
}
