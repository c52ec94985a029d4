package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks completions served from cache
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proofread_cache_hits_total",
			Help: "Total number of completions served from cache",
		},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proofread_cache_misses_total",
			Help: "Total number of completion cache misses",
		},
	)

	// CacheWrittenBytes tracks bytes written to the cache
	CacheWrittenBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proofread_cache_written_bytes_total",
			Help: "Total bytes of completion entries written to cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proofread_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
