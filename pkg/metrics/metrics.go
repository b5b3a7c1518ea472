// Package metrics provides Prometheus instrumentation for batchflow.
// It defines the pipeline's stage counters, cache effectiveness
// counters, and latency histograms, all registered automatically via
// promauto.
//
// # Basic Usage
//
//	metrics.RecordsFetched.WithLabelValues("api_1").Add(50)
//
//	timer := metrics.NewTimer()
//	store.Flush(ctx)
//	metrics.BulkWriteLatency.Observe(timer.Stop().Seconds())
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsFetched counts raw records fetched, labeled by source.
	RecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchflow_records_fetched_total",
			Help: "Total number of raw records fetched from sources",
		},
		[]string{"source"},
	)

	// RecordsTransformed counts records surviving the transform stage.
	RecordsTransformed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchflow_records_transformed_total",
			Help: "Total number of records successfully transformed",
		},
		[]string{"source"},
	)

	// RecordsDropped counts records excluded from the pipeline, labeled
	// by the stage that dropped them (transform, validate).
	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchflow_records_dropped_total",
			Help: "Total number of records dropped before persistence",
		},
		[]string{"source", "stage"},
	)

	// RecordsPersisted counts records acknowledged by the sink.
	RecordsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batchflow_records_persisted_total",
			Help: "Total number of records persisted by bulk writes",
		},
	)

	// CacheHits counts memoization cache hits, labeled by cache name.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchflow_cache_hits_total",
			Help: "Total cache hits per memoization cache",
		},
		[]string{"cache"},
	)

	// CacheMisses counts memoization cache misses, labeled by cache name.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchflow_cache_misses_total",
			Help: "Total cache misses per memoization cache",
		},
		[]string{"cache"},
	)

	// FetchLatency observes per-fetch duration in seconds by source.
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batchflow_fetch_latency_seconds",
			Help:    "Source fetch latency distribution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// BulkWriteLatency observes bulk write duration in seconds.
	BulkWriteLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batchflow_bulk_write_latency_seconds",
			Help:    "Sink bulk write latency distribution",
			Buckets: prometheus.DefBuckets,
		},
	)

	// BufferDepth tracks the store's current write buffer length.
	BufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "batchflow_store_buffer_depth",
			Help: "Current number of records buffered awaiting bulk write",
		},
	)

	// SinkWriteFailures counts failed bulk writes.
	SinkWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batchflow_sink_write_failures_total",
			Help: "Total number of failed bulk writes",
		},
	)
)

// Timer measures elapsed time for an operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
