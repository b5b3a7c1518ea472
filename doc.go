// Package batchflow provides a batch ETL pipeline with memoized
// enrichment and validation, designed around abstract source and sink
// connectors so the full pipeline runs and tests in-process.
//
// Each batch flows through four stages per source, with one terminal
// flush after all sources are drained:
//
//	FETCH -> TRANSFORM -> VALIDATE -> BUFFER, then FLUSH
//
// The transform stage memoizes its enrichment function and the validate
// stage memoizes its accept/reject decision, both through bounded LRU
// caches, so repeated values and repeated (id, value) pairs never
// recompute. The store buffers accepted records and bulk-writes them to
// the sink whenever the buffer reaches its flush threshold; on a sink
// failure the buffer is retained untouched, so a later write retries
// the same records.
//
// # Quick Start
//
// Build and run a pipeline programmatically:
//
//	import (
//	    "context"
//	    "github.com/datapex/batchflow/internal/pipeline"
//	    "github.com/datapex/batchflow/pkg/config"
//	    "github.com/datapex/batchflow/pkg/connector/registry"
//	)
//
//	cfg := config.Default()
//	cfg.Sources = []config.SourceConfig{
//	    {Name: "api_1", Type: config.SourceTypeSimulated, Latency: 100 * time.Millisecond},
//	    {Name: "api_2", Type: config.SourceTypeSimulated, Latency: 150 * time.Millisecond},
//	}
//
//	src1, _ := registry.CreateSource(cfg.Sources[0])
//	src2, _ := registry.CreateSource(cfg.Sources[1])
//	sink, _ := registry.CreateSink(cfg.Sink)
//
//	p, _ := pipeline.New(cfg, []core.Source{src1, src2}, sink)
//	result, err := p.ProcessBatch(context.Background(), 50)
//
// Or from the command line:
//
//	batchflow run --config pipeline.yaml --batches 3
//
// # Key Packages
//
//	pkg/connector     - Source and sink connector framework with a registry
//	pkg/cache         - Bounded LRU memoization with atomic get-or-compute
//	pkg/config        - Unified configuration with defaults and validation
//	pkg/errors        - Structured error handling
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus metrics collection
//	pkg/observability - OpenTelemetry tracing
//	internal/pipeline - The pipeline engine: transformer, validator, store
//
// # Failure Policy
//
// Failures are contained at the smallest scope that can absorb them:
//   - A record with an unparseable timestamp is dropped; its batch continues.
//   - A record rejected by validation is dropped; its batch continues.
//   - A source that cannot produce a batch is skipped; other sources continue.
//   - A sink write failure retains the buffer and surfaces in the aggregate
//     error; the terminal flush retries.
//
// # Connectors
//
// Available source connectors:
//   - simulated (configurable latency, seeded values)
//   - csv
//
// Available sink connectors:
//   - memory (in-process datastore, last-write-wins by record id)
//   - jsonfile (JSON lines, optional gzip)
package batchflow
