// Package pipeline provides the batch ETL engine for batchflow,
// orchestrating data flow from source connectors through transformation
// and validation into a write-buffering store.
//
// # Overview
//
// One ProcessBatch call drains every configured source in sequence:
//
//	FETCH -> TRANSFORM -> VALIDATE -> BUFFER, then one terminal FLUSH
//
// Per-record failures (malformed timestamps, validation rejections) are
// contained: the record is dropped and its siblings continue. Per-batch
// failures (source unavailable, sink write failure) are surfaced to the
// caller as an aggregate error while the remaining sources continue.
// Nothing is fatal at the orchestrator level.
//
// # Caching
//
// The transform stage memoizes its enrichment function and the validate
// stage memoizes its decision, both through bounded LRU caches. A cached
// validation decision is returned as-is even if the rule would now
// evaluate differently; rules are assumed idempotent.
//
// # Concurrency
//
// Stages run strictly sequentially per source. Fetch may optionally be
// parallelized across sources (they share no mutable state); transform,
// validate, and insert stay sequential and ordered per source, and all
// inserts are serialized through the store's lock.
//
// # Basic Usage
//
//	p, err := pipeline.New(cfg, sources, sink)
//	if err != nil {
//	    return err
//	}
//	result, err := p.ProcessBatch(ctx, 50)
package pipeline
