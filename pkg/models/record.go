// Package models provides the data models flowing through a batchflow
// pipeline: raw records as produced by source connectors, structured
// records after transformation, and the per-run result summary.
package models

import (
	"time"
)

// RawRecord is a record exactly as a source connector produced it.
// The timestamp is the unparsed wire representation; Value is the raw
// measurement before enrichment. A RawRecord is immutable once produced
// and is consumed exactly once by the transform stage.
type RawRecord struct {
	// ID identifies the record within its source
	ID int64 `json:"id"`

	// Timestamp is the RFC3339 string as received from the source
	Timestamp string `json:"timestamp"`

	// Value is the raw measurement before enrichment
	Value float64 `json:"value"`

	// Metadata carries source-assigned key/value context
	Metadata map[string]string `json:"metadata"`
}

// StructuredRecord is the 1:1 derivation of a RawRecord after the
// transform stage: timestamp parsed, value enriched. It flows into
// validation and, if accepted, into the store.
type StructuredRecord struct {
	// ID is carried over from the raw record
	ID int64 `json:"id"`

	// Timestamp is the parsed event time
	Timestamp time.Time `json:"timestamp"`

	// Value is the post-enrichment value
	Value float64 `json:"value"`

	// Metadata is carried over from the raw record
	Metadata map[string]string `json:"metadata"`
}

// BatchResult summarizes one ProcessBatch run for observability.
// Dropped counts records excluded by transform failures or validation
// rejections; Persisted counts records the sink acknowledged.
type BatchResult struct {
	Fetched     int64 `json:"fetched"`
	Transformed int64 `json:"transformed"`
	Validated   int64 `json:"validated"`
	Persisted   int64 `json:"persisted"`
	Dropped     int64 `json:"dropped"`
}

// Add accumulates counts from another result.
func (r *BatchResult) Add(other *BatchResult) {
	r.Fetched += other.Fetched
	r.Transformed += other.Transformed
	r.Validated += other.Validated
	r.Persisted += other.Persisted
	r.Dropped += other.Dropped
}

// RecordBatch holds structured records awaiting a bulk operation.
// Pre-allocating capacity avoids growth during steady-state batching.
type RecordBatch struct {
	Records []*StructuredRecord
}

// NewRecordBatch creates a batch with the specified capacity.
func NewRecordBatch(capacity int) *RecordBatch {
	return &RecordBatch{Records: make([]*StructuredRecord, 0, capacity)}
}

// Add appends a record to the batch.
func (b *RecordBatch) Add(r *StructuredRecord) {
	b.Records = append(b.Records, r)
}

// Reset clears the batch for reuse without deallocating memory.
func (b *RecordBatch) Reset() {
	b.Records = b.Records[:0]
}

// Size returns the current number of records in the batch.
func (b *RecordBatch) Size() int {
	return len(b.Records)
}
