// Package core defines the connector contracts the pipeline consumes:
// sources that materialize batches of raw records and sinks that persist
// structured records in bulk. Implementations live under
// pkg/connector/sources and pkg/connector/destinations and register
// themselves with pkg/connector/registry.
package core

import (
	"context"
	"time"

	"github.com/datapex/batchflow/pkg/models"
)

// ConnectorType represents the type of connector
type ConnectorType string

const (
	ConnectorTypeSource ConnectorType = "source"
	ConnectorTypeSink   ConnectorType = "sink"
)

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Source is the interface all source connectors implement.
//
// Fetch blocks until a fully materialized batch of exactly batchSize
// records is available and returns it, or fails with a
// source_unavailable error without producing a partial batch. File-backed
// sources may return a shorter final batch when the underlying data is
// exhausted; they document that deviation. Fetch honors ctx cancellation.
type Source interface {
	// Name identifies the source instance
	Name() string

	// Fetch returns the next batch of raw records
	Fetch(ctx context.Context, batchSize int) ([]*models.RawRecord, error)

	// Health reports whether the source can currently serve fetches
	Health(ctx context.Context) HealthStatus

	// Close releases source resources
	Close(ctx context.Context) error
}

// Sink is the interface all destination connectors implement.
//
// BulkWrite persists every record in the slice or none of them; on error
// the caller retains its buffer and may retry the same records later.
// The slice is owned by the caller and reused after a successful write,
// so implementations must not retain it.
type Sink interface {
	// Name identifies the sink instance
	Name() string

	// BulkWrite persists all records at once
	BulkWrite(ctx context.Context, records []*models.StructuredRecord) error

	// Health reports whether the sink can currently accept writes
	Health(ctx context.Context) HealthStatus

	// Close flushes and releases sink resources
	Close(ctx context.Context) error
}

// HealthStatus represents the health of a connector at a point in time.
type HealthStatus struct {
	Connector ConnectorType          `json:"connector"`
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details"`
	Error     error                  `json:"error,omitempty"`
}

// OK reports whether the status is passing.
func (h HealthStatus) OK() bool {
	return h.Status == StatusHealthy
}

// WithDetail adds a key-value detail to the status.
func (h HealthStatus) WithDetail(key string, value interface{}) HealthStatus {
	if h.Details == nil {
		h.Details = make(map[string]interface{})
	}
	h.Details[key] = value
	return h
}

// Healthy returns a passing status for the given connector kind.
func Healthy(connector ConnectorType) HealthStatus {
	return HealthStatus{
		Connector: connector,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
}

// Unhealthy returns a failing status carrying its cause.
func Unhealthy(connector ConnectorType, err error) HealthStatus {
	return HealthStatus{
		Connector: connector,
		Status:    StatusUnhealthy,
		Timestamp: time.Now(),
		Error:     err,
	}
}
