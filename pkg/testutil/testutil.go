// Package testutil provides shared helpers for batchflow tests: canned
// record builders and a deterministic in-memory source connector.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/datapex/batchflow/pkg/connector/core"
	"github.com/datapex/batchflow/pkg/errors"
	"github.com/datapex/batchflow/pkg/models"
)

// RawRecord builds a valid raw record attributed to the given source.
func RawRecord(id int64, source string, value float64) *models.RawRecord {
	return &models.RawRecord{
		ID:        id,
		Timestamp: "2024-03-01T10:00:00Z",
		Value:     value,
		Metadata:  map[string]string{"source": source},
	}
}

// RawRecords builds count sequential records with ids starting at base.
// Values are kept small enough that the default enrichment stays inside
// the validation bounds.
func RawRecords(base int64, count int, source string) []*models.RawRecord {
	records := make([]*models.RawRecord, count)
	for i := range records {
		records[i] = RawRecord(base+int64(i), source, float64(i)/10)
	}
	return records
}

// StaticSource is a source connector returning pre-canned batches. Each
// Fetch consumes one queued batch; fetching past the queue fails with
// source_unavailable. Safe for concurrent use.
type StaticSource struct {
	name string

	mu      sync.Mutex
	batches [][]*models.RawRecord
	fetches int
	failErr error
}

// NewStaticSource creates a source that serves the given batches in order.
func NewStaticSource(name string, batches ...[]*models.RawRecord) *StaticSource {
	return &StaticSource{name: name, batches: batches}
}

// Name returns the source name.
func (s *StaticSource) Name() string { return s.name }

// Fetch returns the next queued batch regardless of batchSize; tests
// queue batches of the size they mean to observe.
func (s *StaticSource) Fetch(ctx context.Context, batchSize int) ([]*models.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetches++
	if s.failErr != nil {
		return nil, errors.Wrap(s.failErr, errors.ErrorTypeSourceUnavailable, "fetch failed").
			WithDetail("source", s.name)
	}
	if len(s.batches) == 0 {
		return nil, errors.New(errors.ErrorTypeSourceUnavailable, "no batches queued").
			WithDetail("source", s.name)
	}

	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

// Fail makes every subsequent Fetch fail with the given cause.
func (s *StaticSource) Fail(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = cause
}

// Fetches returns how many times Fetch was called.
func (s *StaticSource) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// Health reports whether a queued batch remains.
func (s *StaticSource) Health(ctx context.Context) core.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == 0 {
		return core.Unhealthy(core.ConnectorTypeSource, fmt.Errorf("no batches queued")).
			WithDetail("source", s.name)
	}
	return core.Healthy(core.ConnectorTypeSource).
		WithDetail("source", s.name).
		WithDetail("batches_queued", len(s.batches))
}

// Close is a no-op.
func (s *StaticSource) Close(ctx context.Context) error { return nil }
