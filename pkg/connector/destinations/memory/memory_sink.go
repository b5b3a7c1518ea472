// Package memory provides the in-memory datastore sink: a map from
// record id to structured record with last-write-wins semantics. It is
// the simulated stand-in for a real database and the default sink for
// tests and local runs.
package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/datapex/batchflow/pkg/config"
	"github.com/datapex/batchflow/pkg/connector/core"
	"github.com/datapex/batchflow/pkg/connector/registry"
	"github.com/datapex/batchflow/pkg/errors"
	"github.com/datapex/batchflow/pkg/logger"
	"github.com/datapex/batchflow/pkg/models"
)

func init() {
	registry.RegisterSink(config.SinkTypeMemory, func(cfg config.SinkConfig) (core.Sink, error) {
		return New(cfg), nil
	})
}

// Sink stores records in memory keyed by id. Duplicate ids are resolved
// last-write-wins in BulkWrite call order. A bulk write is all-or-
// nothing: on injected failure no record from the slice is applied.
type Sink struct {
	writeLatency time.Duration
	logger       *zap.Logger

	mu         sync.Mutex
	data       map[int64]*models.StructuredRecord
	writes     int64
	failNext   error
	alwaysFail error
	closed     bool
}

// New creates an empty in-memory sink.
func New(cfg config.SinkConfig) *Sink {
	return &Sink{
		writeLatency: cfg.WriteLatency,
		data:         make(map[int64]*models.StructuredRecord),
		logger:       logger.With(zap.String("sink", config.SinkTypeMemory)),
	}
}

// Name returns the sink type name.
func (s *Sink) Name() string { return config.SinkTypeMemory }

// BulkWrite upserts every record keyed by id, last write wins.
func (s *Sink) BulkWrite(ctx context.Context, records []*models.StructuredRecord) error {
	if s.writeLatency > 0 {
		timer := time.NewTimer(s.writeLatency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrorTypeSinkWrite, "bulk write cancelled")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(errors.ErrorTypeSinkWrite, "sink is closed")
	}
	if s.alwaysFail != nil {
		return errors.Wrap(s.alwaysFail, errors.ErrorTypeSinkWrite, "bulk write failed")
	}
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return errors.Wrap(err, errors.ErrorTypeSinkWrite, "bulk write failed")
	}

	for _, rec := range records {
		s.data[rec.ID] = rec
	}
	s.writes++

	s.logger.Debug("bulk write applied",
		zap.Int("records", len(records)),
		zap.Int("datastore_size", len(s.data)))
	return nil
}

// Health reports whether the sink accepts writes.
func (s *Sink) Health(ctx context.Context) core.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.Unhealthy(core.ConnectorTypeSink,
			errors.New(errors.ErrorTypeSinkWrite, "sink is closed"))
	}
	if s.alwaysFail != nil {
		return core.Unhealthy(core.ConnectorTypeSink, s.alwaysFail)
	}
	return core.Healthy(core.ConnectorTypeSink).
		WithDetail("datastore_size", len(s.data))
}

// Close stops the sink from accepting further writes.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Get returns the stored record for id, if any.
func (s *Sink) Get(id int64) (*models.StructuredRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[id]
	return rec, ok
}

// Len returns the number of distinct record ids stored.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Writes returns the number of successful bulk writes.
func (s *Sink) Writes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// FailNext makes only the next bulk write fail with the given cause.
func (s *Sink) FailNext(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = cause
}

// FailAlways makes every bulk write fail until cleared with nil.
func (s *Sink) FailAlways(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alwaysFail = cause
}
