package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/datapex/batchflow/pkg/connector/core"
	"github.com/datapex/batchflow/pkg/errors"
	"github.com/datapex/batchflow/pkg/logger"
	"github.com/datapex/batchflow/pkg/metrics"
	"github.com/datapex/batchflow/pkg/models"
)

// Store accumulates accepted records and bulk-writes them to the sink
// once the buffer reaches the flush threshold, or on explicit Flush.
//
// The buffer never exceeds the threshold after an insert returns: the
// insert that reaches it triggers a synchronous bulk write. On a sink
// failure the buffer is retained untouched, so the records are written
// at least once by a later insert-triggered write or Flush.
type Store struct {
	sink      core.Sink
	threshold int
	logger    *zap.Logger

	mu        sync.Mutex
	buffer    *models.RecordBatch
	persisted int64
}

// NewStore creates a store flushing to sink every threshold records.
func NewStore(sink core.Sink, threshold int) (*Store, error) {
	if threshold <= 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "flush threshold must be positive")
	}
	return &Store{
		sink:      sink,
		threshold: threshold,
		buffer:    models.NewRecordBatch(threshold),
		logger:    logger.With(zap.String("component", "store"), zap.String("sink", sink.Name())),
	}, nil
}

// Insert buffers a record, bulk-writing synchronously when the buffer
// reaches the threshold. A sink_write error means the buffer still
// holds every unwritten record, including this one.
func (s *Store) Insert(ctx context.Context, rec *models.StructuredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer.Add(rec)
	metrics.BufferDepth.Set(float64(s.buffer.Size()))

	if s.buffer.Size() >= s.threshold {
		return s.bulkWriteLocked(ctx)
	}
	return nil
}

// Flush bulk-writes any buffered records. Flushing an empty buffer is a
// no-op: no write call reaches the sink.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buffer.Size() == 0 {
		return nil
	}
	return s.bulkWriteLocked(ctx)
}

// bulkWriteLocked writes the whole buffer and clears it, atomically
// with respect to Insert and Flush (the caller holds s.mu). The buffer
// is only cleared after the sink acknowledges the write.
func (s *Store) bulkWriteLocked(ctx context.Context) error {
	count := s.buffer.Size()
	timer := metrics.NewTimer()

	if err := s.sink.BulkWrite(ctx, s.buffer.Records); err != nil {
		metrics.SinkWriteFailures.Inc()
		s.logger.Error("bulk write failed, retaining buffer",
			zap.Int("buffered", count),
			zap.Error(err))
		return errors.Wrap(err, errors.ErrorTypeSinkWrite, "bulk write failed").
			WithDetail("buffered", count)
	}

	metrics.BulkWriteLatency.Observe(timer.Stop().Seconds())
	metrics.RecordsPersisted.Add(float64(count))
	s.persisted += int64(count)
	s.buffer.Reset()
	metrics.BufferDepth.Set(0)

	s.logger.Debug("bulk write completed", zap.Int("records", count))
	return nil
}

// BufferLen returns the current number of buffered records.
func (s *Store) BufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Size()
}

// Persisted returns the number of records the sink has acknowledged.
func (s *Store) Persisted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persisted
}
