// Package simulated provides an in-process source connector that stands
// in for a real network-backed data source. Each fetch blocks for a
// configurable latency before returning a fully materialized batch,
// which keeps the pipeline's blocking-fetch contract observable without
// external infrastructure.
package simulated

import (
	"context"
	"math/rand"
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
	registry.RegisterSource(config.SourceTypeSimulated, func(cfg config.SourceConfig) (core.Source, error) {
		return New(cfg), nil
	})
}

// Source simulates an external data source with fixed acquisition
// latency. Record IDs restart at zero for every fetch, matching the
// upstream systems this stands in for, so two sources drained in the
// same run produce colliding IDs on purpose.
type Source struct {
	name    string
	latency time.Duration
	rng     *rand.Rand
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
	broken error
}

// New creates a simulated source from its configuration.
func New(cfg config.SourceConfig) *Source {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Source{
		name:    cfg.Name,
		latency: cfg.Latency,
		rng:     rand.New(rand.NewSource(seed)),
		logger:  logger.With(zap.String("source", cfg.Name)),
	}
}

// Name returns the source name.
func (s *Source) Name() string { return s.name }

// Fetch returns exactly batchSize raw records after the configured
// latency elapses. On failure nothing is returned: never a partial batch.
func (s *Source) Fetch(ctx context.Context, batchSize int) ([]*models.RawRecord, error) {
	if batchSize <= 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "batch size must be positive").
			WithDetail("source", s.name)
	}

	s.mu.Lock()
	closed, broken := s.closed, s.broken
	s.mu.Unlock()
	if closed {
		return nil, errors.New(errors.ErrorTypeSourceUnavailable, "source is closed").
			WithDetail("source", s.name)
	}
	if broken != nil {
		return nil, errors.Wrap(broken, errors.ErrorTypeSourceUnavailable, "fetch failed").
			WithDetail("source", s.name)
	}

	// Simulated acquisition latency; a real connector would block on I/O here.
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeSourceUnavailable, "fetch cancelled").
				WithDetail("source", s.name)
		}
	}

	batch := make([]*models.RawRecord, batchSize)
	now := time.Now().Format(time.RFC3339Nano)
	s.mu.Lock()
	for i := range batch {
		batch[i] = &models.RawRecord{
			ID:        int64(i),
			Timestamp: now,
			Value:     s.rng.Float64() * 100,
			Metadata: map[string]string{
				"source": s.name,
				"batch":  time.Now().Format("20060102T150405"),
			},
		}
	}
	s.mu.Unlock()

	s.logger.Debug("fetched batch", zap.Int("batch_size", batchSize))
	return batch, nil
}

// Health reports whether the source can serve fetches.
func (s *Source) Health(ctx context.Context) core.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.Unhealthy(core.ConnectorTypeSource,
			errors.New(errors.ErrorTypeSourceUnavailable, "source is closed")).
			WithDetail("source", s.name)
	}
	if s.broken != nil {
		return core.Unhealthy(core.ConnectorTypeSource, s.broken).
			WithDetail("source", s.name)
	}
	return core.Healthy(core.ConnectorTypeSource).WithDetail("source", s.name)
}

// Close marks the source unavailable for further fetches.
func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Break makes subsequent fetches fail with the given cause, simulating
// connectivity loss. Passing nil restores the source.
func (s *Source) Break(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken = cause
}
