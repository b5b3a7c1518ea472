package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/datapex/batchflow/pkg/cache"
	"github.com/datapex/batchflow/pkg/errors"
	"github.com/datapex/batchflow/pkg/logger"
	"github.com/datapex/batchflow/pkg/metrics"
	"github.com/datapex/batchflow/pkg/models"
)

// harmonic100 is the constant factor of the reference enrichment,
// sum of 1/(i+1) for i in [0, 100).
var harmonic100 = func() float64 {
	sum := 0.0
	for i := 0; i < 100; i++ {
		sum += 1 / float64(i+1)
	}
	return sum
}()

// EnrichFunc derives the enriched value from a raw one. It must be pure
// and deterministic: results are memoized by the exact input value.
type EnrichFunc func(float64) float64

// DefaultEnrich is the reference enrichment: v² scaled by the 100th
// harmonic number.
func DefaultEnrich(v float64) float64 {
	return v * v * harmonic100
}

// Transformer converts raw records into structured records, memoizing
// the enrichment computation across its lifetime. The memo key is the
// exact raw value; no epsilon matching.
type Transformer struct {
	enrich EnrichFunc
	memo   *cache.Memoizer[float64, float64]
	logger *zap.Logger
}

// TransformerOption customizes a Transformer.
type TransformerOption func(*Transformer)

// WithEnrichFunc replaces the enrichment function.
func WithEnrichFunc(fn EnrichFunc) TransformerOption {
	return func(t *Transformer) { t.enrich = fn }
}

// NewTransformer creates a transformer with an enrichment cache of the
// given capacity.
func NewTransformer(cacheCapacity int, opts ...TransformerOption) (*Transformer, error) {
	memo, err := cache.NewMemoizer[float64, float64](cacheCapacity)
	if err != nil {
		return nil, err
	}

	t := &Transformer{
		enrich: DefaultEnrich,
		memo:   memo,
		logger: logger.With(zap.String("component", "transformer")),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Transform derives a structured record from a raw one. Timestamp
// parsing fails closed: a record whose timestamp is not RFC3339 is
// rejected with a malformed_timestamp error and never reaches
// validation.
func (t *Transformer) Transform(ctx context.Context, raw *models.RawRecord) (*models.StructuredRecord, error) {
	ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMalformedTimestamp, "cannot parse record timestamp").
			WithDetail("record_id", raw.ID).
			WithDetail("timestamp", raw.Timestamp)
	}

	before := t.memo.Stats()
	enriched := t.memo.Do(raw.Value, t.enrich)
	if t.memo.Stats().Hits > before.Hits {
		metrics.CacheHits.WithLabelValues("enrichment").Inc()
	} else {
		metrics.CacheMisses.WithLabelValues("enrichment").Inc()
	}

	return &models.StructuredRecord{
		ID:        raw.ID,
		Timestamp: ts,
		Value:     enriched,
		Metadata:  raw.Metadata,
	}, nil
}

// CacheStats returns the enrichment cache counters.
func (t *Transformer) CacheStats() cache.Stats {
	return t.memo.Stats()
}
