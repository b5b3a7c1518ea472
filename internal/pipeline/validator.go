package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/datapex/batchflow/pkg/cache"
	"github.com/datapex/batchflow/pkg/logger"
	"github.com/datapex/batchflow/pkg/metrics"
	"github.com/datapex/batchflow/pkg/models"
)

// Rule decides whether a structured record is acceptable. Rules must be
// pure and must not mutate the record; decisions are cached per
// (id, value) and a cached decision is never re-evaluated.
type Rule func(*models.StructuredRecord) bool

// DefaultRule is the reference validation: enriched value within
// [0, 10000], event year at least 2020, and a source metadata key.
func DefaultRule(rec *models.StructuredRecord) bool {
	if rec.Value < 0 || rec.Value > 10000 {
		return false
	}
	if rec.Timestamp.Year() < 2020 {
		return false
	}
	_, hasSource := rec.Metadata["source"]
	return hasSource
}

// decisionKey is the composite cache key for validation decisions.
type decisionKey struct {
	id    int64
	value float64
}

// Validator accepts or rejects structured records with a memoized
// decision. Cache hits return the stored boolean even if the rule would
// now evaluate differently; rules are assumed idempotent.
type Validator struct {
	rule   Rule
	memo   *cache.Memoizer[decisionKey, bool]
	logger *zap.Logger
}

// ValidatorOption customizes a Validator.
type ValidatorOption func(*Validator)

// WithRule replaces the validation rule.
func WithRule(rule Rule) ValidatorOption {
	return func(v *Validator) { v.rule = rule }
}

// NewValidator creates a validator with a decision cache of the given
// capacity.
func NewValidator(cacheCapacity int, opts ...ValidatorOption) (*Validator, error) {
	memo, err := cache.NewMemoizer[decisionKey, bool](cacheCapacity)
	if err != nil {
		return nil, err
	}

	v := &Validator{
		rule:   DefaultRule,
		memo:   memo,
		logger: logger.With(zap.String("component", "validator")),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// IsValid returns the validation decision for the record, evaluating
// the rule only on a cache miss.
func (v *Validator) IsValid(ctx context.Context, rec *models.StructuredRecord) bool {
	key := decisionKey{id: rec.ID, value: rec.Value}

	before := v.memo.Stats()
	decision := v.memo.Do(key, func(decisionKey) bool {
		return v.rule(rec)
	})
	if v.memo.Stats().Hits > before.Hits {
		metrics.CacheHits.WithLabelValues("validation").Inc()
	} else {
		metrics.CacheMisses.WithLabelValues("validation").Inc()
	}

	return decision
}

// CacheStats returns the decision cache counters.
func (v *Validator) CacheStats() cache.Stats {
	return v.memo.Stats()
}
