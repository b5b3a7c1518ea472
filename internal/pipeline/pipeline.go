package pipeline

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/datapex/batchflow/pkg/config"
	"github.com/datapex/batchflow/pkg/connector/core"
	"github.com/datapex/batchflow/pkg/errors"
	"github.com/datapex/batchflow/pkg/logger"
	"github.com/datapex/batchflow/pkg/metrics"
	"github.com/datapex/batchflow/pkg/models"
)

// Stage identifies a pipeline stage for observers and logging.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageTransform Stage = "transform"
	StageValidate  Stage = "validate"
	StageBuffer    Stage = "buffer"
	StageFlush     Stage = "flush"
)

// StageObserver receives stage transition callbacks. StageStart may
// derive a new context (e.g. carrying a span); the stage's work runs
// under it and StageEnd receives it back. The pipeline never depends on
// observers being attached.
type StageObserver interface {
	StageStart(ctx context.Context, stage Stage, source string) context.Context
	StageEnd(ctx context.Context, stage Stage, source string, records int, err error)
}

// Pipeline orchestrates fetch -> transform -> validate -> buffer across
// all configured sources, with one terminal flush. See the package
// documentation for the failure containment policy.
type Pipeline struct {
	sources     []core.Source
	transformer *Transformer
	validator   *Validator
	store       *Store
	observers   []StageObserver

	parallelFetch bool
	fetchWorkers  int

	logger *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithObserver attaches a stage observer.
func WithObserver(obs StageObserver) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, obs) }
}

// WithTransformer replaces the configured transformer.
func WithTransformer(t *Transformer) Option {
	return func(p *Pipeline) { p.transformer = t }
}

// WithValidator replaces the configured validator.
func WithValidator(v *Validator) Option {
	return func(p *Pipeline) { p.validator = v }
}

// New builds a pipeline from configuration, sources, and a sink.
func New(cfg *config.PipelineConfig, sources []core.Source, sink core.Sink, opts ...Option) (*Pipeline, error) {
	if len(sources) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "at least one source is required")
	}

	transformer, err := NewTransformer(cfg.Caches.EnrichmentCapacity)
	if err != nil {
		return nil, err
	}
	validator, err := NewValidator(cfg.Caches.ValidationCapacity)
	if err != nil {
		return nil, err
	}
	store, err := NewStore(sink, cfg.Store.FlushThreshold)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		sources:       sources,
		transformer:   transformer,
		validator:     validator,
		store:         store,
		parallelFetch: cfg.Performance.ParallelSources,
		fetchWorkers:  cfg.Performance.FetchWorkers,
		logger:        logger.With(zap.String("component", "pipeline"), zap.String("pipeline", cfg.Name)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Store exposes the pipeline's store for drivers that need buffer
// introspection.
func (p *Pipeline) Store() *Store {
	return p.store
}

// ProcessBatch drains every source once with the given batch size and
// finishes with a terminal flush. Per-batch failures are collected into
// the returned aggregate error while the remaining sources continue;
// the BatchResult is valid either way.
func (p *Pipeline) ProcessBatch(ctx context.Context, batchSize int) (*models.BatchResult, error) {
	if batchSize <= 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "batch size must be positive")
	}

	result := &models.BatchResult{}
	var errs *multierror.Error
	persistedBefore := p.store.Persisted()

	p.logger.Info("starting batch",
		zap.Int("batch_size", batchSize),
		zap.Int("sources", len(p.sources)),
		zap.Bool("parallel_fetch", p.parallelFetch))

	if p.parallelFetch {
		batches, fetchErrs := p.fetchAll(ctx, batchSize)
		for i, src := range p.sources {
			if fetchErrs[i] != nil {
				errs = multierror.Append(errs, fetchErrs[i])
				continue
			}
			result.Fetched += int64(len(batches[i]))
			if err := p.processSource(ctx, src.Name(), batches[i], result); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	} else {
		for _, src := range p.sources {
			raw, err := p.fetchOne(ctx, src, batchSize)
			if err != nil {
				// Abandon this source's batch; downstream stages do not run for it.
				errs = multierror.Append(errs, err)
				continue
			}
			result.Fetched += int64(len(raw))
			if err := p.processSource(ctx, src.Name(), raw, result); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}

	// Terminal flush so no record is left unpersisted below the threshold.
	flushCtx := p.stageStart(ctx, StageFlush, "")
	err := p.store.Flush(flushCtx)
	p.stageEnd(flushCtx, StageFlush, "", 0, err)
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	result.Persisted = p.store.Persisted() - persistedBefore

	errCount := 0
	if errs != nil {
		errCount = len(errs.Errors)
	}
	p.logger.Info("batch completed",
		zap.Int64("fetched", result.Fetched),
		zap.Int64("transformed", result.Transformed),
		zap.Int64("validated", result.Validated),
		zap.Int64("persisted", result.Persisted),
		zap.Int64("dropped", result.Dropped),
		zap.Int("errors", errCount))

	return result, errs.ErrorOrNil()
}

// fetchOne runs the fetch stage for a single source.
func (p *Pipeline) fetchOne(ctx context.Context, src core.Source, batchSize int) ([]*models.RawRecord, error) {
	stageCtx := p.stageStart(ctx, StageFetch, src.Name())
	timer := metrics.NewTimer()

	raw, err := src.Fetch(stageCtx, batchSize)
	metrics.FetchLatency.WithLabelValues(src.Name()).Observe(timer.Stop().Seconds())
	p.stageEnd(stageCtx, StageFetch, src.Name(), len(raw), err)

	if err != nil {
		p.logger.Warn("source fetch failed, continuing with remaining sources",
			zap.String("source", src.Name()),
			zap.Error(err))
		return nil, err
	}

	metrics.RecordsFetched.WithLabelValues(src.Name()).Add(float64(len(raw)))
	return raw, nil
}

// fetchAll fetches every source concurrently. Only fetch is
// parallelized; the sources share no mutable state. Results are
// returned in source order so processing stays deterministic.
func (p *Pipeline) fetchAll(ctx context.Context, batchSize int) ([][]*models.RawRecord, []error) {
	batches := make([][]*models.RawRecord, len(p.sources))
	fetchErrs := make([]error, len(p.sources))

	pool, err := ants.NewPool(p.fetchWorkers)
	if err != nil {
		// Degrade to sequential fetch rather than failing the batch.
		p.logger.Warn("failed to create fetch pool, falling back to sequential", zap.Error(err))
		for i, src := range p.sources {
			batches[i], fetchErrs[i] = p.fetchOne(ctx, src, batchSize)
		}
		return batches, fetchErrs
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, src := range p.sources {
		i, src := i, src
		wg.Add(1)
		if submitErr := pool.Submit(func() {
			defer wg.Done()
			batches[i], fetchErrs[i] = p.fetchOne(ctx, src, batchSize)
		}); submitErr != nil {
			wg.Done()
			fetchErrs[i] = errors.Wrap(submitErr, errors.ErrorTypeInternal, "failed to submit fetch task").
				WithDetail("source", src.Name())
		}
	}
	wg.Wait()

	return batches, fetchErrs
}

// processSource runs transform, validate, and buffer for one source's
// fetched batch. The returned error, if any, is a sink write failure;
// per-record failures are contained here.
func (p *Pipeline) processSource(ctx context.Context, source string, raw []*models.RawRecord, result *models.BatchResult) error {
	// Transform stage: the whole batch is transformed before validation
	// begins. Records failing the transform are dropped, not retried.
	stageCtx := p.stageStart(ctx, StageTransform, source)
	structured := make([]*models.StructuredRecord, 0, len(raw))
	for _, r := range raw {
		rec, err := p.transformer.Transform(stageCtx, r)
		if err != nil {
			result.Dropped++
			metrics.RecordsDropped.WithLabelValues(source, string(StageTransform)).Inc()
			p.logger.Debug("record dropped at transform",
				zap.String("source", source),
				zap.Int64("record_id", r.ID),
				zap.Error(err))
			continue
		}
		structured = append(structured, rec)
	}
	result.Transformed += int64(len(structured))
	metrics.RecordsTransformed.WithLabelValues(source).Add(float64(len(structured)))
	p.stageEnd(stageCtx, StageTransform, source, len(structured), nil)

	// Validate stage.
	stageCtx = p.stageStart(ctx, StageValidate, source)
	accepted := structured[:0]
	for _, rec := range structured {
		if !p.validator.IsValid(stageCtx, rec) {
			result.Dropped++
			metrics.RecordsDropped.WithLabelValues(source, string(StageValidate)).Inc()
			continue
		}
		accepted = append(accepted, rec)
	}
	result.Validated += int64(len(accepted))
	p.stageEnd(stageCtx, StageValidate, source, len(accepted), nil)

	// Buffer stage: inserts are serialized through the store's lock. A
	// threshold-triggered bulk write failure retains the buffer, so we
	// keep inserting; the terminal flush retries the whole buffer.
	stageCtx = p.stageStart(ctx, StageBuffer, source)
	var sinkErr error
	for _, rec := range accepted {
		if err := p.store.Insert(stageCtx, rec); err != nil {
			sinkErr = err
		}
	}
	p.stageEnd(stageCtx, StageBuffer, source, len(accepted), sinkErr)

	return sinkErr
}

func (p *Pipeline) stageStart(ctx context.Context, stage Stage, source string) context.Context {
	for _, obs := range p.observers {
		ctx = obs.StageStart(ctx, stage, source)
	}
	return ctx
}

func (p *Pipeline) stageEnd(ctx context.Context, stage Stage, source string, records int, err error) {
	for _, obs := range p.observers {
		obs.StageEnd(ctx, stage, source, records, err)
	}
}
