package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datapex/batchflow/pkg/config"
	"github.com/datapex/batchflow/pkg/connector/core"
	"github.com/datapex/batchflow/pkg/connector/destinations/memory"
	"github.com/datapex/batchflow/pkg/errors"
	"github.com/datapex/batchflow/pkg/models"
	"github.com/datapex/batchflow/pkg/testutil"
)

func testConfig() *config.PipelineConfig {
	cfg := config.Default()
	cfg.Store.FlushThreshold = 100
	return cfg
}

func newPipeline(t *testing.T, cfg *config.PipelineConfig, sink core.Sink, sources ...core.Source) *Pipeline {
	t.Helper()
	p, err := New(cfg, sources, sink)
	require.NoError(t, err)
	return p
}

func TestEndToEndTwoSources(t *testing.T) {
	// Two sources of 50 disjoint ids, threshold 100: everything lands in
	// the datastore after the terminal flush.
	src1 := testutil.NewStaticSource("api_1", testutil.RawRecords(0, 50, "api_1"))
	src2 := testutil.NewStaticSource("api_2", testutil.RawRecords(50, 50, "api_2"))
	sink := memory.New(config.SinkConfig{Type: config.SinkTypeMemory})

	p := newPipeline(t, testConfig(), sink, src1, src2)
	result, err := p.ProcessBatch(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, int64(100), result.Fetched)
	assert.Equal(t, int64(100), result.Transformed)
	assert.Equal(t, int64(100), result.Validated)
	assert.Equal(t, int64(100), result.Persisted)
	assert.Equal(t, int64(0), result.Dropped)
	assert.Equal(t, 100, sink.Len())
	assert.Equal(t, 0, p.Store().BufferLen())
}

func TestEndToEndIDCollisions(t *testing.T) {
	// Both sources produce ids 0..49; the second source is drained after
	// the first, so its writes win.
	src1 := testutil.NewStaticSource("api_1", testutil.RawRecords(0, 50, "api_1"))
	src2 := testutil.NewStaticSource("api_2", testutil.RawRecords(0, 50, "api_2"))
	sink := memory.New(config.SinkConfig{Type: config.SinkTypeMemory})

	p := newPipeline(t, testConfig(), sink, src1, src2)
	result, err := p.ProcessBatch(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, int64(100), result.Persisted)
	assert.Equal(t, 50, sink.Len())

	for id := int64(0); id < 50; id++ {
		rec, ok := sink.Get(id)
		require.True(t, ok)
		assert.Equal(t, "api_2", rec.Metadata["source"], "id %d should be won by the second source", id)
	}
}

func TestMalformedTimestampDroppedSiblingsContinue(t *testing.T) {
	batch := testutil.RawRecords(0, 5, "api_1")
	batch[2].Timestamp = "not-a-timestamp"

	src := testutil.NewStaticSource("api_1", batch)
	sink := memory.New(config.SinkConfig{Type: config.SinkTypeMemory})

	p := newPipeline(t, testConfig(), sink, src)
	result, err := p.ProcessBatch(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, int64(5), result.Fetched)
	assert.Equal(t, int64(4), result.Transformed)
	assert.Equal(t, int64(1), result.Dropped)
	assert.Equal(t, int64(4), result.Persisted)

	_, ok := sink.Get(2)
	assert.False(t, ok, "malformed record must never reach the datastore")
	_, ok = sink.Get(3)
	assert.True(t, ok, "siblings after the malformed record must continue")
}

func TestValidationRejectionsAreDropped(t *testing.T) {
	batch := testutil.RawRecords(0, 4, "api_1")
	batch[1].Metadata = map[string]string{"batch": "4"} // no source key
	batch[3].Value = 500                                // enriched value exceeds 10000

	src := testutil.NewStaticSource("api_1", batch)
	sink := memory.New(config.SinkConfig{Type: config.SinkTypeMemory})

	p := newPipeline(t, testConfig(), sink, src)
	result, err := p.ProcessBatch(context.Background(), 4)
	require.NoError(t, err)

	assert.Equal(t, int64(4), result.Transformed)
	assert.Equal(t, int64(2), result.Validated)
	assert.Equal(t, int64(2), result.Dropped)
	assert.Equal(t, 2, sink.Len())
}

func TestSourceFailureIsFailSoft(t *testing.T) {
	src1 := testutil.NewStaticSource("api_1")
	src1.Fail(fmt.Errorf("connection refused"))
	src2 := testutil.NewStaticSource("api_2", testutil.RawRecords(0, 10, "api_2"))
	sink := memory.New(config.SinkConfig{Type: config.SinkTypeMemory})

	p := newPipeline(t, testConfig(), sink, src1, src2)
	result, err := p.ProcessBatch(context.Background(), 10)

	// The aggregate error carries the source failure, but the healthy
	// source was still drained and persisted.
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSourceUnavailable))
	assert.Equal(t, int64(10), result.Fetched)
	assert.Equal(t, int64(10), result.Persisted)
	assert.Equal(t, 10, sink.Len())
}

func TestSinkFailureSurfacesAndRetainsRecords(t *testing.T) {
	src := testutil.NewStaticSource("api_1", testutil.RawRecords(0, 10, "api_1"))
	sink := memory.New(config.SinkConfig{Type: config.SinkTypeMemory})
	sink.FailAlways(fmt.Errorf("sink offline"))

	p := newPipeline(t, testConfig(), sink, src)
	result, err := p.ProcessBatch(context.Background(), 10)

	require.Error(t, err)
	assert.Equal(t, int64(0), result.Persisted)
	assert.Equal(t, 10, p.Store().BufferLen(), "records must be retained for retry")

	// The sink recovers; a later flush persists the retained records.
	sink.FailAlways(nil)
	require.NoError(t, p.Store().Flush(context.Background()))
	assert.Equal(t, 10, sink.Len())
}

func TestThresholdFlushDuringBatch(t *testing.T) {
	cfg := testConfig()
	cfg.Store.FlushThreshold = 30

	src := testutil.NewStaticSource("api_1", testutil.RawRecords(0, 100, "api_1"))
	sink := memory.New(config.SinkConfig{Type: config.SinkTypeMemory})

	p := newPipeline(t, cfg, sink, src)
	result, err := p.ProcessBatch(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, int64(100), result.Persisted)
	// 3 threshold-triggered writes of 30 plus the terminal flush of 10.
	assert.Equal(t, int64(4), sink.Writes())
}

func TestParallelFetchMatchesSequential(t *testing.T) {
	cfg := testConfig()
	cfg.Performance.ParallelSources = true
	cfg.Performance.FetchWorkers = 4

	src1 := testutil.NewStaticSource("api_1", testutil.RawRecords(0, 50, "api_1"))
	src2 := testutil.NewStaticSource("api_2", testutil.RawRecords(0, 50, "api_2"))
	src3 := testutil.NewStaticSource("api_3", testutil.RawRecords(100, 50, "api_3"))
	sink := memory.New(config.SinkConfig{Type: config.SinkTypeMemory})

	p := newPipeline(t, cfg, sink, src1, src2, src3)
	result, err := p.ProcessBatch(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, int64(150), result.Fetched)
	assert.Equal(t, int64(150), result.Persisted)
	assert.Equal(t, 100, sink.Len())

	// Processing order stays source order, so api_2 wins the collisions.
	rec, ok := sink.Get(0)
	require.True(t, ok)
	assert.Equal(t, "api_2", rec.Metadata["source"])
}

func TestParallelFetchFailSoft(t *testing.T) {
	cfg := testConfig()
	cfg.Performance.ParallelSources = true
	cfg.Performance.FetchWorkers = 2

	src1 := testutil.NewStaticSource("api_1")
	src1.Fail(fmt.Errorf("connection refused"))
	src2 := testutil.NewStaticSource("api_2", testutil.RawRecords(0, 10, "api_2"))
	sink := memory.New(config.SinkConfig{Type: config.SinkTypeMemory})

	p := newPipeline(t, cfg, sink, src1, src2)
	result, err := p.ProcessBatch(context.Background(), 10)

	require.Error(t, err)
	assert.Equal(t, int64(10), result.Persisted)
}

func TestProcessBatchRejectsBadBatchSize(t *testing.T) {
	src := testutil.NewStaticSource("api_1")
	sink := memory.New(config.SinkConfig{Type: config.SinkTypeMemory})
	p := newPipeline(t, testConfig(), sink, src)

	_, err := p.ProcessBatch(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestEnrichmentCacheSharedAcrossSources(t *testing.T) {
	// Same values from two sources: the second source's enrichments are
	// all cache hits.
	batch1 := testutil.RawRecords(0, 20, "api_1")
	batch2 := testutil.RawRecords(100, 20, "api_2")

	src1 := testutil.NewStaticSource("api_1", batch1)
	src2 := testutil.NewStaticSource("api_2", batch2)
	sink := memory.New(config.SinkConfig{Type: config.SinkTypeMemory})

	calls := 0
	tr, err := NewTransformer(1000, WithEnrichFunc(func(v float64) float64 {
		calls++
		return v * 2
	}))
	require.NoError(t, err)

	p := newPipeline(t, testConfig(), sink, src1, src2)
	WithTransformer(tr)(p)

	_, err = p.ProcessBatch(context.Background(), 20)
	require.NoError(t, err)

	// RawRecords assigns values 0..19 in both batches.
	assert.Equal(t, 20, calls)
	assert.Equal(t, int64(20), tr.CacheStats().Hits)
}

type recordingObserver struct {
	starts []Stage
	ends   []Stage
}

func (o *recordingObserver) StageStart(ctx context.Context, stage Stage, source string) context.Context {
	o.starts = append(o.starts, stage)
	return ctx
}

func (o *recordingObserver) StageEnd(ctx context.Context, stage Stage, source string, records int, err error) {
	o.ends = append(o.ends, stage)
}

func TestStageObserverSeesAllTransitions(t *testing.T) {
	src := testutil.NewStaticSource("api_1", testutil.RawRecords(0, 5, "api_1"))
	sink := memory.New(config.SinkConfig{Type: config.SinkTypeMemory})

	obs := &recordingObserver{}
	cfg := testConfig()
	p, err := New(cfg, []core.Source{src}, sink, WithObserver(obs))
	require.NoError(t, err)

	_, err = p.ProcessBatch(context.Background(), 5)
	require.NoError(t, err)

	want := []Stage{StageFetch, StageTransform, StageValidate, StageBuffer, StageFlush}
	assert.Equal(t, want, obs.starts)
	assert.Equal(t, want, obs.ends)
}

type stageKeyType struct{}

type stampingObserver struct{}

func (stampingObserver) StageStart(ctx context.Context, stage Stage, source string) context.Context {
	return context.WithValue(ctx, stageKeyType{}, string(stage))
}

func (stampingObserver) StageEnd(context.Context, Stage, string, int, error) {}

type contextEchoSource struct {
	*testutil.StaticSource
	fetchStage string
}

func (s *contextEchoSource) Fetch(ctx context.Context, batchSize int) ([]*models.RawRecord, error) {
	if v, ok := ctx.Value(stageKeyType{}).(string); ok {
		s.fetchStage = v
	}
	return s.StaticSource.Fetch(ctx, batchSize)
}

type contextEchoSink struct {
	*memory.Sink
	writeStage string
}

func (s *contextEchoSink) BulkWrite(ctx context.Context, records []*models.StructuredRecord) error {
	if v, ok := ctx.Value(stageKeyType{}).(string); ok {
		s.writeStage = v
	}
	return s.Sink.BulkWrite(ctx, records)
}

func TestObserverContextReachesStageWork(t *testing.T) {
	// A context derived in StageStart must be the one the stage's work
	// runs under, so spans can parent the operations they cover.
	src := &contextEchoSource{StaticSource: testutil.NewStaticSource("api_1", testutil.RawRecords(0, 5, "api_1"))}
	sink := &contextEchoSink{Sink: memory.New(config.SinkConfig{Type: config.SinkTypeMemory})}

	p, err := New(testConfig(), []core.Source{src}, sink, WithObserver(stampingObserver{}))
	require.NoError(t, err)

	_, err = p.ProcessBatch(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, string(StageFetch), src.fetchStage)
	assert.Equal(t, string(StageFlush), sink.writeStage)
}

func TestBatchResultAdd(t *testing.T) {
	a := &models.BatchResult{Fetched: 1, Transformed: 2, Validated: 3, Persisted: 4, Dropped: 5}
	a.Add(&models.BatchResult{Fetched: 10, Transformed: 20, Validated: 30, Persisted: 40, Dropped: 50})

	assert.Equal(t, int64(11), a.Fetched)
	assert.Equal(t, int64(55), a.Dropped)
}
