package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datapex/batchflow/pkg/config"
	"github.com/datapex/batchflow/pkg/connector/destinations/memory"
	"github.com/datapex/batchflow/pkg/errors"
)

func newMemorySink() *memory.Sink {
	return memory.New(config.SinkConfig{Type: config.SinkTypeMemory})
}

func TestBufferThresholdInvariant(t *testing.T) {
	const threshold = 10
	const n = 37

	sink := newMemorySink()
	store, err := NewStore(sink, threshold)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		require.NoError(t, store.Insert(context.Background(), structuredRecord(int64(i), 100)))
		assert.Less(t, store.BufferLen(), threshold)
	}

	// floor(N/T)*T records persisted before the explicit flush.
	assert.Equal(t, (n/threshold)*threshold, sink.Len())

	require.NoError(t, store.Flush(context.Background()))
	assert.Equal(t, n, sink.Len())
	assert.Equal(t, int64(n), store.Persisted())
}

func TestInsertTriggersSynchronousFlush(t *testing.T) {
	sink := newMemorySink()
	store, err := NewStore(sink, 3)
	require.NoError(t, err)

	require.NoError(t, store.Insert(context.Background(), structuredRecord(1, 100)))
	require.NoError(t, store.Insert(context.Background(), structuredRecord(2, 100)))
	assert.Equal(t, 0, sink.Len())

	// The insert that reaches the threshold writes before returning.
	require.NoError(t, store.Insert(context.Background(), structuredRecord(3, 100)))
	assert.Equal(t, 3, sink.Len())
	assert.Equal(t, 0, store.BufferLen())
}

func TestFlushOnEmptyBufferIsNoOp(t *testing.T) {
	sink := newMemorySink()
	store, err := NewStore(sink, 10)
	require.NoError(t, err)

	require.NoError(t, store.Flush(context.Background()))
	require.NoError(t, store.Flush(context.Background()))

	assert.Equal(t, int64(0), sink.Writes())
	assert.Equal(t, 0, sink.Len())
}

func TestLastWriteWinsThroughStore(t *testing.T) {
	sink := newMemorySink()
	store, err := NewStore(sink, 100)
	require.NoError(t, err)

	require.NoError(t, store.Insert(context.Background(), structuredRecord(1, 10)))
	require.NoError(t, store.Insert(context.Background(), structuredRecord(1, 20)))
	require.NoError(t, store.Flush(context.Background()))

	got, ok := sink.Get(1)
	require.True(t, ok)
	assert.Equal(t, 20.0, got.Value)
	assert.Equal(t, 1, sink.Len())
}

func TestSinkFailureRetainsBuffer(t *testing.T) {
	sink := newMemorySink()
	store, err := NewStore(sink, 2)
	require.NoError(t, err)

	sink.FailNext(fmt.Errorf("sink offline"))

	require.NoError(t, store.Insert(context.Background(), structuredRecord(1, 10)))
	err = store.Insert(context.Background(), structuredRecord(2, 10))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSinkWrite))

	// Nothing was written and nothing was lost.
	assert.Equal(t, 0, sink.Len())
	assert.Equal(t, 2, store.BufferLen())

	// A later flush retries the same records and succeeds.
	require.NoError(t, store.Flush(context.Background()))
	assert.Equal(t, 2, sink.Len())
	assert.Equal(t, 0, store.BufferLen())
	assert.Equal(t, int64(2), store.Persisted())
}

func TestFailedFlushIsRetriable(t *testing.T) {
	sink := newMemorySink()
	store, err := NewStore(sink, 100)
	require.NoError(t, err)

	require.NoError(t, store.Insert(context.Background(), structuredRecord(1, 10)))

	sink.FailAlways(fmt.Errorf("sink offline"))
	require.Error(t, store.Flush(context.Background()))
	require.Error(t, store.Flush(context.Background()))
	assert.Equal(t, 1, store.BufferLen())

	sink.FailAlways(nil)
	require.NoError(t, store.Flush(context.Background()))
	assert.Equal(t, 1, sink.Len())
}

func TestNewStoreRejectsBadThreshold(t *testing.T) {
	_, err := NewStore(newMemorySink(), 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
