package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datapex/batchflow/pkg/errors"
	"github.com/datapex/batchflow/pkg/models"
)

func rawRecord(id int64, ts string, value float64) *models.RawRecord {
	return &models.RawRecord{
		ID:        id,
		Timestamp: ts,
		Value:     value,
		Metadata:  map[string]string{"source": "api_1"},
	}
}

func TestTransform(t *testing.T) {
	tr, err := NewTransformer(100)
	require.NoError(t, err)

	rec, err := tr.Transform(context.Background(), rawRecord(7, "2024-03-01T10:00:00Z", 3.0))
	require.NoError(t, err)

	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), rec.Timestamp)
	assert.Equal(t, "api_1", rec.Metadata["source"])
	assert.InDelta(t, 9.0*harmonic100, rec.Value, 1e-9)
}

func TestTransformParsesFractionalSeconds(t *testing.T) {
	tr, err := NewTransformer(100)
	require.NoError(t, err)

	rec, err := tr.Transform(context.Background(), rawRecord(1, "2024-03-01T10:00:00.123456Z", 1.0))
	require.NoError(t, err)
	assert.Equal(t, 123456000, rec.Timestamp.Nanosecond())
}

func TestTransformMalformedTimestampFailsClosed(t *testing.T) {
	tr, err := NewTransformer(100)
	require.NoError(t, err)

	for _, ts := range []string{"", "yesterday", "2024-03-01", "01/03/2024 10:00"} {
		_, err := tr.Transform(context.Background(), rawRecord(1, ts, 1.0))
		require.Error(t, err, "timestamp %q should fail", ts)
		assert.True(t, errors.IsType(err, errors.ErrorTypeMalformedTimestamp))
	}
}

func TestEnrichmentMemoized(t *testing.T) {
	calls := 0
	tr, err := NewTransformer(100, WithEnrichFunc(func(v float64) float64 {
		calls++
		return v * 2
	}))
	require.NoError(t, err)

	first, err := tr.Transform(context.Background(), rawRecord(1, "2024-03-01T10:00:00Z", 5.0))
	require.NoError(t, err)
	second, err := tr.Transform(context.Background(), rawRecord(2, "2024-03-01T11:00:00Z", 5.0))
	require.NoError(t, err)

	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), tr.CacheStats().Computes)
	assert.Equal(t, int64(1), tr.CacheStats().Hits)
}

func TestEnrichmentExactKey(t *testing.T) {
	calls := 0
	tr, err := NewTransformer(100, WithEnrichFunc(func(v float64) float64 {
		calls++
		return v
	}))
	require.NoError(t, err)

	_, err = tr.Transform(context.Background(), rawRecord(1, "2024-03-01T10:00:00Z", 5.000000000000001))
	require.NoError(t, err)
	_, err = tr.Transform(context.Background(), rawRecord(2, "2024-03-01T10:00:00Z", 5.000000000000002))
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestDefaultEnrich(t *testing.T) {
	// 0 and 1 pin the formula: v² times the 100th harmonic number.
	assert.Equal(t, 0.0, DefaultEnrich(0))
	assert.InDelta(t, harmonic100, DefaultEnrich(1), 1e-12)
	assert.InDelta(t, 4*harmonic100, DefaultEnrich(2), 1e-12)

	// H(100) ≈ 5.187...
	assert.InDelta(t, 5.1873775, harmonic100, 1e-6)
}
