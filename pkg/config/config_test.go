package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/datapex/batchflow/pkg/errors"
)

func validConfig() *PipelineConfig {
	cfg := Default()
	cfg.Sources = []SourceConfig{
		{Name: "api_1", Type: SourceTypeSimulated, Latency: 100 * time.Millisecond},
	}
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 100, cfg.Store.FlushThreshold)
	assert.Equal(t, 1000, cfg.Caches.EnrichmentCapacity)
	assert.Equal(t, 4096, cfg.Caches.ValidationCapacity)
	assert.Equal(t, 50, cfg.Performance.BatchSize)
	assert.Equal(t, SinkTypeMemory, cfg.Sink.Type)
	assert.False(t, cfg.Performance.ParallelSources)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsNoSources(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PipelineConfig)
	}{
		{"unnamed source", func(c *PipelineConfig) { c.Sources[0].Name = "" }},
		{"unknown source type", func(c *PipelineConfig) { c.Sources[0].Type = "kafka" }},
		{"negative latency", func(c *PipelineConfig) { c.Sources[0].Latency = -time.Second }},
		{"csv without path", func(c *PipelineConfig) {
			c.Sources[0].Type = SourceTypeCSV
			c.Sources[0].Path = ""
		}},
		{"unknown sink type", func(c *PipelineConfig) { c.Sink.Type = "s3" }},
		{"jsonfile sink without path", func(c *PipelineConfig) { c.Sink.Type = SinkTypeJSONFile }},
		{"zero flush threshold", func(c *PipelineConfig) { c.Store.FlushThreshold = 0 }},
		{"zero enrichment capacity", func(c *PipelineConfig) { c.Caches.EnrichmentCapacity = 0 }},
		{"zero batch size", func(c *PipelineConfig) { c.Performance.BatchSize = 0 }},
		{"parallel without workers", func(c *PipelineConfig) {
			c.Performance.ParallelSources = true
			c.Performance.FetchWorkers = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestLoadYAML(t *testing.T) {
	content := `
name: nightly-etl
sources:
  - name: api_1
    type: simulated
    latency: 100ms
  - name: api_2
    type: simulated
    latency: 150ms
store:
  flush_threshold: 200
performance:
  batch_size: 75
  parallel_sources: true
  fetch_workers: 2
`
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nightly-etl", cfg.Name)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, 150*time.Millisecond, cfg.Sources[1].Latency)
	assert.Equal(t, 200, cfg.Store.FlushThreshold)
	assert.Equal(t, 75, cfg.Performance.BatchSize)
	assert.True(t, cfg.Performance.ParallelSources)

	// untouched sections keep their defaults
	assert.Equal(t, 1000, cfg.Caches.EnrichmentCapacity)
	assert.Equal(t, SinkTypeMemory, cfg.Sink.Type)
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg := validConfig()
	cfg.Name = "roundtrip"
	cfg.Store.FlushThreshold = 250
	cfg.Performance.ParallelSources = true
	cfg.Performance.FetchWorkers = 3

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, cfg.Name, loaded.Name)
	assert.Equal(t, cfg.Sources, loaded.Sources)
	assert.Equal(t, cfg.Store.FlushThreshold, loaded.Store.FlushThreshold)
	assert.Equal(t, cfg.Performance, loaded.Performance)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestLoadInvalidConfig(t *testing.T) {
	content := `
sources:
  - name: api_1
    type: simulated
store:
  flush_threshold: -1
`
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
