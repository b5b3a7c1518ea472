// Package config provides the unified configuration system for batchflow.
// It defines a single PipelineConfig structure covering the pipeline's
// full surface: sources, sink, store batching, cache capacities,
// performance, and observability.
//
// All values are plain configuration parameters; file loading is a thin
// viper layer over the same structure, so programmatic and file-based
// setups share defaults and validation.
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.Store.FlushThreshold = 500
//	cfg.Sources = append(cfg.Sources, config.SourceConfig{Name: "api_1", Type: "simulated"})
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/datapex/batchflow/pkg/errors"
)

// Source connector types understood by the registry.
const (
	SourceTypeSimulated = "simulated"
	SourceTypeCSV       = "csv"
)

// Sink connector types understood by the registry.
const (
	SinkTypeMemory   = "memory"
	SinkTypeJSONFile = "jsonfile"
)

// PipelineConfig is the single configuration structure for a pipeline run.
type PipelineConfig struct {
	// Name identifies the pipeline instance
	Name string `yaml:"name" json:"name" mapstructure:"name"`

	// Sources lists the connectors drained by each ProcessBatch call
	Sources []SourceConfig `yaml:"sources" json:"sources" mapstructure:"sources"`

	// Sink configures the destination the store writes to
	Sink SinkConfig `yaml:"sink" json:"sink" mapstructure:"sink"`

	// Store controls write buffering
	Store StoreConfig `yaml:"store" json:"store" mapstructure:"store"`

	// Caches controls memoization capacities
	Caches CacheConfig `yaml:"caches" json:"caches" mapstructure:"caches"`

	// Performance controls batch sizing and fetch parallelism
	Performance PerformanceConfig `yaml:"performance" json:"performance" mapstructure:"performance"`

	// Observability controls logging, metrics, and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability" mapstructure:"observability"`
}

// SourceConfig configures one source connector.
type SourceConfig struct {
	// Name identifies the source; it is stamped into record metadata
	Name string `yaml:"name" json:"name" mapstructure:"name"`

	// Type selects the connector implementation (simulated, csv)
	Type string `yaml:"type" json:"type" mapstructure:"type"`

	// Latency is the simulated per-fetch acquisition delay
	Latency time.Duration `yaml:"latency" json:"latency" mapstructure:"latency"`

	// Path is the input file for file-backed sources
	Path string `yaml:"path" json:"path" mapstructure:"path"`

	// Seed makes simulated record values reproducible (0 = random)
	Seed int64 `yaml:"seed" json:"seed" mapstructure:"seed"`
}

// SinkConfig configures the destination connector.
type SinkConfig struct {
	// Type selects the sink implementation (memory, jsonfile)
	Type string `yaml:"type" json:"type" mapstructure:"type"`

	// Path is the output file for file-backed sinks
	Path string `yaml:"path" json:"path" mapstructure:"path"`

	// Compress enables gzip output for file-backed sinks
	Compress bool `yaml:"compress" json:"compress" mapstructure:"compress"`

	// WriteLatency is the simulated per-bulk-write delay
	WriteLatency time.Duration `yaml:"write_latency" json:"write_latency" mapstructure:"write_latency"`
}

// StoreConfig controls the write-buffering store.
type StoreConfig struct {
	// FlushThreshold is the buffer length that triggers a bulk write
	FlushThreshold int `yaml:"flush_threshold" json:"flush_threshold" mapstructure:"flush_threshold"`
}

// CacheConfig controls the memoization caches.
type CacheConfig struct {
	// EnrichmentCapacity bounds the enrichment memo cache
	EnrichmentCapacity int `yaml:"enrichment_capacity" json:"enrichment_capacity" mapstructure:"enrichment_capacity"`

	// ValidationCapacity bounds the validation decision cache
	ValidationCapacity int `yaml:"validation_capacity" json:"validation_capacity" mapstructure:"validation_capacity"`
}

// PerformanceConfig controls batch sizing and fetch parallelism.
type PerformanceConfig struct {
	// BatchSize is the default number of records requested per fetch
	BatchSize int `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size"`

	// ParallelSources enables concurrent fetch across sources; the
	// transform, validate, and insert stages stay sequential per source
	ParallelSources bool `yaml:"parallel_sources" json:"parallel_sources" mapstructure:"parallel_sources"`

	// FetchWorkers caps the fetch worker pool when ParallelSources is set
	FetchWorkers int `yaml:"fetch_workers" json:"fetch_workers" mapstructure:"fetch_workers"`
}

// ObservabilityConfig controls logging, metrics, and tracing.
type ObservabilityConfig struct {
	// LogLevel sets the zap log level (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`

	// EnableMetrics registers prometheus collectors
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics" mapstructure:"enable_metrics"`

	// EnableTracing attaches the OpenTelemetry stage tracer
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing" mapstructure:"enable_tracing"`
}

// Default returns a configuration with production defaults. The flush
// threshold and cache capacities mirror the reference pipeline; fetch
// workers default to the CPU count.
func Default() *PipelineConfig {
	return &PipelineConfig{
		Name: "batchflow",
		Sink: SinkConfig{
			Type: SinkTypeMemory,
		},
		Store: StoreConfig{
			FlushThreshold: 100,
		},
		Caches: CacheConfig{
			EnrichmentCapacity: 1000,
			ValidationCapacity: 4096,
		},
		Performance: PerformanceConfig{
			BatchSize:    50,
			FetchWorkers: runtime.NumCPU(),
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			EnableMetrics: true,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *PipelineConfig) Validate() error {
	if len(c.Sources) == 0 {
		return errors.New(errors.ErrorTypeConfig, "at least one source is required")
	}
	for i, src := range c.Sources {
		if src.Name == "" {
			return errors.New(errors.ErrorTypeConfig, "source name is required").
				WithDetail("index", i)
		}
		switch src.Type {
		case SourceTypeSimulated:
		case SourceTypeCSV:
			if src.Path == "" {
				return errors.New(errors.ErrorTypeConfig, "csv source requires a path").
					WithDetail("source", src.Name)
			}
		default:
			return errors.New(errors.ErrorTypeConfig, "unknown source type").
				WithDetail("source", src.Name).
				WithDetail("type", src.Type)
		}
		if src.Latency < 0 {
			return errors.New(errors.ErrorTypeConfig, "source latency cannot be negative").
				WithDetail("source", src.Name)
		}
	}

	switch c.Sink.Type {
	case SinkTypeMemory:
	case SinkTypeJSONFile:
		if c.Sink.Path == "" {
			return errors.New(errors.ErrorTypeConfig, "jsonfile sink requires a path")
		}
	default:
		return errors.New(errors.ErrorTypeConfig, "unknown sink type").
			WithDetail("type", c.Sink.Type)
	}

	if c.Store.FlushThreshold <= 0 {
		return errors.New(errors.ErrorTypeConfig, "flush threshold must be positive")
	}
	if c.Caches.EnrichmentCapacity <= 0 || c.Caches.ValidationCapacity <= 0 {
		return errors.New(errors.ErrorTypeConfig, "cache capacities must be positive")
	}
	if c.Performance.BatchSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "batch size must be positive")
	}
	if c.Performance.ParallelSources && c.Performance.FetchWorkers <= 0 {
		return errors.New(errors.ErrorTypeConfig, "fetch workers must be positive when parallel sources are enabled")
	}

	return nil
}

// Load reads a configuration file (yaml or json, by extension) and
// merges it over the defaults.
func Load(path string) (*PipelineConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
