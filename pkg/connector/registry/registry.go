// Package registry maintains the catalog of available connectors.
// Connector packages register factories from init(), and the CLI builds
// sources and sinks by the type names used in configuration.
package registry

import (
	"sort"
	"sync"

	"github.com/datapex/batchflow/pkg/config"
	"github.com/datapex/batchflow/pkg/connector/core"
	"github.com/datapex/batchflow/pkg/errors"
)

// SourceFactory creates a source connector from its configuration.
type SourceFactory func(cfg config.SourceConfig) (core.Source, error)

// SinkFactory creates a sink connector from its configuration.
type SinkFactory func(cfg config.SinkConfig) (core.Sink, error)

var (
	mu      sync.RWMutex
	sources = map[string]SourceFactory{}
	sinks   = map[string]SinkFactory{}
)

// RegisterSource registers a source factory under a type name.
// Registering the same name twice panics; it is a programming error.
func RegisterSource(name string, factory SourceFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := sources[name]; exists {
		panic("registry: duplicate source type " + name)
	}
	sources[name] = factory
}

// RegisterSink registers a sink factory under a type name.
func RegisterSink(name string, factory SinkFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := sinks[name]; exists {
		panic("registry: duplicate sink type " + name)
	}
	sinks[name] = factory
}

// CreateSource builds a source connector for the given configuration.
func CreateSource(cfg config.SourceConfig) (core.Source, error) {
	mu.RLock()
	factory, ok := sources[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.ErrorTypeConfig, "unknown source type").
			WithDetail("type", cfg.Type)
	}
	return factory(cfg)
}

// CreateSink builds a sink connector for the given configuration.
func CreateSink(cfg config.SinkConfig) (core.Sink, error) {
	mu.RLock()
	factory, ok := sinks[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.ErrorTypeConfig, "unknown sink type").
			WithDetail("type", cfg.Type)
	}
	return factory(cfg)
}

// ListSources returns the registered source type names, sorted.
func ListSources() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListSinks returns the registered sink type names, sorted.
func ListSinks() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(sinks))
	for name := range sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
