// Package cache provides bounded memoization for expensive pure
// functions. Entries are evicted least-recently-used once capacity is
// exceeded, and concurrent callers for the same key share a single
// computation instead of racing to duplicate it.
package cache

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/datapex/batchflow/pkg/errors"
)

// Stats exposes cache effectiveness counters. Computes counts actual
// invocations of the memoized function; tests use it to prove that a
// repeated key performs no recomputation.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Computes  int64 `json:"computes"`
	Evictions int64 `json:"evictions"`
}

// entry holds one memoized value. The sync.Once makes get-or-compute
// atomic: the first caller computes, everyone else waits on the result.
// done flips only after val is written, so lock-free readers such as
// Peek never observe a half-initialized entry.
type entry[V any] struct {
	once sync.Once
	done atomic.Bool
	val  V
}

// Memoizer caches the results of a pure function keyed by exact match.
// Keys compare with Go equality, so float64 keys that differ in any bit
// never share a result. Safe for concurrent use.
type Memoizer[K comparable, V any] struct {
	cache     *lru.Cache[K, *entry[V]]
	hits      atomic.Int64
	misses    atomic.Int64
	computes  atomic.Int64
	evictions atomic.Int64
}

// NewMemoizer creates a memoizer holding at most capacity entries.
func NewMemoizer[K comparable, V any](capacity int) (*Memoizer[K, V], error) {
	if capacity <= 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "cache capacity must be positive")
	}

	m := &Memoizer[K, V]{}
	c, err := lru.NewWithEvict[K, *entry[V]](capacity, func(K, *entry[V]) {
		m.evictions.Add(1)
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create lru cache")
	}
	m.cache = c
	return m, nil
}

// Do returns the memoized result for key, computing it at most once.
// A cached entry is returned as-is even if compute would now produce a
// different value; staleness is the caller's contract to manage.
func (m *Memoizer[K, V]) Do(key K, compute func(K) V) V {
	if e, ok := m.cache.Get(key); ok {
		m.hits.Add(1)
		e.once.Do(func() {
			m.computes.Add(1)
			e.val = compute(key)
			e.done.Store(true)
		})
		return e.val
	}

	e := &entry[V]{}
	if prev, ok, _ := m.cache.PeekOrAdd(key, e); ok {
		// Another caller inserted between Get and PeekOrAdd; share its entry.
		e = prev
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}

	e.once.Do(func() {
		m.computes.Add(1)
		e.val = compute(key)
		e.done.Store(true)
	})
	return e.val
}

// Peek reports whether key is cached, without updating recency or
// triggering computation. An entry whose computation is still in flight
// is not observable.
func (m *Memoizer[K, V]) Peek(key K) (V, bool) {
	e, ok := m.cache.Peek(key)
	if !ok || !e.done.Load() {
		var zero V
		return zero, false
	}
	return e.val, true
}

// Len returns the number of cached entries.
func (m *Memoizer[K, V]) Len() int {
	return m.cache.Len()
}

// Purge drops all cached entries.
func (m *Memoizer[K, V]) Purge() {
	m.cache.Purge()
}

// Stats returns a snapshot of the cache counters.
func (m *Memoizer[K, V]) Stats() Stats {
	return Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Computes:  m.computes.Load(),
		Evictions: m.evictions.Load(),
	}
}
