// Package cache implements a byte-capped, randomly-evicting cache. It
// trades hit-rate for O(1) memory-bounded eviction: a uniformly random
// victim is evicted on overflow instead of tracking recency, which avoids
// the write amplification an LRU touch-on-read would cause here.
package cache

import (
	"math/rand"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BitcoinUnlimited/ElectrsCash/internal/metrics"
)

// entryOverhead approximates the per-entry bookkeeping cost (a map slot
// plus the stored size field) that isn't captured by the caller-supplied
// size, matching the constant-overhead accounting of the original cache.
const entryOverhead = 24

// Sized is a byte-capped mapping from K to V. Entries whose size exceeds
// the cache's capacity are silently dropped. Sized is safe for concurrent
// use.
type Sized[K comparable, V any] struct {
	mu sync.Mutex

	capacity uint64
	used     uint64
	overhead uint32
	entries  map[K]sizedEntry[V]
	keys     []K // for O(1) random-victim selection
	rng      *rand.Rand

	lookups *prometheus.CounterVec
	churn   *prometheus.CounterVec
	size    prometheus.Gauge
	count   prometheus.Gauge
}

type sizedEntry[V any] struct {
	value V
	size  uint32
	index int // position in keys
}

// New creates a Sized cache with the given byte capacity. name is the
// value of the "cache" const label on its metrics, so multiple caches (tx
// cache, script-hash cache, ...) can be distinguished in exported metrics.
func New[K comparable, V any](capacity uint64, name string, m *metrics.Metrics) *Sized[K, V] {
	return &Sized[K, V]{
		capacity: capacity,
		overhead: entryOverhead,
		entries:  make(map[K]sizedEntry[V]),
		rng:      rand.New(rand.NewSource(42)), // fixed seed: deterministic tests, same as original
		lookups: m.CounterVec(prometheus.CounterOpts{
			Name: "electrscash_cache_lookups_total",
			Help: "Cache hits and misses.",
			ConstLabels: prometheus.Labels{"cache": name},
		}, []string{"result"}),
		churn: m.CounterVec(prometheus.CounterOpts{
			Name: "electrscash_cache_churn_total",
			Help: "Cache inserts and evictions.",
			ConstLabels: prometheus.Labels{"cache": name},
		}, []string{"op"}),
		size: m.GaugeInt(prometheus.GaugeOpts{
			Name:        "electrscash_cache_bytes",
			Help:        "Bytes currently held by the cache.",
			ConstLabels: prometheus.Labels{"cache": name},
		}),
		count: m.GaugeInt(prometheus.GaugeOpts{
			Name:        "electrscash_cache_entries",
			Help:        "Entries currently held by the cache.",
			ConstLabels: prometheus.Labels{"cache": name},
		}),
	}
}

// Get returns the cached value for k, if present, without affecting
// eviction order.
func (c *Sized[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		c.lookups.WithLabelValues("miss").Inc()
		var zero V
		return zero, false
	}
	c.lookups.WithLabelValues("hit").Inc()
	return e.value, true
}

// Put inserts k->v, recording size as v's serialized byte size. While
// inserting would exceed capacity, a uniformly random entry is evicted
// first. Put is a no-op if size alone exceeds capacity.
func (c *Sized[K, V]) Put(k K, v V, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.capacity {
		return
	}
	if size+uint64(c.overhead) > ^uint64(0)>>1 {
		return
	}
	sz := uint32(size)

	if old, exists := c.entries[k]; exists {
		c.decUsed(old.size)
		old.value = v
		old.size = sz
		c.entries[k] = old
		c.incUsed(sz)
		return
	}

	for c.used+uint64(sz)+uint64(c.overhead) > c.capacity && len(c.keys) > 0 {
		c.evictRandom()
	}

	idx := len(c.keys)
	c.keys = append(c.keys, k)
	c.entries[k] = sizedEntry[V]{value: v, size: sz, index: idx}
	c.incUsed(sz)
	c.churn.WithLabelValues("inserted").Inc()
	c.count.Set(float64(len(c.entries)))
}

func (c *Sized[K, V]) incUsed(size uint32) {
	c.used += uint64(size) + uint64(c.overhead)
	c.size.Set(float64(c.used))
}

func (c *Sized[K, V]) decUsed(size uint32) {
	c.used -= uint64(size) + uint64(c.overhead)
	c.size.Set(float64(c.used))
}

// evictRandom removes a uniformly random entry; caller holds the lock.
func (c *Sized[K, V]) evictRandom() {
	n := len(c.keys)
	i := c.rng.Intn(n)
	victim := c.keys[i]
	entry := c.entries[victim]

	// swap-remove from keys, fixing up the moved entry's index.
	last := n - 1
	c.keys[i] = c.keys[last]
	if moved, ok := c.entries[c.keys[i]]; ok {
		moved.index = i
		c.entries[c.keys[i]] = moved
	}
	c.keys = c.keys[:last]

	delete(c.entries, victim)
	c.decUsed(entry.size)
	c.churn.WithLabelValues("evicted").Inc()
	c.count.Set(float64(len(c.entries)))
}

// Usage returns the current number of bytes accounted for (including
// per-entry overhead).
func (c *Sized[K, V]) Usage() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Capacity returns the cache's configured byte capacity.
func (c *Sized[K, V]) Capacity() uint64 { return c.capacity }
