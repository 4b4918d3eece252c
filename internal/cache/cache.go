// Package cache implements the shared, bounded, concurrent LRU cache used
// by the proxy to avoid refetching small responses from origin servers.
//
// Entries are reference counted: a Get returns a Handle that keeps the
// entry's bytes alive until Release is called, even if the entry is evicted
// by a concurrent Insert in the meantime. The LRU list itself holds one
// reference on behalf of cache membership; eviction drops that reference
// but never forces a live reader's Handle to go stale.
package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MaxObjectSize is the largest single entry the cache will hold.
const MaxObjectSize = 102400

// MaxCacheSize is the total byte budget across all held entries.
const MaxCacheSize = 1048576

// entry is one node of the intrusive doubly linked LRU list. It is the
// cache's single allocation per cached object: the map value, the list
// node, and the refcounted lifetime all live in this one struct.
type entry struct {
	key      string
	value    []byte
	size     int
	refCount int
	prev     *entry
	next     *entry
}

// Handle is a borrowed, read-only view of a cache entry obtained from Get.
// The underlying bytes remain valid and unmoved until the handle is
// released exactly once.
type Handle struct {
	c *Cache
	e *entry
}

// Value returns the cached bytes. Valid until Release is called.
func (h *Handle) Value() []byte { return h.e.value }

// Size returns the size in bytes of the cached entry.
func (h *Handle) Size() int { return h.e.size }

// Release returns the handle's reference. Must be called exactly once per
// Handle returned by Get.
func (h *Handle) Release() {
	h.c.release(h.e)
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries   int
	TotalSize int
	Hits      uint64
	Misses    uint64
	Stores    uint64
	Evictions uint64
}

// Cache is a bounded, concurrent, reference-counted LRU cache mapping URI
// strings to byte buffers. All mutating operations are serialized under a
// single mutex; the lock is held only across in-memory bookkeeping, never
// across I/O.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	head      *entry // most-recently-used end (nil when empty; no sentinels)
	tail      *entry // least-recently-used end
	totalSize int
	maxSize   int
	maxObject int
	stats     Stats

	metrics *prometheusMetrics
}

// prometheusMetrics groups the optional Prometheus instruments attached to
// a Cache via WithMetrics. They observe cache behavior; they never
// influence it.
type prometheusMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	stores    prometheus.Counter
	evictions prometheus.Counter
	sizeBytes prometheus.Gauge
	entries   prometheus.Gauge
}

// New constructs an empty cache with the spec's fixed byte budgets.
func New() *Cache {
	return NewSized(MaxCacheSize, MaxObjectSize)
}

// NewSized constructs an empty cache with custom byte budgets. Used by
// cmd/proxy with the configured limits, and by tests that need a
// per-object limit other than MaxObjectSize (e.g. an LRU eviction
// scenario with 200KiB objects).
func NewSized(maxSize, maxObject int) *Cache {
	return &Cache{
		entries:   make(map[string]*entry),
		maxSize:   maxSize,
		maxObject: maxObject,
	}
}

// WithMetrics attaches Prometheus instruments registered under reg to this
// cache and returns the cache for chaining. Safe to call once, before the
// cache is shared across goroutines.
func (c *Cache) WithMetrics(reg prometheus.Registerer, namespace string) *Cache {
	m := &prometheusMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total", Help: "Cache get() hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total", Help: "Cache get() misses.",
		}),
		stores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_stores_total", Help: "Cache insert() of a new key.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_evictions_total", Help: "Entries evicted to stay within the byte budget.",
		}),
		sizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cache_size_bytes", Help: "Current total size of held entries.",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cache_entries", Help: "Current number of held entries.",
		}),
	}
	reg.MustRegister(m.hits, m.misses, m.stores, m.evictions, m.sizeBytes, m.entries)
	c.mu.Lock()
	c.metrics = m
	c.mu.Unlock()
	return c
}

// unlinkFromList removes e from the intrusive list without touching the
// map or size accounting. Caller holds c.mu.
func (c *Cache) unlinkFromList(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

// pushFront makes e the most-recently-used entry. Caller holds c.mu.
func (c *Cache) pushFront(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// promote moves an already-linked entry to the front. Caller holds c.mu.
func (c *Cache) promote(e *entry) {
	if c.head == e {
		return
	}
	c.unlinkFromList(e)
	c.pushFront(e)
}

// Insert copies key and value into the cache. If key is already present,
// the existing entry is promoted to most-recently-used and its bytes are
// left untouched (duplicates are treated as already-cached, per the
// source behavior this cache preserves). If size exceeds the per-object
// limit, Insert rejects the object and leaves the cache unchanged.
func (c *Cache) Insert(key string, value []byte, size int) bool {
	if size > c.maxObject {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.promote(existing)
		return true
	}

	owned := make([]byte, size)
	copy(owned, value)

	e := &entry{key: key, value: owned, size: size, refCount: 1}
	c.entries[key] = e
	c.pushFront(e)
	c.totalSize += size
	c.stats.Stores++
	if c.metrics != nil {
		c.metrics.stores.Inc()
	}

	c.evictLocked()
	c.refreshGaugesLocked()
	return true
}

// Get looks up key, promoting it to most-recently-used on a hit and
// incrementing its reference count. The returned Handle must be released
// exactly once. Get never blocks waiting on a concurrent Insert of the
// same key; a miss is reported immediately.
func (c *Cache) Get(key string) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		if c.metrics != nil {
			c.metrics.misses.Inc()
		}
		return nil, false
	}

	c.promote(e)
	e.refCount++
	c.stats.Hits++
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
	return &Handle{c: c, e: e}, true
}

// release decrements e's reference count and destroys it once the count
// reaches zero. Destruction just means dropping Go's references to the
// backing slice; the garbage collector reclaims the memory.
func (c *Cache) release(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e.refCount--
	if e.refCount < 0 {
		// A programmer bug (double release). Clamp rather than corrupt
		// cache-wide accounting; the spec permits detecting this only by
		// assertion in debug builds, which this clamp substitutes for.
		e.refCount = 0
	}
	// refCount == 0 with the entry no longer map-resident means it was
	// already evicted and this was the last reader; nothing further to do,
	// the entry becomes unreachable once this function returns.
}

// evictLocked removes entries from the LRU tail until the cache is back
// within its byte budget. Caller holds c.mu.
func (c *Cache) evictLocked() {
	for c.totalSize > c.maxSize && c.tail != nil {
		victim := c.tail
		c.unlinkFromList(victim)
		delete(c.entries, victim.key)
		c.totalSize -= victim.size
		c.stats.Evictions++
		if c.metrics != nil {
			c.metrics.evictions.Inc()
		}

		victim.refCount--
		// If readers still hold this entry, their Handles keep the backing
		// slice reachable independent of the map or list; eviction only
		// removes cache ownership.
	}
}

func (c *Cache) refreshGaugesLocked() {
	if c.metrics == nil {
		return
	}
	c.stats.Entries = len(c.entries)
	c.stats.TotalSize = c.totalSize
	c.metrics.entries.Set(float64(c.stats.Entries))
	c.metrics.sizeBytes.Set(float64(c.stats.TotalSize))
}

// Stats returns a snapshot of current cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Entries = len(c.entries)
	c.stats.TotalSize = c.totalSize
	return c.stats
}
