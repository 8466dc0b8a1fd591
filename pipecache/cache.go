// Package pipecache memoizes compiled pipeline state per material
// signature so expensive pipeline compilation never runs twice for the
// same configuration.
//
// The cache is safe for concurrent use from worker threads. Entries are
// bounded by capacity with least-recently-used eviction, an optional
// time-to-live for idle entries, and explicit invalidation. Compiled-state
// handles are owned exclusively by the cache until eviction or
// invalidation, at which point ownership transfers to the factory's
// release callback.
package pipecache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/frameloop"
	"github.com/gogpu/frameloop/internal/lru"
)

// Handle is an opaque compiled pipeline-state object supplied by a
// Factory. The cache never inspects it.
type Handle = any

// Factory creates and releases compiled pipeline state. It is the
// collaborator boundary to the graphics-API binding; the cache never
// constructs graphics-API objects itself.
//
// Implementations must be safe for concurrent use. CreatePipelineState is
// invoked without cache locks held and may be slow (shader compilation).
type Factory interface {
	// CreatePipelineState compiles the pipeline configuration identified
	// by key.
	CreatePipelineState(key *Key) (Handle, error)

	// ReleasePipelineState disposes a handle. Called exactly once per
	// created handle, on eviction, invalidation, or cache close.
	ReleasePipelineState(handle Handle)

	// EstimateSize returns the approximate memory footprint of a handle
	// in bytes, used for the cache's footprint statistic.
	EstimateSize(handle Handle) uint64
}

// Cache errors.
var (
	// ErrNilFactory is returned by New when no factory is supplied.
	ErrNilFactory = errors.New("pipecache: factory is nil")

	// ErrNilKey is returned when a nil key is passed to a lookup.
	ErrNilKey = errors.New("pipecache: key is nil")

	// ErrInvalidCapacity is returned by New for a non-positive capacity.
	ErrInvalidCapacity = errors.New("pipecache: capacity must be positive")

	// ErrInvalidTTL is returned by New for a negative time-to-live.
	ErrInvalidTTL = errors.New("pipecache: ttl must not be negative")

	// ErrClosed is returned by operations on a closed cache. This is a
	// programming error, distinct from overload conditions.
	ErrClosed = errors.New("pipecache: cache is closed")
)

// errInvalidated makes creators and waiters retry when the key was
// invalidated while its pipeline was still compiling.
var errInvalidated = errors.New("pipecache: entry invalidated during creation")

// Config configures a Cache.
type Config struct {
	// Capacity is the maximum number of entries. Must be positive.
	Capacity int

	// TTL makes entries idle longer than this eligible for removal by
	// ForceCleanup. Zero disables time-based expiry.
	TTL time.Duration

	// Clock is the time source. Nil selects frameloop.SystemClock.
	Clock frameloop.Clock

	// Metrics receives eviction and expiry counts. Nil selects
	// frameloop.NopSink.
	Metrics frameloop.MetricsSink
}

// entry is one cached pipeline. An entry starts as a placeholder (ready
// open) while its handle compiles; placeholders live in the bucket map,
// so concurrent requests for the same key find them and wait, but not in
// the LRU order, so they can never be evicted mid-creation.
type entry struct {
	key  *Key
	hash uint64

	// ready is closed once handle (or err) is populated.
	ready chan struct{}
	err   error

	// Guarded by Cache.mu after ready is closed.
	handle      Handle
	size        uint64
	created     time.Time
	lastAccess  time.Time
	accessCount uint64
	node        *lru.Node[*entry]
}

// Cache is the thread-safe pipeline-state cache.
//
// The backing store is an arena of entries indexed by key hash (buckets
// resolve the rare collisions by full key equality) with an intrusive LRU
// list for O(1) touch and evict. Mutation happens under a single writer
// lock; the existence check on the hit path takes only the read lock.
type Cache struct {
	factory Factory
	clock   frameloop.Clock
	sink    frameloop.MetricsSink

	capacity int
	ttl      time.Duration

	mu      sync.RWMutex
	buckets map[uint64][]*entry
	order   *lru.List[*entry]
	bytes   uint64
	closed  bool

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64
}

// New creates a pipeline-state cache backed by the given factory.
//
// Configuration is validated, never clamped: a nil factory, non-positive
// capacity, or negative TTL fails immediately.
func New(factory Factory, cfg Config) (*Cache, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, cfg.Capacity)
	}
	if cfg.TTL < 0 {
		return nil, ErrInvalidTTL
	}

	clock := cfg.Clock
	if clock == nil {
		clock = frameloop.SystemClock()
	}
	sink := cfg.Metrics
	if sink == nil {
		sink = frameloop.NopSink{}
	}

	return &Cache{
		factory:  factory,
		clock:    clock,
		sink:     sink,
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		buckets:  make(map[uint64][]*entry),
		order:    lru.New[*entry](),
	}, nil
}

// GetOrCreate returns the compiled pipeline for key, invoking the factory
// at most once per missing key even under concurrent requests: the second
// caller waits for and receives the first caller's result.
//
// A factory failure is returned to the callers waiting on that key and
// does not poison the cache for other keys; the next request for the same
// key retries creation.
func (c *Cache) GetOrCreate(key *Key) (Handle, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	hash := key.Hash()

	for {
		// Fast path: read lock to find an existing entry.
		c.mu.RLock()
		if c.closed {
			c.mu.RUnlock()
			return nil, ErrClosed
		}
		e := c.lookupLocked(hash, key)
		c.mu.RUnlock()

		if e == nil {
			var created bool
			var handle Handle
			var err error
			e, handle, created, err = c.create(hash, key)
			if err != nil {
				if errors.Is(err, errInvalidated) {
					continue
				}
				return nil, err
			}
			if created {
				return handle, nil
			}
			// Lost the insert race; e is the winner's entry.
		}

		<-e.ready
		if e.err != nil {
			if errors.Is(e.err, errInvalidated) {
				continue
			}
			return nil, e.err
		}

		// Hit: refresh recency under the writer lock. The handle is read
		// under the same lock that eviction runs under, so a returned
		// entry can never be mid-evict.
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		if c.containsLocked(e) {
			e.lastAccess = c.clock.Now()
			e.accessCount++
			c.order.MoveToFront(e.node)
			handle := e.handle
			c.mu.Unlock()
			c.hits.Add(1)
			return handle, nil
		}
		c.mu.Unlock()
		// Evicted or invalidated between wait and touch; start over.
	}
}

// create inserts a placeholder for (hash, key) and compiles its pipeline
// outside the lock. It returns created=false when another goroutine won
// the insert race, in which case the caller waits on the returned entry.
func (c *Cache) create(hash uint64, key *Key) (e *entry, handle Handle, created bool, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, false, ErrClosed
	}
	if existing := c.lookupLocked(hash, key); existing != nil {
		c.mu.Unlock()
		return existing, nil, false, nil
	}

	e = &entry{
		key:     key.Clone(),
		hash:    hash,
		ready:   make(chan struct{}),
		created: c.clock.Now(),
	}
	c.buckets[hash] = append(c.buckets[hash], e)
	c.misses.Add(1)
	c.mu.Unlock()

	// Compile without holding the lock: the factory may take milliseconds
	// and other keys must stay serviceable.
	handle, err = c.factory.CreatePipelineState(e.key)

	c.mu.Lock()
	orphaned := !c.containsLocked(e)
	if err != nil {
		if !orphaned {
			c.removeLocked(e)
		}
		e.err = fmt.Errorf("pipecache: create pipeline state: %w", err)
		c.mu.Unlock()
		close(e.ready)
		return nil, nil, false, e.err
	}
	if orphaned {
		// Invalidated while compiling. The handle was never published, so
		// ownership passes straight to the release callback; creator and
		// waiters retry against the current cache state.
		e.err = errInvalidated
		c.mu.Unlock()
		close(e.ready)
		c.factory.ReleasePipelineState(handle)
		return nil, nil, false, errInvalidated
	}

	e.handle = handle
	e.size = c.factory.EstimateSize(handle)
	e.lastAccess = e.created
	e.accessCount = 1
	e.node = c.order.PushFront(e)
	c.bytes += e.size
	evicted := c.evictLocked()
	c.mu.Unlock()

	close(e.ready)
	c.releaseAll(evicted)
	return e, handle, true, nil
}

// Invalidate removes the entry for key, if present, and releases its
// handle. Once Invalidate returns, no subsequent GetOrCreate for that key
// can return the old handle.
func (c *Cache) Invalidate(key *Key) bool {
	if key == nil {
		return false
	}
	hash := key.Hash()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	e := c.lookupLocked(hash, key)
	if e == nil {
		c.mu.Unlock()
		return false
	}
	c.removeLocked(e)
	ready := isReady(e)
	var handle Handle
	if ready {
		handle = e.handle
	}
	c.mu.Unlock()

	// A pending entry has no handle yet; its creator observes the orphan
	// and releases the freshly compiled handle itself.
	if ready {
		c.factory.ReleasePipelineState(handle)
	}
	return true
}

// InvalidateAll removes every entry and releases every published handle.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	handles := c.drainLocked()
	c.mu.Unlock()
	c.releaseAll(handles)
}

// ForceCleanup removes entries idle longer than the configured TTL and
// returns the number removed. A zero TTL makes this a no-op.
func (c *Cache) ForceCleanup() int {
	if c.ttl <= 0 {
		return 0
	}
	cutoff := c.clock.Now().Add(-c.ttl)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	var expired []Handle
	for _, bucket := range c.buckets {
		for _, e := range bucket {
			if isReady(e) && e.err == nil && e.lastAccess.Before(cutoff) {
				expired = append(expired, e.handle)
				c.removeLocked(e)
			}
		}
	}
	c.expirations.Add(uint64(len(expired)))
	c.mu.Unlock()

	if len(expired) > 0 {
		c.sink.RecordMetric("cache", "expired", float64(len(expired)), "entries")
	}
	c.releaseAll(expired)
	return len(expired)
}

// Close releases all handles and marks the cache unusable. Subsequent
// operations return ErrClosed. Closing twice returns ErrClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	handles := c.drainLocked()
	c.closed = true
	c.mu.Unlock()
	c.releaseAll(handles)
	return nil
}

// Len returns the number of entries, including ones still compiling.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, bucket := range c.buckets {
		n += len(bucket)
	}
	return n
}

// Capacity returns the configured entry capacity.
func (c *Cache) Capacity() int { return c.capacity }

// Stats is a snapshot of cache statistics.
type Stats struct {
	// Entries is the current entry count.
	Entries int

	// Bytes is the approximate memory footprint, summed from the
	// factory's per-entry size estimates.
	Bytes uint64

	// Hits and Misses count lookups since the last reset.
	Hits   uint64
	Misses uint64

	// HitRate is Hits / (Hits + Misses), 0 when no lookups were made.
	HitRate float64

	// Evictions counts LRU evictions; Expirations counts TTL removals.
	Evictions   uint64
	Expirations uint64
}

// Stats returns current cache statistics.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	c.mu.RLock()
	bytes := c.bytes
	c.mu.RUnlock()

	return Stats{
		Entries:     c.Len(),
		Bytes:       bytes,
		Hits:        hits,
		Misses:      misses,
		HitRate:     hitRate,
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
	}
}

// ResetStats zeroes the hit, miss, eviction, and expiry counters.
func (c *Cache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
	c.expirations.Store(0)
}

// lookupLocked finds the entry equal to key in its hash bucket.
func (c *Cache) lookupLocked(hash uint64, key *Key) *entry {
	for _, e := range c.buckets[hash] {
		if e.key.Equal(key) {
			return e
		}
	}
	return nil
}

// containsLocked reports whether e is still published in its bucket.
func (c *Cache) containsLocked(e *entry) bool {
	for _, candidate := range c.buckets[e.hash] {
		if candidate == e {
			return true
		}
	}
	return false
}

// removeLocked unpublishes e from its bucket and the LRU order.
func (c *Cache) removeLocked(e *entry) {
	bucket := c.buckets[e.hash]
	for i, candidate := range bucket {
		if candidate == e {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			if len(bucket) == 0 {
				delete(c.buckets, e.hash)
			} else {
				c.buckets[e.hash] = bucket
			}
			break
		}
	}
	if e.node != nil {
		c.order.Remove(e.node)
		e.node = nil
		c.bytes -= e.size
	}
}

// evictLocked trims the LRU order to capacity and returns the handles
// whose ownership transfers to the release callback. Placeholders are not
// in the order, so in-progress creations are never victims.
func (c *Cache) evictLocked() []Handle {
	var victims []Handle
	for c.order.Len() > c.capacity {
		e, ok := c.order.RemoveBack()
		if !ok {
			break
		}
		e.node = nil
		c.bytes -= e.size
		c.removeFromBucketLocked(e)
		victims = append(victims, e.handle)
		c.evictions.Add(1)
	}
	return victims
}

// removeFromBucketLocked removes e from its bucket only (the caller has
// already detached it from the LRU order).
func (c *Cache) removeFromBucketLocked(e *entry) {
	bucket := c.buckets[e.hash]
	for i, candidate := range bucket {
		if candidate == e {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			if len(bucket) == 0 {
				delete(c.buckets, e.hash)
			} else {
				c.buckets[e.hash] = bucket
			}
			return
		}
	}
}

// drainLocked unpublishes everything and returns the published handles.
func (c *Cache) drainLocked() []Handle {
	var handles []Handle
	for _, bucket := range c.buckets {
		for _, e := range bucket {
			if isReady(e) && e.err == nil {
				handles = append(handles, e.handle)
			}
		}
	}
	c.buckets = make(map[uint64][]*entry)
	c.order.Clear()
	c.bytes = 0
	return handles
}

func (c *Cache) releaseAll(handles []Handle) {
	for _, h := range handles {
		c.factory.ReleasePipelineState(h)
	}
	if n := len(handles); n > 0 {
		c.sink.RecordMetric("cache", "released", float64(n), "entries")
	}
}

func isReady(e *entry) bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}
