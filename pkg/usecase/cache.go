package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/utils/metrics"
	"golang.org/x/sync/singleflight"
)

type cacheEntry[V any] struct {
	value     V
	owner     string
	expiresAt time.Time
}

// Cache memoizes computations per key with TTL expiry and at most one concurrent
// computation per key. Entries belong to an owner so that all entries of a user
// can be dropped at once.
type Cache[V any] struct {
	name        string
	ttl         time.Duration
	staleWindow time.Duration
	now         func() time.Time

	group singleflight.Group
	// test hook run between the lookup miss and joining the flight
	beforeFlight func()

	mu          sync.Mutex
	entries     map[string]*cacheEntry[V]
	generations map[string]uint64
}

// NewCache creates a cache. A ttl of 0 disables storing values; concurrent
// computations for the same key are still shared.
func NewCache[V any](name string, ttl, staleWindow time.Duration, now func() time.Time) *Cache[V] {
	if now == nil {
		now = time.Now
	}
	return &Cache[V]{
		name:        name,
		ttl:         ttl,
		staleWindow: staleWindow,
		now:         now,
		entries:     make(map[string]*cacheEntry[V]),
		generations: make(map[string]uint64),
	}
}

// GetOrCompute returns the cached value of key or runs fn to compute it.
// fn runs detached from the caller's cancellation: a caller giving up does not
// abort the computation, which still populates the cache for later callers.
// Errors are returned to every waiting caller but never cached.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key, owner string, fn func(ctx context.Context) (V, error)) (V, error) {
	var zero V

	if value, ok := c.get(key); ok {
		metrics.CacheLookup(c.name, "hit")
		return value, nil
	}
	metrics.CacheLookup(c.name, "miss")

	generation := c.generation(owner)
	detached := context.WithoutCancel(ctx)

	if c.beforeFlight != nil {
		c.beforeFlight()
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// a flight for key may have completed since the miss above
		if value, ok := c.get(key); ok {
			return value, nil
		}
		value, err := fn(detached)
		if err != nil {
			return nil, err
		}
		c.store(key, owner, generation, value)
		return value, nil
	})

	select {
	case <-ctx.Done():
		return zero, goerr.Wrap(ctx.Err(), "cancelled while waiting for computation", goerr.V("cache", c.name))
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Stale returns the value of key if it exists and has not been expired for longer than the stale window
func (c *Cache[V]) Stale(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt.Add(c.staleWindow)) {
		var zero V
		return zero, false
	}
	metrics.CacheLookup(c.name, "stale")
	return entry.value, true
}

// InvalidateOwner drops every entry of owner. Computations already running for
// owner complete but their results are not stored.
func (c *Cache[V]) InvalidateOwner(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[owner]++
	for key, entry := range c.entries {
		if entry.owner == owner {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of stored entries, expired ones included
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

func (c *Cache[V]) generation(owner string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[owner]
}

func (c *Cache[V]) store(key, owner string, generation uint64, value V) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[owner] != generation {
		return
	}

	now := c.now()
	for k, entry := range c.entries {
		if !now.Before(entry.expiresAt.Add(c.staleWindow)) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = &cacheEntry[V]{
		value:     value,
		owner:     owner,
		expiresAt: now.Add(c.ttl),
	}
}
