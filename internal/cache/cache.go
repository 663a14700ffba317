// Package cache provides the read-through cache used in front of profile
// storage. Entries expire after a fixed TTL; writers invalidate explicitly.
// There is no cross-process invalidation, so with the in-memory backend a
// reader in another process may see data up to one TTL old.
package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultTTL bounds how stale a cached profile may be.
const DefaultTTL = 5 * time.Minute

// Cache is a TTL cache keyed by string. Lookups that fail for any reason
// are misses.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V)
	Invalidate(ctx context.Context, key string)
	Clear(ctx context.Context)
}

// Clock returns the current time. Tests swap it to move time forward.
type Clock func() time.Time

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// MemoryCache is a size-bounded in-process cache.
type MemoryCache[V any] struct {
	lru *lru.Cache[string, entry[V]]
	ttl time.Duration

	mu  sync.RWMutex
	now Clock
}

// NewMemory returns a cache holding at most size entries for ttl each.
func NewMemory[V any](size int, ttl time.Duration) (*MemoryCache[V], error) {
	l, err := lru.New[string, entry[V]](size)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache[V]{lru: l, ttl: ttl, now: time.Now}, nil
}

// SetClock replaces the time source.
func (c *MemoryCache[V]) SetClock(now Clock) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *MemoryCache[V]) clock() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now()
}

func (c *MemoryCache[V]) Get(_ context.Context, key string) (V, bool) {
	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	if !c.clock().Before(e.expiresAt) {
		c.lru.Remove(key)
		return zero, false
	}
	return e.value, true
}

func (c *MemoryCache[V]) Set(_ context.Context, key string, value V) {
	c.lru.Add(key, entry[V]{value: value, expiresAt: c.clock().Add(c.ttl)})
}

func (c *MemoryCache[V]) Invalidate(_ context.Context, key string) {
	c.lru.Remove(key)
}

func (c *MemoryCache[V]) Clear(_ context.Context) {
	c.lru.Purge()
}

// Len reports the number of entries, including expired ones not yet evicted.
func (c *MemoryCache[V]) Len() int {
	return c.lru.Len()
}
