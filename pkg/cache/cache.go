package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe in-memory cache with TTL support
type Cache[V any] struct {
	mu         sync.RWMutex
	items      map[string]item[V]
	defaultTTL time.Duration
	maxItems   int
	now        func() time.Time

	group       singleflight.Group
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// New creates a cache with a background sweep every defaultTTL/2. maxItems
// bounds the cache; zero means unbounded.
func New[V any](defaultTTL time.Duration, maxItems int) *Cache[V] {
	c := &Cache[V]{
		items:       make(map[string]item[V]),
		defaultTTL:  defaultTTL,
		maxItems:    maxItems,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	if defaultTTL > 0 {
		go c.cleanup(defaultTTL / 2)
	}
	return c
}

// Get retrieves a value from cache
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || c.now().After(it.expiresAt) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Set stores a value in cache with default TTL
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		c.evictLocked()
	}
	c.items[key] = item[V]{value: value, expiresAt: c.now().Add(ttl)}
}

// evictLocked drops expired items, or the one closest to expiry if none are.
func (c *Cache[V]) evictLocked() {
	now := c.now()
	var (
		victim string
		soon   time.Time
	)
	for k, it := range c.items {
		if now.After(it.expiresAt) {
			delete(c.items, k)
			continue
		}
		if victim == "" || it.expiresAt.Before(soon) {
			victim, soon = k, it.expiresAt
		}
	}
	if len(c.items) >= c.maxItems && victim != "" {
		delete(c.items, victim)
	}
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// GetOrLoad returns the cached value or calls load once per key, even when
// many callers miss concurrently. Errors are not cached.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

func (c *Cache[V]) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Cache[V]) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, it := range c.items {
		if now.After(it.expiresAt) {
			delete(c.items, k)
		}
	}
}

// Stop stops the cleanup goroutine
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

// Len returns the number of stored items, expired ones included until swept.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
