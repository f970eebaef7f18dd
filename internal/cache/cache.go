// Package cache provides the in-memory TTL cache behind the aggregation
// cache gate. Reads and writes are best effort: a failure here must never
// fail an aggregation, so the API has no error returns.
package cache

import (
	"context"
	"sync"
	"time"
)

// Config holds cache settings.
type Config struct {
	// DefaultTTL applies to Set; a TTL of 0 means the item never expires.
	DefaultTTL time.Duration
	// CleanupInterval is how often expired items are evicted in the
	// background. 0 disables the janitor; expired items are then dropped
	// lazily on read.
	CleanupInterval time.Duration
	// MaxItems caps the cache size; 0 means unbounded. When full, writes
	// of new keys are rejected rather than evicting live entries.
	MaxItems int
}

type item struct {
	value     any
	expiresAt time.Time // zero = no expiry
}

func (it item) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// Cache is a concurrency-safe TTL cache. A single key's value is replaced
// atomically; last write wins.
type Cache struct {
	mu     sync.RWMutex
	items  map[string]item
	config Config

	done chan struct{}
	once sync.Once
}

// New creates a Cache and starts its cleanup goroutine when a
// CleanupInterval is configured. Call Close to stop it.
func New(config Config) *Cache {
	c := &Cache{
		items:  make(map[string]item),
		config: config,
		done:   make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go c.janitor()
	}
	return c
}

// Get returns the live value for key.
func (c *Cache) Get(_ context.Context, key string) (any, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || it.expired(time.Now()) {
		return nil, false
	}
	return it.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	c.SetWithTTL(ctx, key, value, c.config.DefaultTTL)
}

// SetWithTTL stores value under key; ttl 0 keeps it until deleted.
func (c *Cache) SetWithTTL(_ context.Context, key string, value any, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists && c.config.MaxItems > 0 && len(c.items) >= c.config.MaxItems {
		return
	}
	c.items[key] = item{value: value, expiresAt: expiresAt}
}

// Delete removes key.
func (c *Cache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Clear removes everything.
func (c *Cache) Clear(_ context.Context) {
	c.mu.Lock()
	c.items = make(map[string]item)
	c.mu.Unlock()
}

// Size returns the number of stored items, expired ones included until the
// next cleanup pass.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Cache) janitor() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, it := range c.items {
				if it.expired(now) {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
