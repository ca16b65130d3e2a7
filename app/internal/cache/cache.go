package cache

import (
	"strings"
	"sync"
	"time"
)

// entry is a cached value with its expiry.
type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Cache is a small in-memory TTL cache. Computed window results and
// rankings are cached here; they are derived data, so eviction is
// always safe. Instances are created where needed and passed
// explicitly, never held in package globals.
type Cache struct {
	mu         sync.RWMutex
	items      map[string]entry
	defaultTTL time.Duration
	ticker     *time.Ticker
	stop       chan struct{}
}

// New creates a cache with the given default TTL and starts its
// background sweep. A non-positive TTL is clamped to one second; the
// sweep ticker requires a positive period.
func New(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = time.Second
	}
	c := &Cache{
		items:      make(map[string]entry),
		defaultTTL: defaultTTL,
		ticker:     time.NewTicker(defaultTTL),
		stop:       make(chan struct{}),
	}
	go c.sweep()
	return c
}

func (c *Cache) sweep() {
	for {
		select {
		case <-c.ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.items {
				if now.After(e.expiresAt) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			c.ticker.Stop()
			return
		}
	}
}

// Stop terminates the background sweep.
func (c *Cache) Stop() {
	close(c.stop)
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores a value under key with the default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value under key with an explicit TTL.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
}

// Delete removes a single key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// DeletePrefix removes every key starting with prefix. The uptime
// aggregator keys results by endpoint, so invalidating an endpoint is
// a prefix delete.
func (c *Cache) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
}

// Clear removes everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]entry)
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
