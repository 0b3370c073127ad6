// internal/tracking/cache.go
package tracking

import (
	"sync"
	"time"
)

// ExpiringCache is a set whose members drop out after a fixed TTL.
type ExpiringCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]time.Time // key -> expiry
}

// NewExpiringCache returns a cache. A nil now uses time.Now.
func NewExpiringCache(ttl time.Duration, now func() time.Time) *ExpiringCache {
	if now == nil {
		now = time.Now
	}
	return &ExpiringCache{ttl: ttl, now: now, items: make(map[string]time.Time)}
}

// Add inserts key. It reports false when key is already present and unexpired.
func (c *ExpiringCache) Add(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.items[key]; ok && now.Before(exp) {
		return false
	}
	c.items[key] = now.Add(c.ttl)
	return true
}

func (c *ExpiringCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	exp, ok := c.items[key]
	return ok && c.now().Before(exp)
}

func (c *ExpiringCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Sweep drops expired keys and returns how many were removed.
func (c *ExpiringCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, exp := range c.items {
		if !now.Before(exp) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Len counts stored keys, including expired ones not yet swept.
func (c *ExpiringCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
