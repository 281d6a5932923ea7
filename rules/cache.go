package rules

import (
	"sync"
	"time"
)

// RulesCache holds the enabled rule snapshot used for dispatch.
//
// Each Invalidate starts a new generation. A refresh reads Generation
// before loading from the store and passes it to Set, so a load that raced
// an invalidation is returned to its caller but never cached.
type RulesCache interface {
	// Get returns the snapshot, or nil on a miss or after expiry
	Get() []*Rule

	Generation() uint64

	// Set stores rules if no invalidation happened since generation was
	// read, and reports whether it did.
	Set(rules []*Rule, generation uint64) bool

	Invalidate()
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL bounds the age of a snapshot. 0 means invalidation only.
	TTL time.Duration
}

// DefaultCacheConfig relies on invalidation from rule mutations and the
// change listener, with a long TTL as a backstop for missed notifications.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 5 * time.Minute,
	}
}

// InMemoryRulesCache is a mutex-guarded RulesCache
type InMemoryRulesCache struct {
	mu         sync.RWMutex
	rules      []*Rule
	loaded     bool
	loadedAt   time.Time
	generation uint64

	ttl time.Duration
	now func() time.Time
}

func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		ttl: config.TTL,
		now: time.Now,
	}
}

// Get returns a copy of the snapshot slice. The rules themselves are shared
// and must not be mutated.
func (c *InMemoryRulesCache) Get() []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.freshLocked() {
		return nil
	}
	return append(make([]*Rule, 0, len(c.rules)), c.rules...)
}

func (c *InMemoryRulesCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

func (c *InMemoryRulesCache) Set(rules []*Rule, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return false
	}
	c.rules = append(make([]*Rule, 0, len(rules)), rules...)
	c.loaded = true
	c.loadedAt = c.now()
	return true
}

func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.loaded = false
	c.rules = nil
}

func (c *InMemoryRulesCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.freshLocked()
}

func (c *InMemoryRulesCache) freshLocked() bool {
	if !c.loaded {
		return false
	}
	return c.ttl <= 0 || c.now().Sub(c.loadedAt) <= c.ttl
}
