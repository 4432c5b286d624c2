package rules

import (
	"sync"
	"time"
)

// InMemoryRulesCache is a simple in-memory implementation of RulesCache
// Thread-safe for concurrent access
type InMemoryRulesCache struct {
	config  CacheConfig
	mu      sync.RWMutex
	entries map[int64]*RuleSet
	gens    map[int64]uint64
	epoch   uint64 // bumped by InvalidateAll
	now     func() time.Time
}

// NewInMemoryRulesCache creates a new in-memory rules cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		config:  config,
		entries: make(map[int64]*RuleSet),
		gens:    make(map[int64]uint64),
		now:     time.Now,
	}
}

// Get retrieves the cached rule set for scope
// Returns nil if there is none or it expired
func (c *InMemoryRulesCache) Get(scope int64) *RuleSet {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rs, ok := c.entries[scope]
	if !ok {
		return nil
	}

	// Check TTL if configured
	if c.config.TTL > 0 && c.now().Sub(rs.LoadedAt) > c.config.TTL {
		return nil
	}
	return rs
}

// Store publishes rs unless an invalidation happened after it was built
func (c *InMemoryRulesCache) Store(rs *RuleSet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rs.Generation != c.generationLocked(rs.Scope) {
		return false
	}
	if rs.LoadedAt.IsZero() {
		rs.LoadedAt = c.now()
	}
	c.entries[rs.Scope] = rs
	return true
}

// Generation returns the current generation for scope
func (c *InMemoryRulesCache) Generation(scope int64) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generationLocked(scope)
}

func (c *InMemoryRulesCache) generationLocked(scope int64) uint64 {
	return c.epoch + c.gens[scope]
}

// Invalidate clears the entry for scope
func (c *InMemoryRulesCache) Invalidate(scope int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[scope]++
	delete(c.entries, scope)
}

// InvalidateAll clears every entry
func (c *InMemoryRulesCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.entries = make(map[int64]*RuleSet)
}

// Len returns the number of cached scopes
func (c *InMemoryRulesCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
