package rules

import "time"

// CompiledRule is a rule whose condition and action have been parsed. Either
// tree may contain malformed nodes; those fault only when reached.
type CompiledRule struct {
	Rule      *Rule
	Condition Condition
	Action    Action
}

// RuleSet is the active, sorted rule list of one scope. It is immutable once
// published to a cache.
type RuleSet struct {
	Scope      int64
	Generation uint64
	Rules      []*CompiledRule
	LoadedAt   time.Time
}

// RulesCache holds one RuleSet per scope. Every invalidation bumps the
// scope's generation; a RuleSet built against an older generation is refused
// by Store so a slow load can never overwrite a newer invalidation.
type RulesCache interface {
	// Get returns the cached rule set, or nil on a miss or expiry
	Get(scope int64) *RuleSet

	// Store publishes rs if rs.Generation is still current for its scope
	Store(rs *RuleSet) bool

	// Generation returns the current generation for scope
	Generation(scope int64) uint64

	// Invalidate drops the scope's entry and bumps its generation
	Invalidate(scope int64)

	// InvalidateAll drops every entry and bumps every generation
	InvalidateAll()
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // No TTL - only invalidate on mutations
	}
}
