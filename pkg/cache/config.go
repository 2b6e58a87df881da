package cache

import (
	"time"
)

// CacheConfig holds configuration for the bundle read cache.
type CacheConfig struct {
	// Enabled controls whether bundle reads are cached. Default: true
	Enabled bool

	// TTL is how long a cached bundle is served. Bundles never change once
	// written, so this only bounds memory residency. Default: 10m
	TTL time.Duration

	// MaxSize is the maximum number of cached entries. Default: 512
	MaxSize int
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled: true,
		TTL:     10 * time.Minute,
		MaxSize: 512,
	}
}

// New returns a cache for cfg, or nil when caching is disabled.
func New(cfg *CacheConfig) *LRUCache {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return NewLRUCache(cfg.MaxSize, cfg.TTL)
}
