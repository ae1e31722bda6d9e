// Package tenantctx implements the tenant context cache, rate limiter, and
// API key identity resolution (SPEC_FULL.md §4.6), generalizing the
// predecessor's sync.RWMutex-guarded local cache map with a TTL field per
// entry and backing it with a shared Redis store plus pub/sub hot-reload.
package tenantctx

import (
	"context"
	"sync"
	"time"
)

// RateLimitPolicy is the per-tier default rate limit configuration for one
// window (per-minute, per-hour, per-day).
type RateLimitPolicy struct {
	PerMinute int
	PerHour   int
	PerDay    int
	Unlimited bool
}

// TenantConfig is the cached, hot-reloadable configuration for one tenant
// (§3.8).
type TenantConfig struct {
	TenantID     string
	Tier         string
	RateLimits   RateLimitPolicy
	Features     map[string]bool
	FeatureData  map[string]map[string]interface{}
	UpdatedAt    time.Time
}

// Store is the shared (Redis-backed) persistence layer for tenant config.
type Store interface {
	GetTenantConfig(ctx context.Context, tenantID string) (*TenantConfig, error)
	PutTenantConfig(ctx context.Context, cfg *TenantConfig) error
}

// InvalidationKind distinguishes what a hot-reload event invalidates.
type InvalidationKind string

const (
	InvalidateTenantConfig InvalidationKind = "tenant_config"
	InvalidateGlobalConfig InvalidationKind = "global_config"
	InvalidateFeatureFlag  InvalidationKind = "feature_flag"
)

// InvalidationEvent is broadcast over the pub/sub channel when configuration
// changes upstream.
type InvalidationEvent struct {
	Kind     InvalidationKind
	TenantID string
}

type cacheEntry struct {
	cfg       *TenantConfig
	expiresAt time.Time
}

// localCacheTTL matches §4.6's "in-process LRU with 30s TTL".
const localCacheTTL = 30 * time.Second

// pollInterval is the fallback reload cadence covering missed pub/sub
// messages, bounding hot-reload propagation to the 30s worst case §4.6
// requires.
const pollInterval = 30 * time.Second

// Cache is the two-level tenant config cache: an in-process map guarded by
// sync.RWMutex (read-first fast path, write lock only on miss or
// invalidation) backed by a shared Store, with pub/sub-driven eviction.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	store   Store
	sub     Subscriber

	defaultsMu sync.RWMutex
	tierDefaults map[string]RateLimitPolicy
}

// Subscriber delivers hot-reload invalidation events.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan InvalidationEvent, error)
}

// NewCache builds a cache backed by store, subscribing to sub for
// invalidations and polling every 30s as a fallback.
func NewCache(ctx context.Context, store Store, sub Subscriber, tierDefaults map[string]RateLimitPolicy) *Cache {
	c := &Cache{
		entries:      make(map[string]cacheEntry),
		store:        store,
		sub:          sub,
		tierDefaults: tierDefaults,
	}
	go c.runInvalidationLoop(ctx)
	go c.runPollLoop(ctx)
	return c
}

func (c *Cache) runInvalidationLoop(ctx context.Context) {
	if c.sub == nil {
		return
	}
	events, err := c.sub.Subscribe(ctx)
	if err != nil {
		return
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.evict(ev.TenantID)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cache) runPollLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.entries = make(map[string]cacheEntry)
			c.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cache) evict(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tenantID)
}

// Get returns the tenant config, consulting the local cache first, then the
// shared store, loading the tier default on total miss.
func (c *Cache) Get(ctx context.Context, tenantID string) (*TenantConfig, error) {
	c.mu.RLock()
	entry, ok := c.entries[tenantID]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.cfg, nil
	}

	cfg, err := c.store.GetTenantConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = c.defaultFor(tenantID, "free")
		if err := c.store.PutTenantConfig(ctx, cfg); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	c.entries[tenantID] = cacheEntry{cfg: cfg, expiresAt: time.Now().Add(localCacheTTL)}
	c.mu.Unlock()
	return cfg, nil
}

func (c *Cache) defaultFor(tenantID, tier string) *TenantConfig {
	c.defaultsMu.RLock()
	policy, ok := c.tierDefaults[tier]
	c.defaultsMu.RUnlock()
	if !ok {
		policy = RateLimitPolicy{PerMinute: 60, PerHour: 1000, PerDay: 10000}
	}
	return &TenantConfig{
		TenantID:   tenantID,
		Tier:       tier,
		RateLimits: policy,
		Features:   map[string]bool{},
		UpdatedAt:  time.Now(),
	}
}

// FeatureEnabled reads through the cached config; feature flags are an
// edge-case read path, not a hot-path lookup.
func (c *Cache) FeatureEnabled(ctx context.Context, tenantID, feature string) (bool, error) {
	cfg, err := c.Get(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return cfg.Features[feature], nil
}
