package tenantctx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]*TenantConfig
	gets int
}

func newMemStore() *memStore { return &memStore{data: make(map[string]*TenantConfig)} }

func (m *memStore) GetTenantConfig(ctx context.Context, tenantID string) (*TenantConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	return m.data[tenantID], nil
}

func (m *memStore) PutTenantConfig(ctx context.Context, cfg *TenantConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[cfg.TenantID] = cfg
	return nil
}

type noopSubscriber struct{}

func (noopSubscriber) Subscribe(ctx context.Context) (<-chan InvalidationEvent, error) {
	return nil, nil
}

func TestGetCreatesDefaultConfigOnTotalMiss(t *testing.T) {
	store := newMemStore()
	tierDefaults := map[string]RateLimitPolicy{"free": {PerMinute: 10, PerHour: 100, PerDay: 1000}}
	cache := NewCache(context.Background(), store, noopSubscriber{}, tierDefaults)

	cfg, err := cache.Get(context.Background(), "new-tenant")
	require.NoError(t, err)
	assert.Equal(t, "free", cfg.Tier)
	assert.Equal(t, 10, cfg.RateLimits.PerMinute)

	// Persisted back to the store.
	stored, err := store.GetTenantConfig(context.Background(), "new-tenant")
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestGetServesFromLocalCacheWithoutHittingStoreAgain(t *testing.T) {
	store := newMemStore()
	cache := NewCache(context.Background(), store, noopSubscriber{}, nil)

	_, err := cache.Get(context.Background(), "tenant-1")
	require.NoError(t, err)
	getsAfterFirst := store.gets

	_, err = cache.Get(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, getsAfterFirst, store.gets, "second Get within TTL must not re-query the store")
}

func TestEvictForcesReloadFromStore(t *testing.T) {
	store := newMemStore()
	cache := NewCache(context.Background(), store, noopSubscriber{}, nil)

	_, err := cache.Get(context.Background(), "tenant-1")
	require.NoError(t, err)
	gets := store.gets

	cache.evict("tenant-1")
	_, err = cache.Get(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Greater(t, store.gets, gets)
}

func TestFeatureEnabledReadsThroughCache(t *testing.T) {
	store := newMemStore()
	store.data["tenant-1"] = &TenantConfig{
		TenantID: "tenant-1",
		Tier:     "pro",
		Features: map[string]bool{"agent_gateway": true},
	}
	cache := NewCache(context.Background(), store, noopSubscriber{}, nil)

	enabled, err := cache.FeatureEnabled(context.Background(), "tenant-1", "agent_gateway")
	require.NoError(t, err)
	assert.True(t, enabled)

	enabled, err = cache.FeatureEnabled(context.Background(), "tenant-1", "unknown_feature")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestDefaultForFallsBackWhenTierUnconfigured(t *testing.T) {
	store := newMemStore()
	cache := NewCache(context.Background(), store, noopSubscriber{}, map[string]RateLimitPolicy{})

	cfg := cache.defaultFor("t1", "enterprise")
	assert.Equal(t, 60, cfg.RateLimits.PerMinute)
	assert.WithinDuration(t, time.Now(), cfg.UpdatedAt, time.Second)
}
