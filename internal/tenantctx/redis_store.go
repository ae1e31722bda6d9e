package tenantctx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	configKeyPrefix  = "tenantcfg:"
	invalidationChan = "tenantcfg:invalidate"
)

// RedisStore is the shared Store binding for tenant config, per §4.6's
// "github.com/redis/go-redis/v9 ... for the tenant-config reload pub/sub
// channel".
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func configKey(tenantID string) string { return configKeyPrefix + tenantID }

// GetTenantConfig implements Store.
func (s *RedisStore) GetTenantConfig(ctx context.Context, tenantID string) (*TenantConfig, error) {
	data, err := s.rdb.Get(ctx, configKey(tenantID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tenantctx: get config %s: %w", tenantID, err)
	}
	var cfg TenantConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("tenantctx: decode config %s: %w", tenantID, err)
	}
	return &cfg, nil
}

// PutTenantConfig implements Store and publishes an invalidation so other
// process replicas evict their local cache entry.
func (s *RedisStore) PutTenantConfig(ctx context.Context, cfg *TenantConfig) error {
	cfg.UpdatedAt = time.Now()
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, configKey(cfg.TenantID), data, 0).Err(); err != nil {
		return fmt.Errorf("tenantctx: put config %s: %w", cfg.TenantID, err)
	}
	ev := InvalidationEvent{Kind: InvalidateTenantConfig, TenantID: cfg.TenantID}
	payload, _ := json.Marshal(ev)
	return s.rdb.Publish(ctx, invalidationChan, payload).Err()
}

// RedisSubscriber implements Subscriber over the same channel RedisStore
// publishes invalidations to.
type RedisSubscriber struct {
	rdb *redis.Client
}

// NewRedisSubscriber wraps an existing client.
func NewRedisSubscriber(rdb *redis.Client) *RedisSubscriber {
	return &RedisSubscriber{rdb: rdb}
}

// Subscribe implements Subscriber.
func (s *RedisSubscriber) Subscribe(ctx context.Context) (<-chan InvalidationEvent, error) {
	pubsub := s.rdb.Subscribe(ctx, invalidationChan)
	ch := make(chan InvalidationEvent, 64)
	go func() {
		defer close(ch)
		defer pubsub.Close()
		for msg := range pubsub.Channel() {
			var ev InvalidationEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
