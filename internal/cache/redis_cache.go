package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fairyhunter13/spin-wheel/internal/model"
)

// KeyPrefix namespaces every wheel configuration entry.
const KeyPrefix = "spinwheel:wheel:"

// RedisClient is the subset of the go-redis client the cache uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// WheelCache stores wheel configurations in Redis as JSON.
type WheelCache struct {
	client RedisClient
	ttl    time.Duration
}

// NewWheelCache creates a WheelCache whose entries expire after ttl.
func NewWheelCache(client RedisClient, ttl time.Duration) *WheelCache {
	return &WheelCache{client: client, ttl: ttl}
}

// Get returns the cached configuration, or nil, nil on a miss.
func (c *WheelCache) Get(ctx context.Context, key string) (*model.WheelConfig, error) {
	raw, err := c.client.Get(ctx, KeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wheel cache %s: %w", key, err)
	}

	var cfg model.WheelConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("decode wheel cache %s: %w", key, err)
	}
	if cfg.Prizes == nil {
		cfg.Prizes = []model.Prize{}
	}
	return &cfg, nil
}

// Set stores cfg under key.
func (c *WheelCache) Set(ctx context.Context, key string, cfg *model.WheelConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode wheel cache %s: %w", key, err)
	}
	if err := c.client.Set(ctx, KeyPrefix+key, string(data), c.ttl).Err(); err != nil {
		return fmt.Errorf("set wheel cache %s: %w", key, err)
	}
	return nil
}

// Delete removes the given keys. Missing keys are not an error.
func (c *WheelCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = KeyPrefix + k
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("delete wheel cache: %w", err)
	}
	return nil
}
