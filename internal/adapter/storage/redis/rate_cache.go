package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lightning-pos/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// RateCache implements ports.RateCache using Redis, so multiple engine
// instances share one ticker fetch per asset per TTL window.
type RateCache struct {
	client *goredis.Client
	prefix string
}

// NewRateCache creates a Redis-backed exchange-rate snapshot cache.
func NewRateCache(client *goredis.Client) *RateCache {
	return &RateCache{
		client: client,
		prefix: "rate:",
	}
}

// Get retrieves the cached snapshot for an asset.
// Returns nil, nil if no snapshot is cached.
func (c *RateCache) Get(ctx context.Context, asset domain.Asset) (*domain.ExchangeRateSnapshot, error) {
	val, err := c.client.Get(ctx, c.prefix+string(asset)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis rate get: %w", err)
	}

	var snap domain.ExchangeRateSnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, fmt.Errorf("redis rate decode: %w", err)
	}
	return &snap, nil
}

// Set stores a snapshot for an asset with TTL.
func (c *RateCache) Set(ctx context.Context, asset domain.Asset, snapshot domain.ExchangeRateSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redis rate encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+string(asset), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis rate set: %w", err)
	}
	return nil
}
