package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantforge/tickpipe/internal/market"
)

// Cache keeps the latest published FeatureVector per symbol in Redis so
// live signal consumers never touch the pipeline itself. Entries expire:
// a stale vector is worse than no vector.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New wraps an existing Redis client.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func key(symbol string) string {
	return "tickpipe:features:latest:" + symbol
}

// SetLatest overwrites the symbol's latest vector.
func (c *Cache) SetLatest(ctx context.Context, symbol string, vec market.FeatureVector) error {
	payload, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to marshal feature vector: %w", err)
	}
	if err := c.client.Set(ctx, key(symbol), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache feature vector for %s: %w", symbol, err)
	}
	return nil
}

// GetLatest reads the symbol's latest vector; the second return is false on
// a miss or expired entry.
func (c *Cache) GetLatest(ctx context.Context, symbol string) (market.FeatureVector, bool, error) {
	payload, err := c.client.Get(ctx, key(symbol)).Bytes()
	if err == redis.Nil {
		return market.FeatureVector{}, false, nil
	}
	if err != nil {
		return market.FeatureVector{}, false, fmt.Errorf("failed to read feature vector for %s: %w", symbol, err)
	}
	var vec market.FeatureVector
	if err := json.Unmarshal(payload, &vec); err != nil {
		return market.FeatureVector{}, false, fmt.Errorf("failed to decode cached vector for %s: %w", symbol, err)
	}
	return vec, true, nil
}
