package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// latestKey is where the most recent record lives in Redis.
const latestKey = "syi:latest"

// RedisCache keeps the latest SYI record hot so the freshness endpoint does
// not hit Postgres on every request. Cache failures are never fatal to a
// calculation cycle.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis at addr.
func NewRedisCache(addr string, db int) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   db,
		}),
	}
}

// Ping verifies connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SetLatest overwrites the cached latest record.
func (c *RedisCache) SetLatest(ctx context.Context, record Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	if err := c.client.Set(ctx, latestKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("caching latest SYI result: %w", err)
	}
	return nil
}

// GetLatest returns the cached latest record or ErrNoResult.
func (c *RedisCache) GetLatest(ctx context.Context) (Record, error) {
	raw, err := c.client.Get(ctx, latestKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrNoResult
		}
		return Record{}, fmt.Errorf("loading cached SYI result: %w", err)
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, fmt.Errorf("unmarshaling cached record: %w", err)
	}
	return record, nil
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
