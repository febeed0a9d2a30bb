package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dvloznov/ops-review/internal/pipeline"
)

// RedisCache shares loaded tables between service instances. Tables are
// stored as JSON, so cells come back as strings, float64 or nil.
type RedisCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisCache wraps a Redis client.
func NewRedisCache(rdb redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// Connect creates a Redis client and verifies the connection.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
		PoolSize: 20,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("Connect: ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (pipeline.Table, bool, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return pipeline.Table{}, false, nil
	}
	if err != nil {
		return pipeline.Table{}, false, fmt.Errorf("RedisCache.Get: %s: %w", key, err)
	}

	var table pipeline.Table
	if err := json.Unmarshal(val, &table); err != nil {
		return pipeline.Table{}, false, fmt.Errorf("RedisCache.Get: decode %s: %w", key, err)
	}
	return table, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, table pipeline.Table) error {
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("RedisCache.Set: encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("RedisCache.Set: %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("RedisCache.Delete: %s: %w", key, err)
	}
	return nil
}
