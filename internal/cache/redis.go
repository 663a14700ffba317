package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares cached values between processes. Values are stored as
// JSON under prefix+key with a Redis-side TTL.
type RedisCache[V any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// DialRedis parses url and verifies the server answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedis[V any](client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisCache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache[V]{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (c *RedisCache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false
	}
	if err != nil {
		c.logger.Warn("redis cache get failed", "key", key, "error", err)
		return zero, false
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn("dropping corrupt cache entry", "key", key, "error", err)
		c.client.Del(ctx, c.prefix+key)
		return zero, false
	}
	return v, true
}

func (c *RedisCache[V]) Set(ctx context.Context, key string, value V) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("redis cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("redis cache set failed", "key", key, "error", err)
	}
}

func (c *RedisCache[V]) Invalidate(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		c.logger.Warn("redis cache invalidate failed", "key", key, "error", err)
	}
}

// Clear removes every key under the cache prefix.
func (c *RedisCache[V]) Clear(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			c.logger.Warn("redis cache clear failed", "error", err)
		}
		batch = batch[:0]
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			flush()
		}
	}
	flush()
	if err := iter.Err(); err != nil {
		c.logger.Warn("redis cache scan failed", "error", err)
	}
}
