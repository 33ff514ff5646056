package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig selects the Redis server.
type RedisConfig struct {
	Addr     string
	DB       int
	Password string
	Prefix   string
}

// Redis is a key/value view cache backed by go-redis.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ecolex:"
	}
	return &Redis{rdb: rdb, prefix: prefix}, nil
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.prefix+key, val, ttl).Err()
}

func (c *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	return c.rdb.Del(ctx, full...).Err()
}

func (c *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Incr(ctx, c.prefix+key).Result()
}

// Ping reports whether the server answers.
func (c *Redis) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

func (c *Redis) Close() error { return c.rdb.Close() }
