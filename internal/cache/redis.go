package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/walletwatch/internal/domain"
)

// redisService labels Redis failures in domain.ErrExternalService.
const redisService = "redis"

// KeyPrefix namespaces every key Walletwatch writes to a shared Redis.
const KeyPrefix = "walletwatch:"

// RedisCache is the shared report cache for multi-node deployments and the
// L2 of TwoPhaseCache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects using the Redis fields of cfg and verifies the
// connection with a ping.
func NewRedisCache(cfg domain.CacheConfig) (*RedisCache, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		MaxRetries:   2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, upstream(err))
	}

	return &RedisCache{client: client}, nil
}

// Get returns the value for key. A miss returns nil, nil.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, upstream(err)
	}
	return val, nil
}

// Set stores value with ttl; Redis evicts it on expiry.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return upstream(c.client.Set(ctx, KeyPrefix+key, value, ttl).Err())
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return upstream(c.client.Del(ctx, KeyPrefix+key).Err())
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return upstream(c.client.Ping(ctx).Err())
}

// Close closes the client pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// upstream tags a Redis error as an external service failure.
func upstream(err error) error {
	if err == nil {
		return nil
	}
	return &domain.ErrExternalService{Service: redisService, Err: err}
}
