package domain

import (
	"context"
	"time"
)

// Cache stores generated explanation reports keyed by prompt digest.
// Implementations: in-process LRU, Redis, or LRU in front of Redis.
type Cache interface {
	// Get returns nil, nil on a miss or an expired entry.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and sizes the report cache.
type CacheConfig struct {
	Type string // "memory" or "redis"

	LocalMaxSize int
	LocalTTL     time.Duration // upper bound for entries promoted into the local tier

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase fronts Redis with the local LRU.
	EnableTwoPhase bool

	// ReportTTL is how long generated explanation reports are reused.
	ReportTTL time.Duration
}
