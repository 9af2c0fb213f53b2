package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/walletwatch/internal/domain"
)

// New builds the report cache selected by cfg.Type.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		remote, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return remote, nil
		}
		return NewTwoPhaseCache(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache serves reports from a per-node LRU and falls through to a
// shared remote cache. Remote read failures are treated as misses so a Redis
// outage only costs a report regeneration.
type TwoPhaseCache struct {
	local    *LRUCache
	remote   domain.Cache
	localTTL time.Duration
}

// NewTwoPhaseCache layers local over remote. Local entries live at most
// localTTL regardless of the TTL given to Set.
func NewTwoPhaseCache(local *LRUCache, remote domain.Cache, localTTL time.Duration) *TwoPhaseCache {
	if localTTL <= 0 {
		localTTL = 5 * time.Minute
	}
	return &TwoPhaseCache{local: local, remote: remote, localTTL: localTTL}
}

func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.remote.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "remote cache read failed, treating as miss", "key", key, "error", err)
		return nil, nil
	}
	if val != nil {
		_ = c.local.Set(ctx, key, val, c.localTTL)
	}
	return val, nil
}

// Set always populates the local tier; the remote error, if any, is returned.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, key, value, min(ttl, c.localTTL)); err != nil {
		return err
	}
	return c.remote.Set(ctx, key, value, ttl)
}

func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	_ = c.local.Delete(ctx, key)
	return c.remote.Delete(ctx, key)
}

// Ping reports the remote tier's health; the local tier cannot fail.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("remote cache: %w", err)
	}
	return nil
}

// RunSweeper expires local entries every interval until ctx is cancelled.
func (c *TwoPhaseCache) RunSweeper(ctx context.Context, interval time.Duration) {
	c.local.RunSweeper(ctx, interval)
}

func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}
