// Package cache provides the report cache backends for Walletwatch.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Stats is a point-in-time view of an LRUCache.
type Stats struct {
	Size      int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64
}

// LRUCache is a size-bounded in-memory cache. Entries carry their own TTL
// and expire lazily on read or in Sweep. Safe for concurrent use.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front = most recently used
	now     func() time.Time
	stats   Stats
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a cache holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the live value for key. A miss returns nil, nil.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("cache key is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, nil
	}

	e := elem.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.remove(elem)
		c.stats.Expired++
		c.stats.Misses++
		return nil, nil
	}

	c.order.MoveToFront(elem)
	c.stats.Hits++
	return e.value, nil
}

// Set stores value under key for ttl, evicting the least recently used
// entries beyond capacity. A non-positive ttl deletes the key.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("cache key is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		if elem, ok := c.items[key]; ok {
			c.remove(elem)
		}
		return nil
	}

	expiresAt := c.now().Add(ttl)
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[key] = c.order.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.maxSize {
		c.remove(c.order.Back())
		c.stats.Evictions++
	}
	return nil
}

// Delete removes key.
func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.remove(elem)
	}
	return nil
}

// Sweep drops every expired entry and returns how many were removed.
func (c *LRUCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if !now.Before(elem.Value.(*entry).expiresAt) {
			c.remove(elem)
			removed++
		}
		elem = prev
	}
	c.stats.Expired += uint64(removed)
	return removed
}

// Ping always succeeds.
func (c *LRUCache) Ping(context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	return nil
}

// Stats returns the current counters.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.order.Len()
	s.Capacity = c.maxSize
	return s
}

func (c *LRUCache) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (c *LRUCache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				slog.Debug("swept expired cache entries", "removed", n)
			}
		}
	}
}
