package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rexe/internal/common/cache"
)

const defaultDedupWindow = 5 * time.Minute

// Deduper decides whether a dedup token is seen for the first time within its window.
type Deduper interface {
	Claim(ctx context.Context, topic, token string) (bool, error)
}

// RedisDeduper keeps dedup tokens as TTL'd keys so every producer shares one window.
type RedisDeduper struct {
	cache  cache.BasicOps
	window time.Duration
}

// NewRedisDeduper creates a cache-backed deduper.
func NewRedisDeduper(c cache.BasicOps, window time.Duration) *RedisDeduper {
	if window <= 0 {
		window = defaultDedupWindow
	}
	return &RedisDeduper{cache: c, window: window}
}

// Claim returns true when token was not seen on topic within the window.
func (d *RedisDeduper) Claim(ctx context.Context, topic, token string) (bool, error) {
	key := fmt.Sprintf("mq:dedup:%s:%s", topic, token)
	ok, err := d.cache.SetNX(ctx, key, "1", d.window)
	if err != nil {
		return false, fmt.Errorf("claim dedup token failed: %w", err)
	}
	return ok, nil
}

// memoryDeduper is the in-process window used by MemoryQueue.
type memoryDeduper struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	seen   map[string]time.Time
}

func newMemoryDeduper(window time.Duration, now func() time.Time) *memoryDeduper {
	if window <= 0 {
		window = defaultDedupWindow
	}
	return &memoryDeduper{window: window, now: now, seen: make(map[string]time.Time)}
}

func (d *memoryDeduper) Claim(ctx context.Context, topic, token string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	key := topic + "\x00" + token
	if expiry, ok := d.seen[key]; ok && now.Before(expiry) {
		return false, nil
	}
	d.seen[key] = now.Add(d.window)
	return true, nil
}
