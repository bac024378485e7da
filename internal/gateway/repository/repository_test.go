package repository

import (
	"context"
	"testing"
	"time"

	"rexe/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLRUCacheEvictsOldest(t *testing.T) {
	c := NewLRUCache(2, time.Minute)
	c.Set("a", true, 0)
	c.Set("b", true, 0)
	c.Get("a")
	c.Set("c", true, 0)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a to survive")
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
}

func TestLRUCacheExpires(t *testing.T) {
	now := time.Now()
	c := NewLRUCache(4, time.Minute)
	c.now = func() time.Time { return now }
	c.Set("a", true, time.Second)

	now = now.Add(2 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestTokenBlacklist(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	repo := NewTokenBlacklistRepository(nil, rc, time.Second, time.Minute)
	ctx := context.Background()

	listed, err := repo.IsBlacklisted(ctx, "hash")
	if err != nil || listed {
		t.Fatalf("expected clean token, listed=%v err=%v", listed, err)
	}
	if err := repo.Add(ctx, "hash", time.Minute); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	listed, err = repo.IsBlacklisted(ctx, "hash")
	if err != nil || !listed {
		t.Fatalf("expected blacklisted token, listed=%v err=%v", listed, err)
	}

	mr.FastForward(2 * time.Minute)
	if listed, _ := repo.IsBlacklisted(ctx, "hash"); listed {
		t.Fatalf("blacklist entry should expire with the token")
	}
}

func TestTokenBlacklistIgnoresExpiredTokens(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, _ := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	repo := NewTokenBlacklistRepository(NewLRUCache(8, time.Minute), rc, time.Second, time.Minute)
	if err := repo.Add(context.Background(), "hash", 0); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expired token must not be stored")
	}
}
