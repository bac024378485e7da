package repository

import (
	"context"
	"time"

	"rexe/internal/common/cache"
	"rexe/internal/submission/model"
	appErr "rexe/pkg/errors"
)

// InflightLock is the advisory per-key marker set while a submission is queued.
// Its value is the fingerprint of the queued version.
type InflightLock interface {
	// Holder returns the fingerprint stored in the lock, or "" when no lock is held.
	Holder(ctx context.Context, key model.Key) (string, error)
	// Acquire sets the lock when absent. It reports whether this call set it.
	Acquire(ctx context.Context, key model.Key, fingerprint string, ttl time.Duration) (bool, error)
	// Release clears the lock only when it still holds fingerprint.
	Release(ctx context.Context, key model.Key, fingerprint string) (bool, error)
}

// CacheInflightLock implements InflightLock on the TTL cache.
type CacheInflightLock struct {
	cache cache.Cache
}

// NewInflightLock creates a cache-backed in-flight lock.
func NewInflightLock(cacheClient cache.Cache) *CacheInflightLock {
	return &CacheInflightLock{cache: cacheClient}
}

func (l *CacheInflightLock) Holder(ctx context.Context, key model.Key) (string, error) {
	value, err := l.cache.Get(ctx, key.LockKey())
	if err != nil {
		return "", appErr.Wrapf(err, appErr.CacheError, "read in-flight lock failed")
	}
	return value, nil
}

func (l *CacheInflightLock) Acquire(ctx context.Context, key model.Key, fingerprint string, ttl time.Duration) (bool, error) {
	ok, err := l.cache.SetNX(ctx, key.LockKey(), fingerprint, ttl)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "set in-flight lock failed")
	}
	return ok, nil
}

func (l *CacheInflightLock) Release(ctx context.Context, key model.Key, fingerprint string) (bool, error) {
	ok, err := l.cache.DelIfEqual(ctx, key.LockKey(), fingerprint)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "clear in-flight lock failed")
	}
	return ok, nil
}
