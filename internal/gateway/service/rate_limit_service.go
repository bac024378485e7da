package service

import (
	"context"
	"fmt"
	"time"

	"rexe/internal/common/cache"
	pkgerrors "rexe/pkg/errors"
)

// CounterCache is the cache surface a fixed-window limiter needs.
type CounterCache interface {
	cache.BasicOps
	cache.CounterOps
}

// RateLimitService enforces fixed-window limits using Redis.
type RateLimitService struct {
	cache        CounterCache
	window       time.Duration
	redisTimeout time.Duration
}

func NewRateLimitService(cacheClient CounterCache, window time.Duration, redisTimeout time.Duration) *RateLimitService {
	if window <= 0 {
		window = time.Minute
	}
	if redisTimeout <= 0 {
		redisTimeout = time.Second
	}
	return &RateLimitService{cache: cacheClient, window: window, redisTimeout: redisTimeout}
}

// Allow counts one hit against key and fails once more than max hits land in the window.
func (s *RateLimitService) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if s.cache == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 {
		return nil
	}
	if window <= 0 {
		window = s.window
	}

	ctxCache, cancel := context.WithTimeout(ctx, s.redisTimeout)
	defer cancel()

	acquired, err := s.cache.SetNX(ctxCache, key, 1, window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	count := int64(1)
	if !acquired {
		count, err = s.cache.Incr(ctxCache, key)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
		// A key without TTL would block forever; repair it.
		if ttl, ttlErr := s.cache.TTL(ctxCache, key); ttlErr == nil && ttl < 0 {
			_ = s.cache.Expire(ctxCache, key, window)
		}
	}
	if count > int64(max) {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded, retry in %s", window))
	}
	return nil
}
