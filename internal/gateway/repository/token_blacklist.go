package repository

import (
	"context"
	"time"

	"rexe/internal/common/cache"
	pkgerrors "rexe/pkg/errors"
)

const tokenBlacklistKeyPrefix = "rexe:token:blacklist:"

// TokenBlacklistRepository records revoked tokens in Redis with a local LRU in front.
// Entries live until the token would have expired anyway.
type TokenBlacklistRepository struct {
	local        *LRUCache
	redis        cache.BasicOps
	redisTimeout time.Duration
	localTTL     time.Duration
}

func NewTokenBlacklistRepository(local *LRUCache, redis cache.BasicOps, redisTimeout time.Duration, localTTL time.Duration) *TokenBlacklistRepository {
	if redisTimeout <= 0 {
		redisTimeout = time.Second
	}
	return &TokenBlacklistRepository{
		local:        local,
		redis:        redis,
		redisTimeout: redisTimeout,
		localTTL:     localTTL,
	}
}

// Add revokes tokenHash for ttl. Non-positive ttls are ignored since the token has already expired.
func (r *TokenBlacklistRepository) Add(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if tokenHash == "" || ttl <= 0 {
		return nil
	}
	if r.redis == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("blacklist cache is unavailable")
	}
	ctxCache, cancel := context.WithTimeout(ctx, r.redisTimeout)
	defer cancel()
	if err := r.redis.Set(ctxCache, tokenBlacklistKeyPrefix+tokenHash, "1", ttl); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "blacklist token failed")
	}
	if r.local != nil {
		localTTL := r.localTTL
		if localTTL <= 0 || localTTL > ttl {
			localTTL = ttl
		}
		r.local.Set(tokenHash, true, localTTL)
	}
	return nil
}

func (r *TokenBlacklistRepository) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	if tokenHash == "" {
		return false, nil
	}
	if r.local != nil {
		if val, ok := r.local.Get(tokenHash); ok && val {
			return true, nil
		}
	}
	if r.redis == nil {
		return false, pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("blacklist cache is unavailable")
	}
	ctxCache, cancel := context.WithTimeout(ctx, r.redisTimeout)
	defer cancel()
	n, err := r.redis.Exists(ctxCache, tokenBlacklistKeyPrefix+tokenHash)
	if err != nil {
		return false, pkgerrors.Wrapf(err, pkgerrors.CacheError, "blacklist lookup failed")
	}
	blacklisted := n > 0
	if blacklisted && r.local != nil {
		r.local.Set(tokenHash, true, r.localTTL)
	}
	return blacklisted, nil
}
