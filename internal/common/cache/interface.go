package cache

import (
	"context"
	"time"
)

// Cache defines the key-value operations the pipeline needs from a TTL cache.
// Redis is the only production implementation.
type Cache interface {
	BasicOps
	LockOps
	CounterOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key.
	// An absent key yields an empty string and a nil error.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL
	// If ttl is 0, the key will not expire
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist (atomic operation)
	// Returns true if the key was set, false if it already existed
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Exists checks if one or more keys exist
	// Returns the number of keys that exist
	Exists(ctx context.Context, keys ...string) (int64, error)

	// TTL returns the remaining time to live of a key
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// CounterOps defines fixed-window counters.
type CounterOps interface {
	// Incr increments the integer stored at key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// LockOps defines owner-checked release of set-if-absent markers.
type LockOps interface {
	// DelIfEqual deletes key only when its current value equals value.
	// Returns true if the key was deleted.
	DelIfEqual(ctx context.Context, key string, value string) (bool, error)
}
