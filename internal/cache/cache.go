// Package cache defines the shared key-value store used for cross-process
// coordination (rate counters, CSRF tokens, revocation ledger) and its
// Redis and in-process implementations.
package cache

import (
	"context"
	"time"
)

// Cache is an atomic get/set/incr/expire/delete store.
type Cache interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key for ttl (ttl <= 0 means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes key; missing keys are not an error.
	Del(ctx context.Context, key string) error
	// IncrementAndExpireIfFirst increments the integer at key and, when the
	// result is 1, sets its TTL in the same atomic step. Returns the new value.
	IncrementAndExpireIfFirst(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
