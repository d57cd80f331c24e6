// Package cache defines the port interface for the in-process read cache.
// The audit service uses it to serve repeated entry lookups without
// touching the store; the store itself remains the source of truth.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key-value cache with per-entry TTLs.
// Implementations may evict at any time, so a miss is never an error.
type Cache interface {
	// Get returns the cached value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value under key for at most ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
