// Package cache implements the response cache contract behind two
// interchangeable backends: a remote key-value store and a bounded
// in-memory LRU with TTL used as a fallback when the remote store is
// unavailable.
package cache

import "context"

// Cache is the shared contract both backends satisfy. All operations must
// be safe under concurrent callers.
type Cache interface {
	// Get returns the stored value and true on a live hit, or (nil, false)
	// on a miss or expired entry.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value under key. ttlSeconds > 0 requests an expiring set;
	// ttlSeconds <= 0 means "use the backend's own default" — for the
	// remote backend that is a plain, non-expiring set, for the in-memory
	// backend that is its configured default TTL.
	Set(ctx context.Context, key string, value []byte, ttlSeconds int)
	// Exists reports presence without affecting recency ordering.
	Exists(ctx context.Context, key string) bool
	// Remove deletes key if present.
	Remove(ctx context.Context, key string)
	// Clear flushes every entry.
	Clear(ctx context.Context)
}
