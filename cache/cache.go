// Package cache defines the distributed key-value store the token and
// session layers share. Implementations must provide per-key atomicity
// and TTL support; no multi-key transactions are assumed anywhere.
package cache

import (
	"context"
	"time"
)

// Cache is the interface to the distributed TTL-capable store.
// Every method honors the deadline carried by ctx. Implementations wrap
// transport failures so callers can match them with
// errors.Is(err, autherrors.ErrCacheUnavailable).
type Cache interface {
	// Get returns the value for key. The second return reports whether
	// the key exists; a missing key is not an error.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, expiring after ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error

	// Expire resets the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// SetAdd adds members to the set stored at key.
	SetAdd(ctx context.Context, key string, members ...string) error

	// SetRemove removes members from the set stored at key.
	SetRemove(ctx context.Context, key string, members ...string) error

	// SetMembers returns all members of the set stored at key.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Scan enumerates keys with the given prefix. Maintenance use only;
	// never called on the hot authentication path.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// Ping verifies the cache is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
