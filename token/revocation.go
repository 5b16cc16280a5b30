package token

import (
	"context"
	"time"

	"github.com/rankforge/go-identity-server/cache"
)

const (
	blacklistPrefix = "blacklist:"

	// MaxBlacklistTTL caps how long a revocation entry lives in the
	// cache. An entry must never outlive its token's remaining lifetime;
	// this is the upper bound for bulk revocations where the remaining
	// lifetime is unknown.
	MaxBlacklistTTL = 7 * 24 * time.Hour
)

// Blacklist is the revocation record set, keyed by token id and
// consulted on every verification. Presence means the token is rejected
// even if signature and expiry are otherwise valid.
type Blacklist struct {
	cache cache.Cache
}

func NewBlacklist(c cache.Cache) *Blacklist {
	return &Blacklist{cache: c}
}

// Add inserts a revocation entry. Idempotent: re-adding an existing id
// just refreshes the entry. The TTL is clamped so the blacklist cannot
// grow without bound.
func (b *Blacklist) Add(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" {
		return nil
	}
	if ttl <= 0 || ttl > MaxBlacklistTTL {
		ttl = MaxBlacklistTTL
	}
	return b.cache.Set(ctx, blacklistPrefix+tokenID, "1", ttl)
}

// Contains reports whether the token id has been revoked.
func (b *Blacklist) Contains(ctx context.Context, tokenID string) (bool, error) {
	_, found, err := b.cache.Get(ctx, blacklistPrefix+tokenID)
	if err != nil {
		return false, err
	}
	return found, nil
}
