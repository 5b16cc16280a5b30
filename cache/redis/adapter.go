// Package redis adapts a Redis server to the cache.Cache interface.
package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rankforge/go-identity-server/cache"
	autherrors "github.com/rankforge/go-identity-server/internal/errors"
)

type Config struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	// OpTimeout bounds every individual command. Zero means the caller's
	// context deadline is the only bound.
	OpTimeout time.Duration
}

type Adapter struct {
	client    *goredis.Client
	opTimeout time.Duration
}

var _ cache.Cache = (*Adapter)(nil)

// NewAdapter connects to Redis and verifies reachability before
// returning. A server that cannot be reached at construction time is a
// startup failure, not something to degrade around.
func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	a := &Adapter{client: client, opTimeout: cfg.OpTimeout}
	if err := a.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return a, nil
}

func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	val, err := a.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable(err)
	}
	return val, true, nil
}

func (a *Adapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	return unavailable(a.client.Set(ctx, key, value, ttl).Err())
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	return unavailable(a.client.Del(ctx, key).Err())
}

func (a *Adapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	return unavailable(a.client.Expire(ctx, key, ttl).Err())
}

func (a *Adapter) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := a.bound(ctx)
	defer cancel()

	return unavailable(a.client.SAdd(ctx, key, toArgs(members)...).Err())
}

func (a *Adapter) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := a.bound(ctx)
	defer cancel()

	return unavailable(a.client.SRem(ctx, key, toArgs(members)...).Err())
}

func (a *Adapter) SetMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	members, err := a.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return members, nil
}

// Scan walks the keyspace with SCAN rather than KEYS so a maintenance
// sweep never blocks the server.
func (a *Adapter) Scan(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := a.scanPage(ctx, cursor, prefix)
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (a *Adapter) scanPage(ctx context.Context, cursor uint64, prefix string) ([]string, uint64, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	keys, next, err := a.client.Scan(ctx, cursor, prefix+"*", 100).Result()
	if err != nil {
		return nil, 0, unavailable(err)
	}
	return keys, next, nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	return unavailable(a.client.Ping(ctx).Err())
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.opTimeout)
}

func toArgs(members []string) []interface{} {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return args
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return autherrors.Wrapf(autherrors.ErrCacheUnavailable, "redis: %v", err)
}
