// Package memory provides an in-process cache adapter. It backs the test
// suites and single-node deployments; production deployments use the
// redis adapter.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rankforge/go-identity-server/cache"
	autherrors "github.com/rankforge/go-identity-server/internal/errors"
)

type entry struct {
	value   string
	expires time.Time
}

type Adapter struct {
	mu         sync.RWMutex
	entries    map[string]entry
	sets       map[string]map[string]struct{}
	setExpires map[string]time.Time
	nowFunc    func() time.Time
	closed     bool
}

var _ cache.Cache = (*Adapter)(nil)

type Option func(*Adapter)

// WithNowFunc overrides the time source (useful for tests).
func WithNowFunc(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.nowFunc = now
		}
	}
}

func NewAdapter(options ...Option) *Adapter {
	a := &Adapter{
		entries:    make(map[string]entry),
		sets:       make(map[string]map[string]struct{}),
		setExpires: make(map[string]time.Time),
		nowFunc:    time.Now,
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.closedErr(); err != nil {
		return "", false, err
	}
	e, ok := a.entries[key]
	if !ok {
		return "", false, nil
	}
	if a.expired(e) {
		delete(a.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (a *Adapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.closedErr(); err != nil {
		return err
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expires = a.nowFunc().Add(ttl)
	}
	a.entries[key] = e
	return nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.closedErr(); err != nil {
		return err
	}
	delete(a.entries, key)
	delete(a.sets, key)
	delete(a.setExpires, key)
	return nil
}

func (a *Adapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.closedErr(); err != nil {
		return err
	}
	if _, ok := a.sets[key]; ok {
		if ttl > 0 {
			a.setExpires[key] = a.nowFunc().Add(ttl)
		} else {
			delete(a.setExpires, key)
		}
		return nil
	}
	e, ok := a.entries[key]
	if !ok {
		return nil
	}
	if ttl > 0 {
		e.expires = a.nowFunc().Add(ttl)
	} else {
		e.expires = time.Time{}
	}
	a.entries[key] = e
	return nil
}

func (a *Adapter) SetAdd(ctx context.Context, key string, members ...string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.closedErr(); err != nil {
		return err
	}
	a.dropExpiredSet(key)
	set, ok := a.sets[key]
	if !ok {
		set = make(map[string]struct{})
		a.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (a *Adapter) SetRemove(ctx context.Context, key string, members ...string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.closedErr(); err != nil {
		return err
	}
	set, ok := a.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(a.sets, key)
		delete(a.setExpires, key)
	}
	return nil
}

func (a *Adapter) SetMembers(ctx context.Context, key string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.closedErr(); err != nil {
		return nil, err
	}
	a.dropExpiredSet(key)
	set, ok := a.sets[key]
	if !ok {
		return nil, nil
	}
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}

func (a *Adapter) Scan(ctx context.Context, prefix string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.closedErr(); err != nil {
		return nil, err
	}
	var keys []string
	for k, e := range a.entries {
		if a.expired(e) {
			delete(a.entries, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.closedErr()
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	a.entries = make(map[string]entry)
	a.sets = make(map[string]map[string]struct{})
	a.setExpires = make(map[string]time.Time)
	return nil
}

func (a *Adapter) expired(e entry) bool {
	return !e.expires.IsZero() && a.nowFunc().After(e.expires)
}

// closedErr is checked with the lock held at the top of every
// operation, matching the redis client's behavior after Close.
func (a *Adapter) closedErr() error {
	if a.closed {
		return autherrors.Wrapf(autherrors.ErrCacheUnavailable, "memory cache closed")
	}
	return nil
}

// dropExpiredSet lazily removes a set past its TTL. Called with the
// lock held.
func (a *Adapter) dropExpiredSet(key string) {
	if exp, ok := a.setExpires[key]; ok && a.nowFunc().After(exp) {
		delete(a.sets, key)
		delete(a.setExpires, key)
	}
}
