package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	throttleMaxEntries = 10000
	throttleIdleAge    = 15 * time.Minute
)

// loginThrottle bounds authentication attempts per login key so a
// credential-stuffing run burns its budget instead of the directory.
type loginThrottle struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry
	limit   rate.Limit
	burst   int
	nowFunc func() time.Time
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLoginThrottle(perMinute, burst int, nowFunc func() time.Time) *loginThrottle {
	return &loginThrottle{
		entries: make(map[string]*throttleEntry),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		nowFunc: nowFunc,
	}
}

func (t *loginThrottle) allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFunc()
	e, ok := t.entries[key]
	if !ok {
		if len(t.entries) >= throttleMaxEntries {
			t.prune(now)
		}
		e = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

// prune drops idle entries. Called with the lock held.
func (t *loginThrottle) prune(now time.Time) {
	for key, e := range t.entries {
		if now.Sub(e.lastSeen) > throttleIdleAge {
			delete(t.entries, key)
		}
	}
}
