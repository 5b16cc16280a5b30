package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/rankforge/go-identity-server/cache"
	"github.com/rankforge/go-identity-server/cache/memory"
	"github.com/rankforge/go-identity-server/fingerprint"
	autherrors "github.com/rankforge/go-identity-server/internal/errors"
	"github.com/rankforge/go-identity-server/session"
)

const (
	testUserID = "user-1"
	testOrgID  = "org-1"
)

var testDevice = fingerprint.Device{IPAddress: "203.0.113.7", UserAgent: "Mozilla/5.0"}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Now().UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func setup(t *testing.T, options ...session.StoreOption) (*testClock, *memory.Adapter, *session.Store) {
	t.Helper()

	clock := newTestClock()
	mem := memory.NewAdapter(memory.WithNowFunc(clock.Now))
	opts := append([]session.StoreOption{session.WithNowFunc(clock.Now)}, options...)
	store, err := session.NewStore(context.Background(), mem, opts...)
	require.NoError(t, err)
	return clock, mem, store
}

func TestNewStoreFailsFastWhenCacheUnreachable(t *testing.T) {
	_, err := session.NewStore(context.Background(), unreachableCache{})
	require.Error(t, err)
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	clock, _, store := setup(t)

	created, err := store.Create(ctx, testUserID, testOrgID, testDevice, []string{"jti-1", "jti-2"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.True(t, created.IsActive)
	require.Equal(t, []string{"jti-1", "jti-2"}, created.TokenIDs)

	clock.Advance(time.Minute)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, created.CreatedAt, got.CreatedAt, "created_at never changes")
	require.True(t, got.LastAccessedAt.After(created.LastAccessedAt))
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	_, _, store := setup(t)

	_, err := store.Get(ctx, "no-such-session")
	require.ErrorIs(t, err, autherrors.ErrSessionNotFound)
}

func TestSessionCap(t *testing.T) {
	ctx := context.Background()
	clock, _, store := setup(t, session.WithMaxSessions(10))

	var ids []string
	for i := 0; i < 11; i++ {
		sess, err := store.Create(ctx, testUserID, testOrgID, testDevice, nil)
		require.NoError(t, err)
		ids = append(ids, sess.ID)
		clock.Advance(time.Second)
	}

	live, err := store.Sessions(ctx, testUserID)
	require.NoError(t, err)
	require.Len(t, live, 10)

	// the first session created is the one evicted
	_, err = store.Get(ctx, ids[0])
	require.ErrorIs(t, err, autherrors.ErrSessionNotFound)
	for _, id := range ids[1:] {
		_, err := store.Get(ctx, id)
		require.NoError(t, err)
	}
}

func TestSessionCapSurvivorsAreNewest(t *testing.T) {
	ctx := context.Background()
	clock, _, store := setup(t, session.WithMaxSessions(3))

	var ids []string
	for i := 0; i < 7; i++ {
		sess, err := store.Create(ctx, testUserID, testOrgID, testDevice, nil)
		require.NoError(t, err)
		ids = append(ids, sess.ID)
		clock.Advance(time.Second)
	}

	live, err := store.Sessions(ctx, testUserID)
	require.NoError(t, err)
	require.Len(t, live, 3)

	var liveIDs []string
	for _, sess := range live {
		liveIDs = append(liveIDs, sess.ID)
	}
	require.Equal(t, ids[4:], liveIDs, "the most recently created sessions survive, oldest first")
}

func TestExpiryMonotonic(t *testing.T) {
	ctx := context.Background()
	clock, _, store := setup(t)

	created, err := store.Create(ctx, testUserID, testOrgID, testDevice, nil)
	require.NoError(t, err)

	clock.Advance(time.Hour)

	refreshed, err := store.Validate(ctx, created.ID, testDevice)
	require.NoError(t, err)
	require.False(t, refreshed.ExpiresAt.Before(created.ExpiresAt), "ttl refresh never shortens lifetime")
	require.True(t, refreshed.ExpiresAt.After(created.ExpiresAt))
}

func TestLazyExpiryCleansIndex(t *testing.T) {
	ctx := context.Background()
	clock, mem, store := setup(t, session.WithTTL(time.Hour))

	created, err := store.Create(ctx, testUserID, testOrgID, testDevice, nil)
	require.NoError(t, err)

	// past logical expiry but within the cache grace window
	clock.Advance(90 * time.Minute)

	_, err = store.Get(ctx, created.ID)
	require.ErrorIs(t, err, autherrors.ErrSessionNotFound)

	members, err := mem.SetMembers(ctx, "user_sessions:"+testUserID)
	require.NoError(t, err)
	require.Empty(t, members, "expired session is gone from the per-user index")
}

func TestValidateFingerprintSoftMode(t *testing.T) {
	ctx := context.Background()
	_, _, store := setup(t)

	created, err := store.Create(ctx, testUserID, testOrgID, testDevice, nil)
	require.NoError(t, err)

	otherDevice := fingerprint.Device{IPAddress: "198.51.100.1", UserAgent: "curl/8.0"}
	sess, err := store.Validate(ctx, created.ID, otherDevice)
	require.NoError(t, err, "soft mode logs the mismatch but accepts")
	require.Equal(t, created.ID, sess.ID)
}

func TestValidateFingerprintStrictMode(t *testing.T) {
	ctx := context.Background()
	_, _, store := setup(t, session.WithStrictFingerprint(true))

	created, err := store.Create(ctx, testUserID, testOrgID, testDevice, nil)
	require.NoError(t, err)

	otherDevice := fingerprint.Device{IPAddress: "198.51.100.1", UserAgent: "curl/8.0"}
	_, err = store.Validate(ctx, created.ID, otherDevice)
	require.ErrorIs(t, err, autherrors.ErrSessionNotFound)

	// the session was destroyed, not just rejected
	_, err = store.Validate(ctx, created.ID, testDevice)
	require.ErrorIs(t, err, autherrors.ErrSessionNotFound)
}

func TestDestroyIdempotent(t *testing.T) {
	ctx := context.Background()
	_, _, store := setup(t)

	created, err := store.Create(ctx, testUserID, testOrgID, testDevice, nil)
	require.NoError(t, err)

	require.NoError(t, store.Destroy(ctx, created.ID))
	require.NoError(t, store.Destroy(ctx, created.ID))
	require.NoError(t, store.Destroy(ctx, "never-existed"))
}

func TestDestroyAllSparesException(t *testing.T) {
	ctx := context.Background()
	clock, _, store := setup(t)

	var ids []string
	for i := 0; i < 4; i++ {
		sess, err := store.Create(ctx, testUserID, testOrgID, testDevice, nil)
		require.NoError(t, err)
		ids = append(ids, sess.ID)
		clock.Advance(time.Second)
	}
	keep := ids[2]

	destroyed, err := store.DestroyAll(ctx, testUserID, keep)
	require.NoError(t, err)
	require.Equal(t, 3, destroyed)

	live, err := store.Sessions(ctx, testUserID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, keep, live[0].ID)
}

func TestBindTokens(t *testing.T) {
	ctx := context.Background()
	_, _, store := setup(t)

	created, err := store.Create(ctx, testUserID, testOrgID, testDevice, []string{"old-access", "old-refresh"})
	require.NoError(t, err)

	require.NoError(t, store.BindTokens(ctx, created.ID, []string{"new-access", "new-refresh"}))

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"new-access", "new-refresh"}, got.TokenIDs)
	require.Equal(t, created.CreatedAt, got.CreatedAt)
}

// unreachableCache simulates a cache that is down at construction time.
type unreachableCache struct {
	cache.Cache
}

func (unreachableCache) Ping(ctx context.Context) error {
	return errors.New("dial tcp localhost:6379: connection refused")
}
