package gateway_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rankforge/go-identity-server/authz"
	"github.com/rankforge/go-identity-server/cache/memory"
	"github.com/rankforge/go-identity-server/fingerprint"
	"github.com/rankforge/go-identity-server/gateway"
	autherrors "github.com/rankforge/go-identity-server/internal/errors"
	"github.com/rankforge/go-identity-server/session"
	"github.com/rankforge/go-identity-server/token"
	"github.com/rankforge/go-identity-server/users"
	"github.com/rankforge/go-identity-server/users/repofake"
)

const (
	accessSecret  = "access-secret-0123456789"
	refreshSecret = "refresh-secret-0123456789"
	testEmail     = "john.doe@example.com"
	testPassword  = "correct horse battery staple"
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

type fixture struct {
	clock     *testClock
	manager   *token.Manager
	store     *session.Store
	directory *repofake.FakeDirectory
	gateway   *gateway.Gateway
}

func setup(t *testing.T, options ...gateway.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	clock := newTestClock()
	mem := memory.NewAdapter(memory.WithNowFunc(clock.Now))
	keys, err := token.NewKeychain(accessSecret, refreshSecret)
	require.NoError(t, err)
	manager := token.New(keys, mem, token.WithNowFunc(clock.Now))
	store, err := session.NewStore(ctx, mem, session.WithNowFunc(clock.Now))
	require.NoError(t, err)

	directory := repofake.NewFakeDirectory()
	directory.Add(testUser(t, "user-1", testEmail, authz.RoleMember, users.StatusActive))

	opts := append([]gateway.Option{gateway.WithNowFunc(clock.Now)}, options...)
	return &fixture{
		clock:     clock,
		manager:   manager,
		store:     store,
		directory: directory,
		gateway:   gateway.New(manager, store, directory, opts...),
	}
}

func testUser(t *testing.T, id, email string, role authz.Role, status string) *users.User {
	t.Helper()
	hash, err := users.HashPassword(testPassword)
	require.NoError(t, err)
	return &users.User{
		ID:             id,
		OrganizationID: "org-1",
		Email:          email,
		PasswordHash:   hash,
		Role:           role,
		Permissions:    []string{"seo:read"},
		Status:         status,
	}
}

func TestLoginAuthenticateLogout(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	result, err := f.gateway.Login(ctx, testEmail, testPassword, testDevice)
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.RefreshToken)
	require.NotEmpty(t, result.Identity.SessionID)

	identity, err := f.gateway.Authenticate(ctx, result.AccessToken, testDevice)
	require.NoError(t, err)
	require.Equal(t, "user-1", identity.UserID)
	require.Equal(t, authz.RoleMember, identity.Role)
	require.Equal(t, result.Identity.SessionID, identity.SessionID)

	require.NoError(t, f.gateway.Logout(ctx, result.AccessToken, testDevice))

	// Replaying a revoked credential must fail immediately.
	_, err = f.gateway.Authenticate(ctx, result.AccessToken, testDevice)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.directory.Add(testUser(t, "user-2", "blocked@example.com", authz.RoleMember, users.StatusBlocked))

	_, err := f.gateway.Login(ctx, testEmail, "wrong password", testDevice)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)

	_, err = f.gateway.Login(ctx, "nobody@example.com", testPassword, testDevice)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)

	_, err = f.gateway.Login(ctx, "blocked@example.com", testPassword, testDevice)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
}

func TestLoginThrottle(t *testing.T) {
	ctx := context.Background()
	f := setup(t, gateway.WithLoginRate(1, 2))

	for i := 0; i < 2; i++ {
		_, err := f.gateway.Login(ctx, testEmail, "wrong password", testDevice)
		require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
	}

	_, err := f.gateway.Login(ctx, testEmail, testPassword, testDevice)
	require.ErrorIs(t, err, autherrors.ErrTooManyAttempts)

	// The throttle keys on the login email, not the caller.
	f.directory.Add(testUser(t, "user-3", "other@example.com", authz.RoleViewer, users.StatusActive))
	_, err = f.gateway.Login(ctx, "other@example.com", testPassword, testDevice)
	require.NoError(t, err)
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	for _, raw := range []string{"", "   ", "not-a-jwt", "aaa.bbb.ccc"} {
		_, err := f.gateway.Authenticate(ctx, raw, testDevice)
		require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	result, err := f.gateway.Login(ctx, testEmail, testPassword, testDevice)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)

	_, err = f.gateway.Authenticate(ctx, result.AccessToken, testDevice)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
}

func TestAuthenticateRejectsDestroyedSession(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	result, err := f.gateway.Login(ctx, testEmail, testPassword, testDevice)
	require.NoError(t, err)

	require.NoError(t, f.store.Destroy(ctx, result.Identity.SessionID))

	// The token itself is still valid; the bound session is gone.
	_, err = f.gateway.Authenticate(ctx, result.AccessToken, testDevice)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
}

func TestAuthenticateRejectsRefreshToken(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	result, err := f.gateway.Login(ctx, testEmail, testPassword, testDevice)
	require.NoError(t, err)

	_, err = f.gateway.Authenticate(ctx, result.RefreshToken, testDevice)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
}

func TestOptionalAuthenticate(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	identity := f.gateway.OptionalAuthenticate(ctx, "", testDevice)
	require.True(t, identity.IsAnonymous())

	identity = f.gateway.OptionalAuthenticate(ctx, "garbage", testDevice)
	require.True(t, identity.IsAnonymous())

	result, err := f.gateway.Login(ctx, testEmail, testPassword, testDevice)
	require.NoError(t, err)

	identity = f.gateway.OptionalAuthenticate(ctx, result.AccessToken, testDevice)
	require.False(t, identity.IsAnonymous())
	require.Equal(t, "user-1", identity.UserID)
}

func TestRefreshRotatesTokens(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	first, err := f.gateway.Login(ctx, testEmail, testPassword, testDevice)
	require.NoError(t, err)

	second, err := f.gateway.Refresh(ctx, first.RefreshToken, testDevice)
	require.NoError(t, err)
	require.NotEqual(t, first.AccessToken, second.AccessToken)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.Equal(t, first.Identity.SessionID, second.Identity.SessionID)

	// The rotated-out refresh token is dead.
	_, err = f.gateway.Refresh(ctx, first.RefreshToken, testDevice)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)

	_, err = f.gateway.Authenticate(ctx, second.AccessToken, testDevice)
	require.NoError(t, err)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	result, err := f.gateway.Login(ctx, testEmail, testPassword, testDevice)
	require.NoError(t, err)

	_, err = f.gateway.Refresh(ctx, result.AccessToken, testDevice)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
}

func TestLogoutAll(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	laptop := fingerprint.Device{IPAddress: "203.0.113.7", UserAgent: "Mozilla/5.0"}
	phone := fingerprint.Device{IPAddress: "198.51.100.4", UserAgent: "RankForge-iOS/2.1"}

	a, err := f.gateway.Login(ctx, testEmail, testPassword, laptop)
	require.NoError(t, err)
	b, err := f.gateway.Login(ctx, testEmail, testPassword, phone)
	require.NoError(t, err)

	require.NoError(t, f.gateway.LogoutAll(ctx, "user-1", ""))

	_, err = f.gateway.Authenticate(ctx, a.AccessToken, laptop)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
	_, err = f.gateway.Authenticate(ctx, b.AccessToken, phone)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
	_, err = f.gateway.Refresh(ctx, a.RefreshToken, laptop)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)

	sessions, err := f.store.Sessions(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestLogoutAllSparesCurrentSession(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	phone := fingerprint.Device{IPAddress: "198.51.100.4", UserAgent: "RankForge-iOS/2.1"}

	other, err := f.gateway.Login(ctx, testEmail, testPassword, phone)
	require.NoError(t, err)
	current, err := f.gateway.Login(ctx, testEmail, testPassword, testDevice)
	require.NoError(t, err)

	require.NoError(t, f.gateway.LogoutAll(ctx, "user-1", current.Identity.SessionID))

	sessions, err := f.store.Sessions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, current.Identity.SessionID, sessions[0].ID)

	// sparing the session is worthless unless its credentials survive
	// with it
	identity, err := f.gateway.Authenticate(ctx, current.AccessToken, testDevice)
	require.NoError(t, err)
	require.Equal(t, current.Identity.SessionID, identity.SessionID)

	rotated, err := f.gateway.Refresh(ctx, current.RefreshToken, testDevice)
	require.NoError(t, err)
	require.Equal(t, current.Identity.SessionID, rotated.Identity.SessionID)

	_, err = f.gateway.Authenticate(ctx, other.AccessToken, phone)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
	_, err = f.gateway.Refresh(ctx, other.RefreshToken, phone)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
}

func TestPermissionGates(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.directory.Add(testUser(t, "admin-1", "admin@example.com", authz.RoleAdmin, users.StatusActive))

	member, err := f.gateway.Login(ctx, testEmail, testPassword, testDevice)
	require.NoError(t, err)
	admin, err := f.gateway.Login(ctx, "admin@example.com", testPassword, testDevice)
	require.NoError(t, err)

	require.True(t, f.gateway.RequireRole(member.Identity, authz.RoleViewer))
	require.False(t, f.gateway.RequireRole(member.Identity, authz.RoleManager))
	require.True(t, f.gateway.RequireRole(admin.Identity, authz.RoleManager))

	require.True(t, f.gateway.RequirePermission(member.Identity, "seo:read"))
	require.False(t, f.gateway.RequirePermission(member.Identity, "seo:write"))
	require.True(t, f.gateway.RequirePermission(admin.Identity, "billing:write"))
}
