// Package gateway combines the token manager, session store and
// permission resolver into the single authenticate-request operation
// the HTTP layer consumes. Per request it walks a terminal-on-first-
// failure pipeline: bearer extraction, token verification, session
// validation, identity resolution. A valid token without a live session
// is meaningless, which is why the two stores are checked in sequence.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/rankforge/go-identity-server/authz"
	"github.com/rankforge/go-identity-server/fingerprint"
	autherrors "github.com/rankforge/go-identity-server/internal/errors"
	"github.com/rankforge/go-identity-server/session"
	"github.com/rankforge/go-identity-server/token"
	"github.com/rankforge/go-identity-server/users"
)

// Pipeline stages, recorded as metric labels.
const (
	stageBearer   = "bearer"
	stageToken    = "token"
	stageSession  = "session"
	stageIdentity = "identity"
)

const (
	defaultLoginPerMinute = 10
	defaultLoginBurst     = 10
)

type Gateway struct {
	tokens    *token.Manager
	sessions  *session.Store
	directory users.Directory
	throttle  *loginThrottle
	metrics   *Metrics
	nowFunc   func() time.Time
	logger    zerolog.Logger

	loginPerMinute int
	loginBurst     int
}

type Option func(*Gateway)

func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.nowFunc = now
		}
	}
}

// WithLoginRate tunes the per-email login throttle.
func WithLoginRate(perMinute, burst int) Option {
	return func(g *Gateway) {
		if perMinute > 0 {
			g.loginPerMinute = perMinute
		}
		if burst > 0 {
			g.loginBurst = burst
		}
	}
}

func New(tokens *token.Manager, sessions *session.Store, directory users.Directory, options ...Option) *Gateway {
	g := &Gateway{
		tokens:         tokens,
		sessions:       sessions,
		directory:      directory,
		nowFunc:        time.Now,
		logger:         zerolog.Nop(),
		loginPerMinute: defaultLoginPerMinute,
		loginBurst:     defaultLoginBurst,
	}
	for _, opt := range options {
		opt(g)
	}
	g.throttle = newLoginThrottle(g.loginPerMinute, g.loginBurst, g.nowFunc)
	return g
}

// LoginResult carries the credentials and identity produced by a
// successful login or refresh.
type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Identity         authz.Identity
}

// Login authenticates credentials against the directory, creates a
// session and issues an access/refresh pair bound to it. This is the
// only operation on the relational store's path; every later request is
// served from signed claims and the cache.
func (g *Gateway) Login(ctx context.Context, email, password string, device fingerprint.Device) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, autherrors.ErrUnauthenticated
	}
	if !g.throttle.allow(email) {
		g.logger.Warn().Str("email", email).Msg("login throttled")
		return nil, autherrors.ErrTooManyAttempts
	}

	u, err := g.directory.FindByEmail(ctx, email)
	if err != nil {
		g.logger.Debug().Err(err).Str("email", email).Msg("login rejected")
		return nil, autherrors.ErrUnauthenticated
	}
	if !u.Active() {
		g.logger.Debug().Str("user_id", u.ID).Msg("login rejected, user not active")
		return nil, autherrors.ErrUnauthenticated
	}
	if err := users.VerifyPassword(u.PasswordHash, password); err != nil {
		g.logger.Debug().Str("user_id", u.ID).Msg("login rejected, bad password")
		return nil, autherrors.ErrUnauthenticated
	}

	sess, err := g.sessions.Create(ctx, u.ID, u.OrganizationID, device, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Gateway.Login create session")
	}
	access, refresh, err := g.issuePair(ctx, u.Identity(sess.ID), device)
	if err != nil {
		_ = g.sessions.Destroy(ctx, sess.ID)
		return nil, errors.Wrap(err, "Gateway.Login issue tokens")
	}
	if err := g.sessions.BindTokens(ctx, sess.ID, []string{access.Claims.TokenID(), refresh.Claims.TokenID()}); err != nil {
		g.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("token binding failed")
	}

	g.logger.Info().Str("user_id", u.ID).Str("session_id", sess.ID).Msg("login")
	return &LoginResult{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		Identity:         u.Identity(sess.ID),
	}, nil
}

// Authenticate resolves a bearer token into a request identity. Every
// internal failure collapses to ErrUnauthenticated at this boundary;
// the detail is logged, never returned.
func (g *Gateway) Authenticate(ctx context.Context, rawToken string, device fingerprint.Device) (authz.Identity, error) {
	start := g.nowFunc()
	identity, stage, err := g.resolve(ctx, rawToken, device)
	elapsed := g.nowFunc().Sub(start).Seconds()
	if err != nil {
		g.metrics.observe(stage, "failure", elapsed)
		g.logger.Debug().Err(err).Str("stage", stage).Msg("authentication failed")
		return authz.Anonymous(), autherrors.ErrUnauthenticated
	}
	g.metrics.observe(stage, "success", elapsed)
	return identity, nil
}

// OptionalAuthenticate behaves like Authenticate but degrades every
// failure to an anonymous identity. For endpoints that render
// differently for logged-in callers without requiring login.
func (g *Gateway) OptionalAuthenticate(ctx context.Context, rawToken string, device fingerprint.Device) authz.Identity {
	identity, err := g.Authenticate(ctx, rawToken, device)
	if err != nil {
		return authz.Anonymous()
	}
	return identity
}

func (g *Gateway) resolve(ctx context.Context, rawToken string, device fingerprint.Device) (authz.Identity, string, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return authz.Anonymous(), stageBearer, autherrors.Wrapf(autherrors.ErrUnauthenticated, "missing bearer token")
	}

	claims, err := g.tokens.Verify(ctx, rawToken, token.KindAccess, device)
	if err != nil {
		return authz.Anonymous(), stageToken, err
	}
	if claims.SessionID == "" {
		return authz.Anonymous(), stageToken, autherrors.Wrapf(autherrors.ErrInvalidToken, "token has no session binding")
	}

	sess, err := g.sessions.Validate(ctx, claims.SessionID, device)
	if err != nil {
		return authz.Anonymous(), stageSession, err
	}
	if sess.UserID != claims.Subject {
		return authz.Anonymous(), stageSession, autherrors.Wrapf(autherrors.ErrSessionNotFound, "session user mismatch")
	}

	role, err := authz.ParseRole(claims.Role)
	if err != nil {
		return authz.Anonymous(), stageIdentity, err
	}
	return authz.Identity{
		UserID:         claims.Subject,
		Email:          claims.Email,
		Role:           role,
		Permissions:    claims.Permissions,
		OrganizationID: claims.OrganizationID,
		SessionID:      sess.ID,
	}, stageIdentity, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is bound to the same session. Identity fields come from
// the verified claims; the directory is not consulted, so role changes
// take effect at the next full login.
func (g *Gateway) Refresh(ctx context.Context, rawRefresh string, device fingerprint.Device) (*LoginResult, error) {
	claims, err := g.tokens.Verify(ctx, rawRefresh, token.KindRefresh, device)
	if err != nil {
		g.logger.Debug().Err(err).Msg("refresh rejected")
		return nil, autherrors.ErrUnauthenticated
	}
	sess, err := g.sessions.Validate(ctx, claims.SessionID, device)
	if err != nil || sess.UserID != claims.Subject {
		g.logger.Debug().Err(err).Str("session_id", claims.SessionID).Msg("refresh rejected, no live session")
		return nil, autherrors.ErrUnauthenticated
	}

	// The presented token dies before its successor exists; a rotation
	// that cannot revoke must not mint.
	remaining := claims.ExpiresAt.Time.Sub(g.nowFunc())
	if err := g.tokens.Revoke(ctx, claims.TokenID(), remaining); err != nil {
		return nil, errors.Wrap(err, "Gateway.Refresh revoke")
	}

	identity := authz.Identity{
		UserID:         claims.Subject,
		Email:          claims.Email,
		Role:           authz.Role(claims.Role),
		Permissions:    claims.Permissions,
		OrganizationID: claims.OrganizationID,
		SessionID:      sess.ID,
	}
	access, refresh, err := g.issuePair(ctx, identity, device)
	if err != nil {
		return nil, errors.Wrap(err, "Gateway.Refresh issue tokens")
	}
	if err := g.sessions.BindTokens(ctx, sess.ID, []string{access.Claims.TokenID(), refresh.Claims.TokenID()}); err != nil {
		g.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("token binding failed")
	}

	return &LoginResult{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		Identity:         identity,
	}, nil
}

// Logout tears down one login: the presented token, every token the
// session references, and the session itself. Teardown past
// verification is best-effort.
func (g *Gateway) Logout(ctx context.Context, rawToken string, device fingerprint.Device) error {
	claims, err := g.tokens.Verify(ctx, rawToken, token.KindAccess, device)
	if err != nil {
		return autherrors.ErrUnauthenticated
	}
	if claims.SessionID != "" {
		if sess, err := g.sessions.Get(ctx, claims.SessionID); err == nil {
			for _, tokenID := range sess.TokenIDs {
				if err := g.tokens.Revoke(ctx, tokenID, 0); err != nil {
					g.logger.Warn().Err(err).Str("token_id", tokenID).Msg("logout revoke failed")
				}
			}
		}
		if err := g.sessions.Destroy(ctx, claims.SessionID); err != nil {
			g.logger.Warn().Err(err).Str("session_id", claims.SessionID).Msg("logout destroy failed")
		}
	}
	remaining := claims.ExpiresAt.Time.Sub(g.nowFunc())
	if err := g.tokens.Revoke(ctx, claims.TokenID(), remaining); err != nil {
		g.logger.Warn().Err(err).Str("token_id", claims.TokenID()).Msg("logout revoke failed")
	}
	g.logger.Info().Str("user_id", claims.Subject).Str("session_id", claims.SessionID).Msg("logout")
	return nil
}

// LogoutAll revokes every token and destroys every session a user
// holds, optionally sparing one session together with the tokens bound
// to it, so the caller's own login survives a password change or reset.
func (g *Gateway) LogoutAll(ctx context.Context, userID, exceptSessionID string) error {
	var sparedTokens []string
	if exceptSessionID != "" {
		sess, err := g.sessions.Get(ctx, exceptSessionID)
		if err == nil && sess.UserID == userID {
			sparedTokens = sess.TokenIDs
		}
	}
	revoked, err := g.tokens.RevokeAll(ctx, userID, sparedTokens...)
	if err != nil {
		return errors.Wrap(err, "Gateway.LogoutAll revoke tokens")
	}
	destroyed, err := g.sessions.DestroyAll(ctx, userID, exceptSessionID)
	if err != nil {
		return errors.Wrap(err, "Gateway.LogoutAll destroy sessions")
	}
	g.logger.Info().
		Str("user_id", userID).
		Int("tokens_revoked", revoked).
		Int("sessions_destroyed", destroyed).
		Msg("logout everywhere")
	return nil
}

// RequireRole is the boolean gate for "role and above" checks.
func (g *Gateway) RequireRole(identity authz.Identity, role authz.Role) bool {
	return authz.HasAtLeast(identity, role)
}

// RequirePermission is the boolean gate for fine-grained checks.
func (g *Gateway) RequirePermission(identity authz.Identity, permission string) bool {
	return authz.HasPermission(identity, permission)
}

func (g *Gateway) issuePair(ctx context.Context, identity authz.Identity, device fingerprint.Device) (*token.Issued, *token.Issued, error) {
	params := token.IssueParams{
		UserID:         identity.UserID,
		OrganizationID: identity.OrganizationID,
		Email:          identity.Email,
		Role:           string(identity.Role),
		Permissions:    identity.Permissions,
		SessionID:      identity.SessionID,
	}
	access, err := g.tokens.Issue(ctx, token.KindAccess, params, device)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := g.tokens.Issue(ctx, token.KindRefresh, params, device)
	if err != nil {
		return nil, nil, err
	}
	return access, refresh, nil
}
