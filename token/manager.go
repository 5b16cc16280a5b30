// Package token issues, verifies and revokes the signed bearer
// credentials underlying every authenticated request. Verification is
// CPU-bound; the distributed cache supplies revocation state and the
// record of current validity.
package token

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rankforge/go-identity-server/cache"
	"github.com/rankforge/go-identity-server/fingerprint"
	autherrors "github.com/rankforge/go-identity-server/internal/errors"
)

const (
	tokenPrefix      = "token:"
	userTokensPrefix = "user_tokens:"
)

// Record is the cache-held projection of an issued token, keyed by token
// id with TTL equal to the token lifetime. Its absence for a refresh
// token is treated the same as explicit revocation.
type Record struct {
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	Fingerprint    string    `json:"device_fingerprint"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	IsActive       bool      `json:"is_active"`
}

// Issued is the result of a successful Issue call.
type Issued struct {
	Token     string
	Claims    *Claims
	ExpiresAt time.Time
}

type Manager struct {
	keys              *Keychain
	cache             cache.Cache
	blacklist         *Blacklist
	issuer            string
	audience          string
	lifetimes         map[Kind]time.Duration
	strictFingerprint bool
	scanLimiter       *rate.Limiter
	nowFunc           func() time.Time
	logger            zerolog.Logger
}

type ManagerOption func(*Manager)

func WithLifetime(kind Kind, lifetime time.Duration) ManagerOption {
	return func(m *Manager) {
		if lifetime > 0 {
			m.lifetimes[kind] = lifetime
		}
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.nowFunc = now
		}
	}
}

func WithIssuer(issuer string) ManagerOption {
	return func(m *Manager) {
		m.issuer = issuer
	}
}

func WithAudience(audience string) ManagerOption {
	return func(m *Manager) {
		m.audience = audience
	}
}

// WithStrictFingerprint makes Verify reject on a device-fingerprint
// mismatch instead of logging it.
func WithStrictFingerprint(strict bool) ManagerOption {
	return func(m *Manager) {
		m.strictFingerprint = strict
	}
}

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithScanRate bounds how fast the RevokeAll fallback walks the token
// keyspace, in record reads per second.
func WithScanRate(perSecond int) ManagerOption {
	return func(m *Manager) {
		if perSecond > 0 {
			m.scanLimiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		}
	}
}

func New(keys *Keychain, c cache.Cache, options ...ManagerOption) *Manager {
	m := &Manager{
		keys:      keys,
		cache:     c,
		blacklist: NewBlacklist(c),
		lifetimes: map[Kind]time.Duration{
			KindAccess:            15 * time.Minute,
			KindRefresh:           7 * 24 * time.Hour,
			KindEmailVerification: 24 * time.Hour,
			KindPasswordReset:     time.Hour,
			KindAPIKey:            90 * 24 * time.Hour,
		},
		scanLimiter: rate.NewLimiter(rate.Limit(200), 200),
		nowFunc:     time.Now,
		logger:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Lifetime returns the configured lifetime for a kind.
func (m *Manager) Lifetime(kind Kind) time.Duration {
	return m.lifetimes[kind]
}

// Issue creates, signs and records a credential of the given kind. The
// device fingerprint is derived here; callers pass raw connection
// metadata. The cache record write is part of issuance: a token that
// cannot be recorded is not issued.
func (m *Manager) Issue(ctx context.Context, kind Kind, params IssueParams, device fingerprint.Device) (*Issued, error) {
	now := m.nowFunc().UTC()
	claims, err := newClaims(kind, params, fingerprint.Derive(device), m.issuer, m.audience, now, m.lifetimes[kind])
	if err != nil {
		return nil, err
	}

	signer, err := m.keys.Signer(kind)
	if err != nil {
		return nil, err
	}
	signed, err := signer.Sign(claims)
	if err != nil {
		return nil, errors.Wrap(err, "Manager.Issue sign")
	}

	record := Record{
		UserID:         params.UserID,
		OrganizationID: params.OrganizationID,
		Fingerprint:    claims.Fingerprint,
		IssuedAt:       now,
		ExpiresAt:      claims.ExpiresAt.Time,
		IsActive:       true,
	}
	if err := m.writeRecord(ctx, claims.ID, record, m.lifetimes[kind]); err != nil {
		return nil, errors.Wrap(err, "Manager.Issue record")
	}

	return &Issued{Token: signed, Claims: claims, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (m *Manager) writeRecord(ctx context.Context, tokenID string, record Record, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := m.cache.Set(ctx, tokenPrefix+tokenID, string(data), ttl); err != nil {
		return err
	}
	// The per-user index is best-effort: RevokeAll falls back to a
	// keyspace scan when it is missing or stale.
	indexKey := userTokensPrefix + record.UserID
	if err := m.cache.SetAdd(ctx, indexKey, tokenID); err != nil {
		m.logger.Warn().Err(err).Str("user_id", record.UserID).Msg("token index update failed")
	}
	// Bound the index so it cannot outlive its longest-lived member;
	// each issuance pushes the bound out.
	if err := m.cache.Expire(ctx, indexKey, m.maxLifetime()); err != nil {
		m.logger.Warn().Err(err).Str("user_id", record.UserID).Msg("token index expire failed")
	}
	return nil
}

func (m *Manager) maxLifetime() time.Duration {
	var longest time.Duration
	for _, lifetime := range m.lifetimes {
		if lifetime > longest {
			longest = lifetime
		}
	}
	return longest
}

// Verify validates signature, algorithm, issuer/audience, kind,
// blacklist status and the live cache record for a raw token. All
// failures are terminal; the caller must re-authenticate. Cache
// unavailability soft-fails for every kind except refresh, where losing
// the record of validity is equivalent to revocation.
func (m *Manager) Verify(ctx context.Context, rawToken string, expected Kind, device fingerprint.Device) (*Claims, error) {
	if !expected.Valid() {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidToken, "unknown kind %q", expected)
	}
	signer, err := m.keys.Signer(expected)
	if err != nil {
		return nil, err
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.nowFunc),
		jwt.WithIssuedAt(),
	}
	if m.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(m.audience))
	}

	parsed, err := jwt.ParseWithClaims(rawToken, &Claims{}, signer.GetVerificationKey, parserOpts...)
	if err != nil {
		return nil, mapParseError(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, autherrors.ErrInvalidToken
	}
	if claims.Kind != expected {
		return nil, autherrors.Wrapf(autherrors.ErrTokenKindMismatch, "got %q, want %q", claims.Kind, expected)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, autherrors.ErrInvalidToken
	}

	if err := m.checkRevocation(ctx, claims, expected); err != nil {
		return nil, err
	}
	if err := m.checkFingerprint(claims, device); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *Manager) checkRevocation(ctx context.Context, claims *Claims, kind Kind) error {
	revoked, err := m.blacklist.Contains(ctx, claims.ID)
	if err != nil {
		if kind == KindRefresh {
			return autherrors.Wrapf(err, "blacklist check")
		}
		m.logger.Warn().Err(err).Str("token_id", claims.ID).Msg("blacklist unreachable, soft-failing")
		return nil
	}
	if revoked {
		return autherrors.ErrTokenRevoked
	}

	raw, found, err := m.cache.Get(ctx, tokenPrefix+claims.ID)
	if err != nil {
		if kind == KindRefresh {
			return autherrors.Wrapf(err, "token record check")
		}
		m.logger.Warn().Err(err).Str("token_id", claims.ID).Msg("token record unreachable, soft-failing")
		return nil
	}
	if !found {
		// For refresh tokens the cache record is the record of current
		// validity; its loss is session-equivalent to revocation. For
		// other kinds a missing record is tolerated as a cache blip.
		if kind == KindRefresh {
			return autherrors.Wrapf(autherrors.ErrTokenRevoked, "no live record for token")
		}
		m.logger.Warn().Str("token_id", claims.ID).Msg("token record missing, soft-failing")
		return nil
	}

	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return autherrors.Wrapf(autherrors.ErrInvalidToken, "corrupt token record")
	}
	if !record.IsActive {
		return autherrors.ErrTokenRevoked
	}
	return nil
}

func (m *Manager) checkFingerprint(claims *Claims, device fingerprint.Device) error {
	if fingerprint.Match(claims.Fingerprint, fingerprint.Derive(device)) {
		return nil
	}
	if m.strictFingerprint {
		return autherrors.Wrapf(autherrors.ErrInvalidToken, "device fingerprint mismatch")
	}
	m.logger.Warn().
		Str("token_id", claims.ID).
		Str("user_id", claims.Subject).
		Msg("device fingerprint mismatch")
	return nil
}

// Revoke blacklists a token id. A zero ttl means "for the token's
// remaining lifetime", read from the live record; the cap in the
// blacklist covers tokens whose record is already gone. Idempotent;
// revoking an unknown or already revoked id succeeds.
func (m *Manager) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" {
		return nil
	}
	record, found := m.loadRecord(ctx, tokenID)
	if ttl <= 0 && found {
		ttl = record.ExpiresAt.Sub(m.nowFunc())
	}
	if err := m.blacklist.Add(ctx, tokenID, ttl); err != nil {
		return errors.Wrap(err, "Manager.Revoke blacklist")
	}
	if err := m.cache.Delete(ctx, tokenPrefix+tokenID); err != nil {
		m.logger.Warn().Err(err).Str("token_id", tokenID).Msg("token record delete failed")
	}
	// Keep the per-user index in step with the record; a dead jti left
	// behind only wastes RevokeAll work.
	if found && record.UserID != "" {
		if err := m.cache.SetRemove(ctx, userTokensPrefix+record.UserID, tokenID); err != nil {
			m.logger.Warn().Err(err).Str("token_id", tokenID).Msg("token index remove failed")
		}
	}
	return nil
}

// RevokeAll revokes every live token for a user, skipping any ids in
// except (tokens bound to a session the caller wants to keep alive).
// The per-user index makes this O(user's tokens); when the index is
// unreadable it falls back to a rate-limited keyspace scan. Maintenance
// operation, not a hot path. Best-effort: per-token failures are logged
// and skipped.
func (m *Manager) RevokeAll(ctx context.Context, userID string, except ...string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	indexKey := userTokensPrefix + userID

	tokenIDs, err := m.cache.SetMembers(ctx, indexKey)
	if err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID).Msg("token index unreadable, falling back to scan")
		tokenIDs, err = m.scanUserTokens(ctx, userID)
		if err != nil {
			return 0, errors.Wrap(err, "Manager.RevokeAll scan")
		}
	}

	skip := make(map[string]struct{}, len(except))
	for _, id := range except {
		if id != "" {
			skip[id] = struct{}{}
		}
	}

	revoked, spared := 0, 0
	for _, tokenID := range tokenIDs {
		if _, ok := skip[tokenID]; ok {
			spared++
			continue
		}
		if err := m.Revoke(ctx, tokenID, 0); err != nil {
			m.logger.Warn().Err(err).Str("token_id", tokenID).Msg("revoke failed, continuing")
			continue
		}
		revoked++
	}
	// Revoke de-indexes each id itself; dropping the whole index here
	// only clears dead leftovers, and must not happen while spared
	// members remain.
	if spared == 0 {
		if err := m.cache.Delete(ctx, indexKey); err != nil {
			m.logger.Warn().Err(err).Str("user_id", userID).Msg("token index delete failed")
		}
	}
	return revoked, nil
}

func (m *Manager) scanUserTokens(ctx context.Context, userID string) ([]string, error) {
	keys, err := m.cache.Scan(ctx, tokenPrefix)
	if err != nil {
		return nil, err
	}
	var tokenIDs []string
	for _, key := range keys {
		if err := m.scanLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		raw, found, err := m.cache.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		var record Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			continue
		}
		if record.UserID == userID {
			tokenIDs = append(tokenIDs, key[len(tokenPrefix):])
		}
	}
	return tokenIDs, nil
}

func (m *Manager) loadRecord(ctx context.Context, tokenID string) (Record, bool) {
	raw, found, err := m.cache.Get(ctx, tokenPrefix+tokenID)
	if err != nil || !found {
		return Record{}, false
	}
	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return Record{}, false
	}
	return record, true
}

func mapParseError(err error) error {
	switch {
	case stderrors.Is(err, jwt.ErrTokenExpired):
		return autherrors.Wrapf(autherrors.ErrTokenExpired, "%v", err)
	case stderrors.Is(err, jwt.ErrTokenSignatureInvalid):
		return autherrors.Wrapf(autherrors.ErrInvalidSignature, "%v", err)
	case stderrors.Is(err, jwt.ErrTokenInvalidIssuer), stderrors.Is(err, jwt.ErrTokenInvalidAudience):
		return autherrors.Wrapf(autherrors.ErrInvalidToken, "%v", err)
	default:
		return autherrors.Wrapf(autherrors.ErrInvalidToken, "%v", err)
	}
}
