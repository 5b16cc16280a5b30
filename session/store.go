// Package session owns the distributed session records behind every
// login: creation, validation with device binding, rolling expiry and
// the per-user concurrency cap.
package session

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/rankforge/go-identity-server/cache"
	"github.com/rankforge/go-identity-server/fingerprint"
	autherrors "github.com/rankforge/go-identity-server/internal/errors"
)

const (
	sessionPrefix      = "session:"
	userSessionsPrefix = "user_sessions:"

	// Expired records are kept in the cache for a grace window past their
	// logical expiry so a later read can destroy them lazily and clean
	// the per-user index, instead of leaving dangling index entries.
	expiryGrace = time.Hour
)

type Store struct {
	cache             cache.Cache
	ttl               time.Duration
	maxSessions       int
	strictFingerprint bool
	evictions         prometheus.Counter
	nowFunc           func() time.Time
	logger            zerolog.Logger
}

type StoreOption func(*Store)

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxSessions sets the per-user session cap. The cap is eventually
// bounded: concurrent logins may briefly exceed it before enforcement
// converges.
func WithMaxSessions(max int) StoreOption {
	return func(s *Store) {
		if max > 0 {
			s.maxSessions = max
		}
	}
}

// WithStrictFingerprint makes Validate destroy and reject a session
// whose device fingerprint does not match the request's.
func WithStrictFingerprint(strict bool) StoreOption {
	return func(s *Store) {
		s.strictFingerprint = strict
	}
}

// WithEvictionCounter wires a counter incremented once per session
// evicted by cap enforcement.
func WithEvictionCounter(c prometheus.Counter) StoreOption {
	return func(s *Store) {
		s.evictions = c
	}
}

func WithNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.nowFunc = now
		}
	}
}

func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore constructs the session store. Sessions cannot degrade to "no
// persistence", so an unreachable cache at construction time fails fast.
func NewStore(ctx context.Context, c cache.Cache, options ...StoreOption) (*Store, error) {
	if err := c.Ping(ctx); err != nil {
		return nil, errors.Wrap(err, "session.NewStore: cache unreachable")
	}
	s := &Store{
		cache:       c,
		ttl:         24 * time.Hour,
		maxSessions: 10,
		nowFunc:     time.Now,
		logger:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Create writes a new session bound to the device, indexes it for the
// user, then enforces the session cap. Enforcement runs after creation
// so a user over capacity is never blocked from logging in; the oldest
// sessions give way instead.
func (s *Store) Create(ctx context.Context, userID, organizationID string, device fingerprint.Device, tokenIDs []string) (*Session, error) {
	if userID == "" {
		return nil, errors.New("session.Create: user id is required")
	}
	now := s.nowFunc().UTC()
	sess := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		OrganizationID: organizationID,
		Fingerprint:    fingerprint.Derive(device),
		IPAddress:      device.IPAddress,
		UserAgent:      device.UserAgent,
		TokenIDs:       tokenIDs,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(s.ttl),
		IsActive:       true,
	}
	if err := s.write(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "session.Create")
	}
	indexKey := userSessionsPrefix + userID
	if err := s.cache.SetAdd(ctx, indexKey, sess.ID); err != nil {
		// roll back the orphaned record; an unindexed session would
		// escape cap enforcement and bulk logout
		_ = s.cache.Delete(ctx, sessionPrefix+sess.ID)
		return nil, errors.Wrap(err, "session.Create index")
	}
	// Bound the index itself so a user who never logs in again does not
	// leave a set behind forever. Each login pushes the bound out.
	if err := s.cache.Expire(ctx, indexKey, s.ttl+expiryGrace); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("session index expire failed")
	}

	s.enforceCap(ctx, userID)
	return sess, nil
}

// Get returns the session, refreshing its TTL and last-accessed time.
// Expired-but-present records are destroyed lazily. The refresh never
// shortens the session's lifetime and never touches created_at.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := s.nowFunc().UTC()
	if sess.Expired(now) {
		_ = s.Destroy(ctx, sessionID)
		return nil, autherrors.ErrSessionNotFound
	}

	sess.LastAccessedAt = now
	if newExpiry := now.Add(s.ttl); newExpiry.After(sess.ExpiresAt) {
		sess.ExpiresAt = newExpiry
	}
	if err := s.write(ctx, sess); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("session ttl refresh failed")
	}
	return sess, nil
}

// Validate is Get plus the activity and device-binding checks performed
// on every authenticated request. In strict mode a fingerprint mismatch
// is treated as a compromise signal: the session is destroyed.
func (s *Store) Validate(ctx context.Context, sessionID string, device fingerprint.Device) (*Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive {
		return nil, autherrors.ErrSessionNotFound
	}
	if !fingerprint.Match(sess.Fingerprint, fingerprint.Derive(device)) {
		if s.strictFingerprint {
			s.logger.Warn().
				Str("session_id", sessionID).
				Str("user_id", sess.UserID).
				Msg("fingerprint mismatch in strict mode, destroying session")
			_ = s.Destroy(ctx, sessionID)
			return nil, autherrors.Wrapf(autherrors.ErrSessionNotFound, "fingerprint mismatch")
		}
		s.logger.Warn().
			Str("session_id", sessionID).
			Str("user_id", sess.UserID).
			Msg("fingerprint mismatch")
	}
	return sess, nil
}

// BindTokens replaces the token ids referenced by a session, preserving
// creation time and expiry. Used when a refresh rotation mints a new
// token pair for an existing session.
func (s *Store) BindTokens(ctx context.Context, sessionID string, tokenIDs []string) error {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.TokenIDs = tokenIDs
	return s.write(ctx, sess)
}

// Destroy removes the session record and its index entry. Idempotent:
// destroying a missing session succeeds.
func (s *Store) Destroy(ctx context.Context, sessionID string) error {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		if autherrors.Is(err, autherrors.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if err := s.cache.Delete(ctx, sessionPrefix+sessionID); err != nil {
		return errors.Wrap(err, "session.Destroy")
	}
	if err := s.cache.SetRemove(ctx, userSessionsPrefix+sess.UserID, sessionID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("session index cleanup failed")
	}
	return nil
}

// DestroyAll removes every session a user holds, optionally sparing one.
// Used for logout-everywhere on password change or reset.
func (s *Store) DestroyAll(ctx context.Context, userID, exceptSessionID string) (int, error) {
	sessionIDs, err := s.cache.SetMembers(ctx, userSessionsPrefix+userID)
	if err != nil {
		return 0, errors.Wrap(err, "session.DestroyAll")
	}
	destroyed := 0
	for _, id := range sessionIDs {
		if id == exceptSessionID {
			continue
		}
		if err := s.Destroy(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("session_id", id).Msg("destroy failed, continuing")
			continue
		}
		destroyed++
	}
	return destroyed, nil
}

// Sessions returns the user's live sessions, oldest first.
func (s *Store) Sessions(ctx context.Context, userID string) ([]*Session, error) {
	sessionIDs, err := s.cache.SetMembers(ctx, userSessionsPrefix+userID)
	if err != nil {
		return nil, errors.Wrap(err, "session.Sessions")
	}
	now := s.nowFunc().UTC()
	var sessions []*Session
	for _, id := range sessionIDs {
		sess, err := s.load(ctx, id)
		if err != nil {
			if autherrors.Is(err, autherrors.ErrSessionNotFound) {
				// dangling index entry, clean it up
				_ = s.cache.SetRemove(ctx, userSessionsPrefix+userID, id)
			}
			continue
		}
		if sess.Expired(now) {
			_ = s.Destroy(ctx, id)
			continue
		}
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// enforceCap destroys the oldest sessions until the user is back under
// the cap. Best-effort: failures are logged, never surfaced to the
// login that triggered enforcement.
func (s *Store) enforceCap(ctx context.Context, userID string) {
	sessions, err := s.Sessions(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("session cap check failed")
		return
	}
	excess := len(sessions) - s.maxSessions
	for i := 0; i < excess; i++ {
		victim := sessions[i]
		if err := s.Destroy(ctx, victim.ID); err != nil {
			s.logger.Warn().Err(err).Str("session_id", victim.ID).Msg("cap eviction failed")
			continue
		}
		if s.evictions != nil {
			s.evictions.Inc()
		}
		s.logger.Info().
			Str("user_id", userID).
			Str("session_id", victim.ID).
			Time("created_at", victim.CreatedAt).
			Msg("session evicted by cap")
	}
}

func (s *Store) load(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, autherrors.ErrSessionNotFound
	}
	raw, found, err := s.cache.Get(ctx, sessionPrefix+sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "session load")
	}
	if !found {
		return nil, autherrors.ErrSessionNotFound
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, errors.Wrap(err, "session decode")
	}
	return &sess, nil
}

func (s *Store) write(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	ttl := sess.ExpiresAt.Sub(s.nowFunc()) + expiryGrace
	return s.cache.Set(ctx, sessionPrefix+sess.ID, string(data), ttl)
}
