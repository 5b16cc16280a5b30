package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	autherrors "github.com/rankforge/go-identity-server/internal/errors"
)

// Kind identifies the credential type a token carries. Each kind is
// signed with its own secret, so compromise of one kind cannot forge
// another.
type Kind string

const (
	KindAccess            Kind = "access"
	KindRefresh           Kind = "refresh"
	KindEmailVerification Kind = "email_verification"
	KindPasswordReset     Kind = "password_reset"
	KindAPIKey            Kind = "api_key"
)

// Kinds lists every supported credential kind.
func Kinds() []Kind {
	return []Kind{KindAccess, KindRefresh, KindEmailVerification, KindPasswordReset, KindAPIKey}
}

func (k Kind) Valid() bool {
	switch k {
	case KindAccess, KindRefresh, KindEmailVerification, KindPasswordReset, KindAPIKey:
		return true
	}
	return false
}

// Claims is the signed, typed, expiring claim set carried by every
// credential. Immutable once issued; identified by the registered ID
// (jti) claim.
type Claims struct {
	Kind           Kind     `json:"kind"`
	OrganizationID string   `json:"org,omitempty"`
	Fingerprint    string   `json:"fp,omitempty"`
	SessionID      string   `json:"sid,omitempty"`
	Email          string   `json:"email,omitempty"`
	Role           string   `json:"role,omitempty"`
	Permissions    []string `json:"perms,omitempty"`
	Scope          []string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// TokenID returns the unique token identifier (jti).
func (c *Claims) TokenID() string {
	return c.ID
}

// IssueParams carries the caller-supplied claim fields for Issue.
type IssueParams struct {
	UserID         string
	OrganizationID string
	Email          string
	Role           string
	Permissions    []string
	Scope          []string
	SessionID      string
}

// newClaims builds and validates a claim set for the given kind. Each
// kind has its own required-field set, checked here at construction
// rather than at use.
func newClaims(kind Kind, p IssueParams, fp, issuer, audience string, now time.Time, lifetime time.Duration) (*Claims, error) {
	if !kind.Valid() {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidToken, "unknown kind %q", kind)
	}
	if p.UserID == "" {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidToken, "issue %s: user id is required", kind)
	}
	if lifetime <= 0 {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidToken, "issue %s: lifetime must be positive", kind)
	}

	c := &Claims{
		Kind:           kind,
		OrganizationID: p.OrganizationID,
		Fingerprint:    fp,
		SessionID:      p.SessionID,
		Email:          p.Email,
		Role:           p.Role,
		Permissions:    p.Permissions,
		Scope:          p.Scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			ID:        uuid.NewString(),
		},
	}
	if issuer != "" {
		c.Issuer = issuer
	}
	if audience != "" {
		c.Audience = jwt.ClaimStrings{audience}
	}
	if err := c.validateForKind(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Claims) validateForKind() error {
	switch c.Kind {
	case KindAccess, KindRefresh:
		if c.Fingerprint == "" {
			return autherrors.Wrapf(autherrors.ErrInvalidToken, "issue %s: device fingerprint is required", c.Kind)
		}
	case KindEmailVerification, KindPasswordReset:
		if c.Email == "" {
			return autherrors.Wrapf(autherrors.ErrInvalidToken, "issue %s: email is required", c.Kind)
		}
	case KindAPIKey:
		if len(c.Scope) == 0 {
			return autherrors.Wrapf(autherrors.ErrInvalidToken, "issue api_key: scope is required")
		}
	}
	return nil
}
