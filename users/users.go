// Package users exposes the read-only view of the durable identity
// store. The hot verify/validate path never touches it; lookups happen
// only when constructing a session at login time.
package users

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/rankforge/go-identity-server/authz"
)

const (
	StatusActive  = "active"
	StatusBlocked = "blocked"
)

// User is the durable identity record for a human or service account.
type User struct {
	ID             string     `json:"id,omitempty"`
	OrganizationID string     `json:"organization_id,omitempty"`
	Email          string     `json:"email,omitempty"`
	PasswordHash   string     `json:"-"` // never serialize
	Role           authz.Role `json:"role,omitempty"`
	Permissions    []string   `json:"permissions,omitempty"`
	Status         string     `json:"status,omitempty"`
}

// Active reports whether the user may authenticate.
func (u *User) Active() bool {
	return u.Status == StatusActive
}

// Identity projects the durable record into the request-scoped identity
// shape, bound to the given session.
func (u *User) Identity(sessionID string) authz.Identity {
	return authz.Identity{
		UserID:         u.ID,
		Email:          u.Email,
		Role:           u.Role,
		Permissions:    u.Permissions,
		OrganizationID: u.OrganizationID,
		SessionID:      sessionID,
	}
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored hash.
func VerifyPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
