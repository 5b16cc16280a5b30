package session

import "time"

// Session is a distributed record of one authenticated login. It lives
// in the cache under a rolling TTL; the per-user index set tracks every
// session id a user holds for cap enforcement and bulk revocation.
type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	Fingerprint    string    `json:"device_fingerprint"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	TokenIDs       []string  `json:"token_ids"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	IsActive       bool      `json:"is_active"`
}

// Expired reports whether the session's logical lifetime has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
