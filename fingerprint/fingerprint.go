// Package fingerprint derives a stable device identifier from connection
// metadata. The identifier is a weak binding between a credential or
// session and its originating client, not proof of device identity.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// Device carries the connection metadata a fingerprint is derived from.
type Device struct {
	IPAddress string
	UserAgent string
}

// Derive computes a hex-encoded SHA-256 over the normalized user agent
// and client address. The port is stripped from the address so that
// ephemeral source ports do not churn the fingerprint. Derive is pure
// and deterministic; identical input always maps to the same output.
func Derive(d Device) string {
	ua := strings.ToLower(strings.TrimSpace(d.UserAgent))
	host := strings.TrimSpace(d.IPAddress)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	sum := sha256.Sum256([]byte(ua + "|" + host))
	return hex.EncodeToString(sum[:])
}

// Match reports whether a presented fingerprint matches a stored one.
// An empty stored fingerprint matches anything: there is nothing to
// compare against, so no binding is enforced.
func Match(stored, presented string) bool {
	if stored == "" {
		return true
	}
	return stored == presented
}
