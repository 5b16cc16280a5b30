package config

import "time"

// SessionConfig exposes session lifetime, concurrency cap and the
// device-binding enforcement mode. Strict mode applies uniformly to the
// token and session layers.
type SessionConfig interface {
	GetSessionExpiry() time.Duration
	GetMaxSessionsPerUser() int
	GetStrictFingerprint() bool
}

type Sessions struct{}

var _ SessionConfig = Sessions{}

func (Sessions) GetSessionExpiry() time.Duration {
	return GetEnvDuration("SESSION_EXPIRY", 24*time.Hour)
}

func (Sessions) GetMaxSessionsPerUser() int {
	return GetEnvInt("MAX_SESSIONS_PER_USER", 10)
}

func (Sessions) GetStrictFingerprint() bool {
	return GetEnvBool("STRICT_FINGERPRINT", false)
}
