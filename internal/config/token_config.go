package config

import "time"

// TokenConfig exposes the signing and lifetime configuration consumed by
// the token manager. Access and refresh secrets are required; the manager
// refuses to start without them.
type TokenConfig interface {
	GetAccessTokenSecret() string
	GetRefreshTokenSecret() string
	GetTokenIssuer() string
	GetTokenAudience() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetEmailVerificationExpiry() time.Duration
	GetPasswordResetExpiry() time.Duration
	GetAPIKeyExpiry() time.Duration
}

type Tokens struct{}

var _ TokenConfig = Tokens{}

func (Tokens) GetAccessTokenSecret() string {
	return GetEnv("ACCESS_TOKEN_SECRET", "")
}

func (Tokens) GetRefreshTokenSecret() string {
	return GetEnv("REFRESH_TOKEN_SECRET", "")
}

func (Tokens) GetTokenIssuer() string {
	return GetEnv("TOKEN_ISSUER", "rankforge-identity")
}

func (Tokens) GetTokenAudience() string {
	return GetEnv("TOKEN_AUDIENCE", "rankforge-api")
}

func (Tokens) GetAccessTokenExpiry() time.Duration {
	return GetEnvDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute)
}

func (Tokens) GetRefreshTokenExpiry() time.Duration {
	return GetEnvDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour)
}

func (Tokens) GetEmailVerificationExpiry() time.Duration {
	return GetEnvDuration("EMAIL_VERIFICATION_EXPIRY", 24*time.Hour)
}

func (Tokens) GetPasswordResetExpiry() time.Duration {
	return GetEnvDuration("PASSWORD_RESET_EXPIRY", time.Hour)
}

func (Tokens) GetAPIKeyExpiry() time.Duration {
	return GetEnvDuration("API_KEY_EXPIRY", 90*24*time.Hour)
}
