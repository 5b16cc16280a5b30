package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"strings"

	autherrors "github.com/rankforge/go-identity-server/internal/errors"
)

// Keychain maps each credential kind to its signing secret. Access and
// refresh secrets must be supplied explicitly; secrets for the remaining
// kinds are derived from the refresh secret with HMAC key separation
// unless configured, so a deployment only manages two secrets while the
// kinds stay cryptographically isolated.
type Keychain struct {
	signers map[Kind]Signer
}

type KeychainOption func(map[Kind][]byte)

// WithKindSecret overrides the secret for a single kind.
func WithKindSecret(kind Kind, secret string) KeychainOption {
	return func(secrets map[Kind][]byte) {
		if s := strings.TrimSpace(secret); s != "" {
			secrets[kind] = []byte(s)
		}
	}
}

// NewKeychain builds the per-kind signer set. Missing access or refresh
// secrets are a fatal configuration error; the process must not start
// without them.
func NewKeychain(accessSecret, refreshSecret string, options ...KeychainOption) (*Keychain, error) {
	accessSecret = strings.TrimSpace(accessSecret)
	refreshSecret = strings.TrimSpace(refreshSecret)
	if accessSecret == "" {
		return nil, autherrors.Wrapf(autherrors.ErrConfiguration, "access token secret is not set")
	}
	if refreshSecret == "" {
		return nil, autherrors.Wrapf(autherrors.ErrConfiguration, "refresh token secret is not set")
	}
	if accessSecret == refreshSecret {
		return nil, autherrors.Wrapf(autherrors.ErrConfiguration, "access and refresh secrets must differ")
	}

	secrets := map[Kind][]byte{
		KindAccess:  []byte(accessSecret),
		KindRefresh: []byte(refreshSecret),
	}
	for _, kind := range []Kind{KindEmailVerification, KindPasswordReset, KindAPIKey} {
		secrets[kind] = deriveSecret([]byte(refreshSecret), kind)
	}
	for _, opt := range options {
		opt(secrets)
	}

	signers := make(map[Kind]Signer, len(secrets))
	for kind, secret := range secrets {
		signers[kind] = NewHMACSigner(secret)
	}
	return &Keychain{signers: signers}, nil
}

// Signer returns the signer for the given kind.
func (k *Keychain) Signer(kind Kind) (Signer, error) {
	s, ok := k.signers[kind]
	if !ok {
		return nil, autherrors.Wrapf(autherrors.ErrConfiguration, "no signer for kind %q", kind)
	}
	return s, nil
}

func deriveSecret(base []byte, kind Kind) []byte {
	mac := hmac.New(sha256.New, base)
	mac.Write([]byte("kind:" + string(kind)))
	return mac.Sum(nil)
}
