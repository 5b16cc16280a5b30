package errors

import (
	"errors"
	"fmt"
)

// Common error types for the identity server
var (
	// Startup errors (fatal, never retried)
	ErrConfiguration = errors.New("invalid configuration")

	// Token errors (terminal per request, surfaced as unauthenticated)
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenExpired      = errors.New("token expired")
	ErrInvalidSignature  = errors.New("invalid token signature")
	ErrTokenRevoked      = errors.New("token revoked")
	ErrTokenKindMismatch = errors.New("unexpected token kind")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")

	// Transient dependency errors
	ErrCacheUnavailable = errors.New("cache unavailable")

	// User errors
	ErrUserNotFound = errors.New("user not found")

	// Gateway boundary errors
	ErrUnauthenticated = errors.New("authentication failed")
	ErrForbidden       = errors.New("forbidden")
	ErrTooManyAttempts = errors.New("too many attempts")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
