package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session auth server
var (
	// Token errors
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenRevoked        = errors.New("token revoked")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// CSRF errors
	ErrCSRFMissing  = errors.New("refresh csrf token missing")
	ErrCSRFMismatch = errors.New("refresh csrf token mismatch")

	// Configuration errors
	ErrMissingSecret = errors.New("required secret is not configured")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrGuestSession    = errors.New("guest sessions cannot hold refresh credentials")

	// General errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnsupported    = errors.New("unsupported operation")
)

// New returns an error that formats as the given text
func New(text string) error {
	return errors.New(text)
}

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
