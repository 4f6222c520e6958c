package client

import (
	"errors"
	"fmt"
)

var (
	// ErrRefreshNotPermitted is returned without a network call when the current state cannot be
	// refreshed: nobody is signed in, the principal is a guest, or no CSRF token is held.
	ErrRefreshNotPermitted = errors.New("refresh not permitted for this session")
	// ErrRefreshRejected marks a refresh the server answered with 401 or 403.
	ErrRefreshRejected = errors.New("refresh rejected by server")
)

// RefreshTokenError means the session can no longer be refreshed. The manager has already
// signed out locally when the server rejected the credential.
type RefreshTokenError struct {
	StatusCode int
	Err        error
}

func (e *RefreshTokenError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("refresh token: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("refresh token: %v", e.Err)
}

func (e *RefreshTokenError) Unwrap() error { return e.Err }

// AccessDeniedError is an authorization failure unrelated to token freshness.
type AccessDeniedError struct {
	StatusCode int
	URL        string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %s returned %d", e.URL, e.StatusCode)
}

// NetworkError is a transport failure or an unavailable server. Callers may retry.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: server returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError is a malformed response or payload.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid session payload: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid session payload: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
