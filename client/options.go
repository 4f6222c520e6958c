package client

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultRefreshBuffer  = 15 * time.Second
	DefaultRefreshTimeout = 30 * time.Second

	DefaultRefreshPath = "/api/auth/refresh"
	DefaultLogoutPath  = "/api/auth/logout"
	DefaultGuestPath   = "/auth/guest"
)

type Option func(*Manager)

// WithHTTPClient sets the client used for every call. A cookie jar is installed on a copy of it
// when it has none, since the refresh credential only travels as a cookie.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		if c != nil {
			m.httpClient = c
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithRefreshBuffer sets how long before expiry a token is refreshed proactively.
func WithRefreshBuffer(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.refreshBuffer = d
		}
	}
}

// WithRefreshTimeout bounds a refresh call, which outlives the context of the caller that started it.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithPaths overrides the refresh, logout and guest endpoint paths. Empty values keep the defaults.
func WithPaths(refreshPath, logoutPath, guestPath string) Option {
	return func(m *Manager) {
		if refreshPath != "" {
			m.refreshPath = refreshPath
		}
		if logoutPath != "" {
			m.logoutPath = logoutPath
		}
		if guestPath != "" {
			m.guestPath = guestPath
		}
	}
}
