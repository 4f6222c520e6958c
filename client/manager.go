package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	refreshFlightKey = "refresh"
	csrfHeader       = "X-Refresh-CSRF"
	maxPayloadBytes  = 1 << 20
)

// Manager holds the client side view of a login and keeps its access token fresh. All methods
// are safe for concurrent use; concurrent refreshes collapse into one network call.
type Manager struct {
	baseURL        *url.URL
	httpClient     *http.Client
	logger         zerolog.Logger
	refreshBuffer  time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	refreshPath    string
	logoutPath     string
	guestPath      string

	mu    sync.RWMutex
	state State
	// generation changes on every Login and Logout so a refresh that started under an
	// earlier session cannot overwrite a later one.
	generation uint64

	flight singleflight.Group
}

func New(baseURL string, opts ...Option) (*Manager, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	m := &Manager{
		baseURL:        u,
		httpClient:     &http.Client{},
		logger:         zerolog.Nop(),
		refreshBuffer:  DefaultRefreshBuffer,
		refreshTimeout: DefaultRefreshTimeout,
		now:            time.Now,
		refreshPath:    DefaultRefreshPath,
		logoutPath:     DefaultLogoutPath,
		guestPath:      DefaultGuestPath,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		withJar := *m.httpClient
		withJar.Jar = jar
		m.httpClient = &withJar
	}
	return m, nil
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.state
	if st.User != nil {
		user := *st.User
		st.User = &user
	}
	return st
}

// HTTPClient returns the client carrying the session cookie jar.
func (m *Manager) HTTPClient() *http.Client {
	return m.httpClient
}

// URL resolves path against the base URL.
func (m *Manager) URL(path string) string {
	return m.baseURL.String() + path
}

// Login adopts a session payload the caller already holds.
func (m *Manager) Login(s Session) error {
	if s.AccessToken == "" {
		return &ValidationError{Field: "accessToken", Err: errMissing}
	}
	if s.User == nil || s.User.ID == "" {
		return &ValidationError{Field: "user", Err: errMissing}
	}
	m.mu.Lock()
	m.state = stateFromSession(s)
	m.generation++
	m.mu.Unlock()
	return nil
}

// Logout discards every token held locally.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.state = State{hydrated: true}
	m.generation++
	m.mu.Unlock()
}

// snapshot returns the state together with the generation it belongs to.
func (m *Manager) snapshot() (State, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.generation
}

// adopt installs a refreshed session unless the caller signed in or out since gen.
func (m *Manager) adopt(s Session, gen uint64) error {
	if s.AccessToken == "" {
		return &ValidationError{Field: "accessToken", Err: errMissing}
	}
	if s.User == nil || s.User.ID == "" {
		return &ValidationError{Field: "user", Err: errMissing}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return &RefreshTokenError{Err: ErrRefreshNotPermitted}
	}
	m.state = stateFromSession(s)
	m.generation++
	return nil
}

// logoutIf signs out only when the session is still the one from gen.
func (m *Manager) logoutIf(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return
	}
	m.state = State{hydrated: true}
	m.generation++
}

// HydrateFromSession adopts s, or signs out when s is nil.
func (m *Manager) HydrateFromSession(s *Session) error {
	if s == nil {
		m.Logout()
		return nil
	}
	return m.Login(*s)
}

// IsExpired reports whether the access token is missing or past its expiry.
func (m *Manager) IsExpired() bool {
	st := m.State()
	return st.AccessToken == "" || !m.now().Before(st.ExpiresAt)
}

// CheckAndAutoLogout signs out a signed-in state whose access token has expired and reports
// whether it did.
func (m *Manager) CheckAndAutoLogout() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status() != StatusAuthenticated || m.now().Before(m.state.ExpiresAt) {
		return false
	}
	m.logger.Info().Str("event", "auto_logout").Msg("access token expired, signing out")
	m.state = State{hydrated: true}
	m.generation++
	return true
}

// RefreshAccessToken rotates the refresh credential and adopts the new session. Guests and
// signed-out states fail with ErrRefreshNotPermitted without touching the network.
func (m *Manager) RefreshAccessToken(ctx context.Context) (Session, error) {
	return m.refresh(ctx, m.State().AccessToken)
}

// refresh joins or starts the single in-flight refresh. seen is the token the caller found
// stale; if another flight already replaced it with a fresh one, that session is reused.
func (m *Manager) refresh(ctx context.Context, seen string) (Session, error) {
	if !m.State().canRefresh() {
		return Session{}, &RefreshTokenError{Err: ErrRefreshNotPermitted}
	}

	ch := m.flight.DoChan(refreshFlightKey, func() (any, error) {
		st, gen := m.snapshot()
		if st.AccessToken != seen && st.AccessToken != "" && !m.needsRefresh(st) {
			return st.session(), nil
		}
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.doRefresh(flightCtx, st, gen)
	})

	select {
	case <-ctx.Done():
		return Session{}, &NetworkError{Op: "refresh", Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return Session{}, res.Err
		}
		return res.Val.(Session), nil
	}
}

func (m *Manager) doRefresh(ctx context.Context, st State, gen uint64) (Session, error) {
	if !st.canRefresh() {
		return Session{}, &RefreshTokenError{Err: ErrRefreshNotPermitted}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL(m.refreshPath), nil)
	if err != nil {
		return Session{}, &NetworkError{Op: "refresh", Err: err}
	}
	req.Header.Set(csrfHeader, st.RefreshCSRF)
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Warn().Err(err).Str("event", "refresh_failed").Msg("refresh request failed")
		return Session{}, &NetworkError{Op: "refresh", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		m.logger.Info().Int("status", resp.StatusCode).Str("event", "refresh_rejected").Msg("refresh rejected, signing out")
		m.logoutIf(gen)
		return Session{}, &RefreshTokenError{StatusCode: resp.StatusCode, Err: ErrRefreshRejected}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Session{}, &NetworkError{Op: "refresh", StatusCode: resp.StatusCode}
	}

	s, err := m.readSession(resp)
	if err != nil {
		return Session{}, err
	}
	if err := m.adopt(s, gen); err != nil {
		if errors.Is(err, ErrRefreshNotPermitted) {
			m.logger.Info().Str("event", "refresh_discarded").Msg("session changed during refresh, discarding result")
		}
		return Session{}, err
	}
	m.logger.Debug().Str("event", "refresh_succeeded").Time("expires_at", s.ExpiresAt).Msg("access token refreshed")
	return s, nil
}

func (m *Manager) readSession(resp *http.Response) (Session, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return Session{}, &NetworkError{Op: "read session", Err: err}
	}
	return NormalizeSession(body, m.now())
}

func (m *Manager) needsRefresh(st State) bool {
	return !st.ExpiresAt.IsZero() && !m.now().Add(m.refreshBuffer).Before(st.ExpiresAt)
}

// AccessToken returns a token fit to attach to a request, refreshing first when the current
// one is within the refresh buffer of expiry. It returns "" when signed out.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	st := m.State()
	if st.AccessToken == "" || !m.needsRefresh(st) || !st.canRefresh() {
		return st.AccessToken, nil
	}
	s, err := m.refresh(ctx, st.AccessToken)
	if err != nil {
		return "", err
	}
	return s.AccessToken, nil
}

// RenewAccessToken obtains a new access token after the server refused the current one:
// a refresh for signed-in users, a new guest token for guests.
func (m *Manager) RenewAccessToken(ctx context.Context) (string, error) {
	st := m.State()
	if st.User.IsGuest() {
		s, err := m.LoginAsGuest(ctx)
		if err != nil {
			return "", err
		}
		return s.AccessToken, nil
	}
	s, err := m.refresh(ctx, st.AccessToken)
	if err != nil {
		return "", err
	}
	return s.AccessToken, nil
}

// Do sends req with the current access token. A 401 triggers one refresh and one replay;
// a 403 is returned as AccessDeniedError.
func (m *Manager) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.GetBody == nil {
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, &NetworkError{Op: "read request body", Err: err}
		}
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		req.Body, _ = req.GetBody()
	}

	token, err := m.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := m.send(ctx, req, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && m.State().canRefresh() {
		drain(resp)
		s, err := m.refresh(ctx, token)
		if err != nil {
			return nil, err
		}
		if resp, err = m.send(ctx, req, s.AccessToken); err != nil {
			return nil, err
		}
	}

	if resp.StatusCode == http.StatusForbidden {
		drain(resp)
		return nil, &AccessDeniedError{StatusCode: resp.StatusCode, URL: req.URL.String()}
	}
	return resp, nil
}

func (m *Manager) send(ctx context.Context, req *http.Request, token string) (*http.Response, error) {
	out := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, &NetworkError{Op: "replay request body", Err: err}
		}
		out.Body = body
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := m.httpClient.Do(out)
	if err != nil {
		return nil, &NetworkError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	return resp, nil
}

// LoginAsGuest requests an anonymous access token and adopts it.
func (m *Manager) LoginAsGuest(ctx context.Context) (Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL(m.guestPath), nil)
	if err != nil {
		return Session{}, &NetworkError{Op: "guest login", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Session{}, &NetworkError{Op: "guest login", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Session{}, &NetworkError{Op: "guest login", StatusCode: resp.StatusCode}
	}

	s, err := m.readSession(resp)
	if err != nil {
		return Session{}, err
	}
	s.User.Role = RoleGuest
	s.RefreshCSRF = ""
	if err := m.Login(s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// SignOut revokes the refresh credential on the server, then signs out locally whatever the
// server said.
func (m *Manager) SignOut(ctx context.Context) error {
	st := m.State()
	defer m.Logout()

	if !st.canRefresh() {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL(m.logoutPath), nil)
	if err != nil {
		return &NetworkError{Op: "logout", Err: err}
	}
	req.Header.Set(csrfHeader, st.RefreshCSRF)
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: "logout", Err: err}
	}
	drain(resp)
	if resp.StatusCode >= 500 {
		return &NetworkError{Op: "logout", StatusCode: resp.StatusCode}
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPayloadBytes))
	_ = resp.Body.Close()
}
