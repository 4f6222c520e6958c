package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-auth/csrf"
	"github.com/jrsteele09/go-session-auth/internal/config"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/internal/metrics"
	"github.com/jrsteele09/go-session-auth/jobs"
	"github.com/jrsteele09/go-session-auth/refresh"
	"github.com/jrsteele09/go-session-auth/refresh/memstore"
	"github.com/jrsteele09/go-session-auth/session"
	"github.com/jrsteele09/go-session-auth/timeline"
	"github.com/jrsteele09/go-session-auth/token"
	"github.com/stretchr/testify/require"
)

type testFixture struct {
	server   *Server
	registry *refresh.Registry
	binder   *csrf.Binder
	signer   *token.HMACSigner
	sessions *session.Service
	timeline *timeline.MemoryStore
	jobs     *jobs.Registry
	metrics  *metrics.Metrics
}

func setupTestServer(t *testing.T) *testFixture {
	t.Helper()
	t.Setenv("ENV", "TEST")
	t.Setenv("DOTENV_FILE", "does-not-exist.env")
	t.Setenv("GUEST_SESSION_RATE_LIMIT", "2/minute")
	t.Setenv("ADMIN_EMAILS", "admin@example.com")
	t.Setenv("ENABLE_PROMETHEUS_METRICS", "true")

	binder, err := csrf.New("csrf-secret")
	require.NoError(t, err)
	signer, err := token.NewHMACSigner("jwt-secret", "rag-recommender", "rag-recommender")
	require.NoError(t, err)
	m := metrics.New("test", "auth")
	registry := refresh.NewRegistry(memstore.New(), binder, refresh.Options{SessionTTL: time.Hour, Metrics: m})
	sessions := session.NewService(registry, signer, session.Config{
		AccessTokenTTL: 5 * time.Minute,
		GuestTokenTTL:  10 * time.Minute,
		Metrics:        m,
	})
	tl := timeline.NewMemoryStore()
	jobRegistry := jobs.NewRegistry()

	srv, err := New(config.New(), Deps{
		Sessions:  sessions,
		Registry:  registry,
		Binder:    binder,
		Signer:    signer,
		Timeline:  tl,
		Jobs:      jobRegistry,
		Metrics:   m,
		StoreKind: "memory",
	})
	require.NoError(t, err)
	srv.pollInterval = 10 * time.Millisecond

	return &testFixture{
		server:   srv,
		registry: registry,
		binder:   binder,
		signer:   signer,
		sessions: sessions,
		timeline: tl,
		jobs:     jobRegistry,
		metrics:  m,
	}
}

func (f *testFixture) login(t *testing.T, role refresh.Role) *session.Issued {
	t.Helper()
	issued, err := f.sessions.Login(context.Background(), session.Principal{
		ID:    "user-1",
		Email: "user@example.com",
		Role:  role,
	})
	require.NoError(t, err)
	return issued
}

func (f *testFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func refreshRequest(refreshID, csrfToken string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, RouteAuthRefresh, nil)
	if refreshID != "" {
		req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: refreshID})
	}
	if csrfToken != "" {
		req.Header.Set(RefreshCSRFHeader, csrfToken)
	}
	return req
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == RefreshCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", RefreshCookieName)
	return nil
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestRefresh_RotatesCredential(t *testing.T) {
	f := setupTestServer(t)
	issued := f.login(t, refresh.RoleUser)

	rec := f.do(refreshRequest(issued.RefreshID, issued.Payload.Security.RefreshCSRF))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	payload := decodeBody[session.Payload](t, rec)
	require.Equal(t, "user-1", payload.User.ID)
	require.NotEmpty(t, payload.AccessToken)
	require.NotEmpty(t, payload.Security.RefreshCSRF)
	require.NotEqual(t, issued.Payload.Security.RefreshCSRF, payload.Security.RefreshCSRF)
	require.NotNil(t, payload.Refresh)

	cookie := refreshCookie(t, rec)
	require.NotEqual(t, issued.RefreshID, cookie.Value)
	require.True(t, cookie.HttpOnly)
	require.True(t, cookie.Secure)
	require.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	require.Equal(t, "/", cookie.Path)
	require.InDelta(t, time.Hour.Seconds(), float64(cookie.MaxAge), 5)
	require.True(t, f.binder.Verify(cookie.Value, payload.Security.RefreshCSRF))

	claims, err := f.signer.Parse(payload.AccessToken)
	require.NoError(t, err)
	require.Equal(t, refresh.HashRefreshID(cookie.Value), claims.RefreshHash)

	revoked, err := f.registry.IsRevoked(context.Background(), issued.RefreshHash)
	require.NoError(t, err)
	require.True(t, revoked)

	record, err := f.registry.Get(context.Background(), refresh.HashRefreshID(cookie.Value))
	require.NoError(t, err)
	require.Equal(t, int64(1), record.Version)
}

func TestRefresh_ReplayOfRotatedCredentialFails(t *testing.T) {
	f := setupTestServer(t)
	issued := f.login(t, refresh.RoleUser)

	first := f.do(refreshRequest(issued.RefreshID, issued.Payload.Security.RefreshCSRF))
	require.Equal(t, http.StatusOK, first.Code)

	replay := f.do(refreshRequest(issued.RefreshID, issued.Payload.Security.RefreshCSRF))
	require.Equal(t, http.StatusUnauthorized, replay.Code)
	cleared := refreshCookie(t, replay)
	require.Empty(t, cleared.Value)
	require.Less(t, cleared.MaxAge, 0)
}

func TestRefresh_Gates(t *testing.T) {
	f := setupTestServer(t)
	issued := f.login(t, refresh.RoleUser)
	other := f.login(t, refresh.RoleUser)

	tests := []struct {
		name      string
		refreshID string
		csrf      string
		status    int
		errorCode string
	}{
		{name: "missing csrf header", refreshID: issued.RefreshID, status: http.StatusForbidden, errorCode: "csrf_missing"},
		{name: "missing cookie", csrf: issued.Payload.Security.RefreshCSRF, status: http.StatusUnauthorized, errorCode: "refresh_missing"},
		{name: "csrf bound to another credential", refreshID: issued.RefreshID, csrf: other.Payload.Security.RefreshCSRF, status: http.StatusForbidden, errorCode: "csrf_mismatch"},
		{name: "truncated csrf", refreshID: issued.RefreshID, csrf: issued.Payload.Security.RefreshCSRF[:10], status: http.StatusForbidden, errorCode: "csrf_mismatch"},
		{name: "unknown credential", refreshID: "unknown", csrf: f.binder.Token("unknown"), status: http.StatusUnauthorized, errorCode: "invalid_session"},
		{name: "neither header nor cookie", status: http.StatusForbidden, errorCode: "csrf_missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(refreshRequest(tt.refreshID, tt.csrf))
			require.Equal(t, tt.status, rec.Code)
			body := decodeBody[map[string]string](t, rec)
			require.Equal(t, tt.errorCode, body["error"])
			cleared := refreshCookie(t, rec)
			require.Empty(t, cleared.Value)
			require.Less(t, cleared.MaxAge, 0)
		})
	}

	// None of the rejected attempts touched the valid session.
	rec := f.do(refreshRequest(issued.RefreshID, issued.Payload.Security.RefreshCSRF))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshRejection(t *testing.T) {
	tests := []struct {
		err      error
		rejected bool
		code     string
		status   int
	}{
		{err: autherrors.ErrCSRFMissing, rejected: true, code: "csrf_missing", status: http.StatusForbidden},
		{err: autherrors.ErrCSRFMismatch, rejected: true, code: "csrf_mismatch", status: http.StatusForbidden},
		{err: autherrors.Wrapf(autherrors.ErrInvalidRefreshToken, "cookie"), rejected: true, code: "refresh_missing", status: http.StatusUnauthorized},
		{err: autherrors.ErrTokenRevoked, rejected: true, code: "invalid_session", status: http.StatusUnauthorized},
		{err: autherrors.ErrRefreshTokenExpired, rejected: true, code: "invalid_session", status: http.StatusUnauthorized},
		{err: fmt.Errorf("load refresh session: %w", errors.New("connection refused"))},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rej, ok := refreshRejection(tt.err)
			require.Equal(t, tt.rejected, ok)
			require.Equal(t, tt.code, rej.code)
			require.Equal(t, tt.status, rej.status)
		})
	}
}

func TestRefresh_RevokedSession(t *testing.T) {
	f := setupTestServer(t)
	issued := f.login(t, refresh.RoleUser)
	require.NoError(t, f.registry.Revoke(context.Background(), issued.RefreshHash, 0))

	rec := f.do(refreshRequest(issued.RefreshID, issued.Payload.Security.RefreshCSRF))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, refreshCookie(t, rec).Value)
}

func TestLogout_RevokesSession(t *testing.T) {
	f := setupTestServer(t)
	issued := f.login(t, refresh.RoleUser)

	req := httptest.NewRequest(http.MethodPost, RouteAuthLogout, nil)
	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: issued.RefreshID})
	req.Header.Set(RefreshCSRFHeader, issued.Payload.Security.RefreshCSRF)
	rec := f.do(req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Less(t, refreshCookie(t, rec).MaxAge, 0)

	revoked, err := f.registry.IsRevoked(context.Background(), issued.RefreshHash)
	require.NoError(t, err)
	require.True(t, revoked)
}

func TestLogout_WithoutCSRFOnlyClearsCookie(t *testing.T) {
	f := setupTestServer(t)
	issued := f.login(t, refresh.RoleUser)

	req := httptest.NewRequest(http.MethodPost, RouteAuthLogout, nil)
	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: issued.RefreshID})
	rec := f.do(req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Less(t, refreshCookie(t, rec).MaxAge, 0)

	revoked, err := f.registry.IsRevoked(context.Background(), issued.RefreshHash)
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestGuest_IssuesTokenWithoutCookie(t *testing.T) {
	f := setupTestServer(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, RouteAuthGuest, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Result().Cookies())

	guest := decodeBody[session.GuestToken](t, rec)
	require.True(t, strings.HasPrefix(guest.User.ID, token.GuestSubjectPrefix))
	require.Equal(t, refresh.RoleGuest, guest.User.Role)
	require.Greater(t, guest.ExpiresAt, time.Now().UnixMilli())

	claims, err := f.signer.Parse(guest.AccessToken)
	require.NoError(t, err)
	require.True(t, claims.IsGuest())
	require.Empty(t, claims.RefreshHash)
}

func TestGuest_RateLimited(t *testing.T) {
	f := setupTestServer(t)

	for i := 0; i < 2; i++ {
		rec := f.do(httptest.NewRequest(http.MethodPost, RouteAuthGuest, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := f.do(httptest.NewRequest(http.MethodPost, RouteAuthGuest, nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodPost, RouteAuthGuest, nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, http.StatusOK, f.do(req).Code)
}

func TestRequireAuth(t *testing.T) {
	f := setupTestServer(t)
	issued := f.login(t, refresh.RoleUser)

	get := func(bearer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, RouteAuthSession, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		return f.do(req)
	}

	require.Equal(t, http.StatusUnauthorized, get("").Code)
	require.Equal(t, http.StatusUnauthorized, get("not-a-jwt").Code)

	rec := get(issued.Payload.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[sessionResponse](t, rec)
	require.Equal(t, "user-1", body.User.ID)
	require.Equal(t, refresh.RoleUser, body.User.Role)
	require.Equal(t, issued.Payload.ExpiresAt/1000, body.ExpiresAt/1000)

	// Rotating the refresh credential retires access tokens minted for it.
	rotated := f.do(refreshRequest(issued.RefreshID, issued.Payload.Security.RefreshCSRF))
	require.Equal(t, http.StatusOK, rotated.Code)
	require.Equal(t, http.StatusUnauthorized, get(issued.Payload.AccessToken).Code)

	payload := decodeBody[session.Payload](t, rotated)
	require.Equal(t, http.StatusOK, get(payload.AccessToken).Code)
}

func TestRequireAdmin(t *testing.T) {
	f := setupTestServer(t)
	user := f.login(t, refresh.RoleUser)
	admin := f.login(t, refresh.RoleAdmin)

	post := func(bearer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/jobs/q1/events", strings.NewReader(`{"step":"search.started","query":"laptops"}`))
		req.Header.Set("Authorization", "Bearer "+bearer)
		return f.do(req)
	}

	require.Equal(t, http.StatusForbidden, post(user.Payload.AccessToken).Code)
	require.Equal(t, http.StatusAccepted, post(admin.Payload.AccessToken).Code)

	job, ok := f.jobs.Get("q1")
	require.True(t, ok)
	require.Equal(t, jobs.StatusPending, job.Status)
}

func TestSearchResult(t *testing.T) {
	f := setupTestServer(t)
	issued := f.login(t, refresh.RoleUser)
	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/search/result/q1", nil)
		req.Header.Set("Authorization", "Bearer "+issued.Payload.AccessToken)
		return f.do(req)
	}

	require.Equal(t, http.StatusNotFound, get().Code)

	_, err := f.server.Tracker().Start(context.Background(), "q1", "laptops", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, get().Code)

	_, err = f.server.Tracker().Complete(context.Background(), "q1", map[string]any{"items": []any{"a"}})
	require.NoError(t, err)
	rec := get()
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[jobResponse](t, rec)
	require.Equal(t, jobs.StatusCompleted, body.Status)
	require.Equal(t, []any{"a"}, body.Result["items"])
}

func TestTimeline_StreamsUntilTerminal(t *testing.T) {
	f := setupTestServer(t)
	issued := f.login(t, refresh.RoleUser)
	ctx := context.Background()

	_, err := f.server.Tracker().Start(ctx, "q1", "laptops", nil)
	require.NoError(t, err)
	retrieved, err := f.server.Tracker().Step(ctx, "q1", "retrieval.done", map[string]any{"count": 3})
	require.NoError(t, err)
	_, err = f.server.Tracker().Complete(ctx, "q1", map[string]any{"ok": true})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/timeline/q1", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Payload.AccessToken)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache, no-transform", rec.Header().Get("Cache-Control"))
	require.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	body := rec.Body.String()
	require.Equal(t, 3, strings.Count(body, "\n\n"))
	require.Contains(t, body, "event: search.started\n")
	require.Contains(t, body, "id: "+retrieved.StreamID+"\nevent: retrieval.done\n")
	require.Contains(t, body, "event: response.completed\n")

	// Resuming after the intermediate step only replays the terminal event.
	req = httptest.NewRequest(http.MethodGet, "/timeline/q1", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Payload.AccessToken)
	req.Header.Set("Last-Event-ID", retrieved.StreamID)
	body = f.do(req).Body.String()
	require.NotContains(t, body, "search.started")
	require.NotContains(t, body, "retrieval.done")
	require.Contains(t, body, "event: response.completed\n")
}

func TestTimeline_RejectsMalformedResumeCursor(t *testing.T) {
	f := setupTestServer(t)
	issued := f.login(t, refresh.RoleUser)
	ctx := context.Background()

	_, err := f.server.Tracker().Start(ctx, "q1", "laptops", nil)
	require.NoError(t, err)
	_, err = f.server.Tracker().Complete(ctx, "q1", map[string]any{"ok": true})
	require.NoError(t, err)

	for name, target := range map[string]string{
		"header": "/timeline/q1",
		"query":  "/timeline/q1?last_event_id=12-x",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, target, nil)
			req.Header.Set("Authorization", "Bearer "+issued.Payload.AccessToken)
			if name == "header" {
				req.Header.Set("Last-Event-ID", "not-an-id")
			}

			done := make(chan *httptest.ResponseRecorder, 1)
			go func() { done <- f.do(req) }()

			select {
			case rec := <-done:
				require.Equal(t, http.StatusBadRequest, rec.Code)
				require.Equal(t, "invalid_request", decodeBody[map[string]string](t, rec)["error"])
			case <-time.After(2 * time.Second):
				t.Fatal("stream held open for a malformed cursor")
			}
		})
	}
}

func TestTimeline_StopsWhenClientLeaves(t *testing.T) {
	f := setupTestServer(t)
	issued := f.login(t, refresh.RoleUser)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/timeline/q-idle", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+issued.Payload.AccessToken)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.do(req)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after the client went away")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := setupTestServer(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, RouteHealth, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "memory", decodeBody[map[string]string](t, rec)["refreshStore"])

	issued := f.login(t, refresh.RoleUser)
	f.do(refreshRequest(issued.RefreshID, issued.Payload.Security.RefreshCSRF))

	rec = f.do(httptest.NewRequest(http.MethodGet, RouteMetrics, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `test_auth_refresh_revocations_total{reason="rotation"} 1`)
}

func TestCorsPreflight(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com")
	f := setupTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, RouteAuthRefresh, nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Refresh-CSRF")
}

func TestLogin_UnconfiguredProvider(t *testing.T) {
	f := setupTestServer(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, RouteAuthLogin, nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestParseRateLimit(t *testing.T) {
	limit, err := parseRateLimit("5/minute")
	require.NoError(t, err)
	require.Equal(t, 5, limit.burst)
	require.Equal(t, 12*time.Second, limit.every)

	for _, bad := range []string{"", "5", "x/minute", "0/minute", "5/fortnight"} {
		_, err := parseRateLimit(bad)
		require.Error(t, err, bad)
	}
}

func TestSafeReturnURL(t *testing.T) {
	require.Equal(t, "/search?q=1", safeReturnURL("/search?q=1"))
	require.Empty(t, safeReturnURL("https://evil.example.com"))
	require.Empty(t, safeReturnURL("//evil.example.com"))
	require.Empty(t, safeReturnURL(""))
}
