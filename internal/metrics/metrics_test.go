package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-session-auth/internal/metrics"
	"github.com/stretchr/testify/require"
)

func TestCountersAreExposed(t *testing.T) {
	m := metrics.New("rag", "auth")
	m.RevocationRecorded("rotation")
	m.RevocationRecorded("rotation")
	m.RevocationRecorded("explicit")
	m.GuestTokenIssued("issued")
	m.RefreshOutcome("success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `rag_auth_refresh_revocations_total{reason="rotation"} 2`)
	require.Contains(t, string(body), `rag_auth_refresh_revocations_total{reason="explicit"} 1`)
	require.Contains(t, string(body), `rag_auth_guest_tokens_issued_total{status="issued"} 1`)
	require.Contains(t, string(body), `rag_auth_refresh_requests_total{outcome="success"} 1`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.RevocationRecorded("explicit")
	m.GuestTokenIssued("issued")
	m.RefreshOutcome("success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
