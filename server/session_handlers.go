package server

import (
	"net/http"
	"strconv"
	"strings"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/refresh"
	"github.com/jrsteele09/go-session-auth/session"
	"github.com/rs/zerolog/log"
)

// Refresh outcomes recorded in metrics.
const (
	outcomeSuccess       = "success"
	outcomeCSRFMissing   = "csrf_missing"
	outcomeCookieMissing = "cookie_missing"
	outcomeCSRFMismatch  = "csrf_mismatch"
	outcomeInvalid       = "invalid_session"
	outcomeUnavailable   = "unavailable"
)

// RefreshHandler rotates the refresh credential held in the cookie. The checks run in a fixed
// order (CSRF header, cookie, CSRF binding, stored session) and every rejection clears the cookie.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refreshID, err := s.checkRefreshRequest(r)
		if err != nil {
			s.rejectRefresh(w, err)
			return
		}

		hash := refresh.HashRefreshID(refreshID)
		record, err := s.registry.Validate(r.Context(), hash)
		if err != nil {
			if _, ok := refreshRejection(err); ok {
				log.Info().Str("event", "refresh_rejected").Str("hash", refresh.ShortHash(hash)).Err(err).Msg("refresh rejected")
				s.rejectRefresh(w, err)
				return
			}
			// The credential may still be good; keep the cookie so the client can retry.
			log.Error().Err(err).Str("hash", refresh.ShortHash(hash)).Msg("refresh validation failed")
			s.metrics.RefreshOutcome(outcomeUnavailable)
			writeJSONError(w, "temporarily_unavailable", "Session store unavailable", http.StatusServiceUnavailable)
			return
		}

		issued, err := s.sessions.Refresh(r.Context(), hash, record)
		if err != nil {
			log.Error().Err(err).Str("hash", refresh.ShortHash(hash)).Msg("refresh rotation failed")
			s.metrics.RefreshOutcome(outcomeUnavailable)
			writeJSONError(w, "temporarily_unavailable", "Could not rotate refresh session", http.StatusServiceUnavailable)
			return
		}

		s.metrics.RefreshOutcome(outcomeSuccess)
		s.SetRefreshCookie(w, issued.RefreshID, issued.RefreshExpiresAt)
		writeJSON(w, http.StatusOK, issued.Payload)
	}
}

// checkRefreshRequest returns the refresh credential from the cookie once the CSRF header is
// present and bound to it.
func (s *Server) checkRefreshRequest(r *http.Request) (string, error) {
	presented := strings.TrimSpace(r.Header.Get(RefreshCSRFHeader))
	if presented == "" {
		return "", autherrors.ErrCSRFMissing
	}
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		return "", autherrors.Wrapf(autherrors.ErrInvalidRefreshToken, "refresh cookie missing")
	}
	if err := s.binder.Check(cookie.Value, presented); err != nil {
		return "", err
	}
	return cookie.Value, nil
}

type rejection struct {
	outcome     string
	code        string
	description string
	status      int
}

// refreshRejection maps the errors that end a refresh with a cleared cookie.
func refreshRejection(err error) (rejection, bool) {
	switch {
	case autherrors.Is(err, autherrors.ErrCSRFMissing):
		return rejection{outcomeCSRFMissing, "csrf_missing", "Missing refresh CSRF token", http.StatusForbidden}, true
	case autherrors.Is(err, autherrors.ErrInvalidRefreshToken):
		return rejection{outcomeCookieMissing, "refresh_missing", "Missing refresh token", http.StatusUnauthorized}, true
	case autherrors.Is(err, autherrors.ErrCSRFMismatch):
		return rejection{outcomeCSRFMismatch, "csrf_mismatch", "Refresh CSRF token mismatch", http.StatusForbidden}, true
	case autherrors.Is(err, autherrors.ErrTokenRevoked),
		autherrors.Is(err, autherrors.ErrSessionNotFound),
		autherrors.Is(err, autherrors.ErrRefreshTokenExpired):
		return rejection{outcomeInvalid, "invalid_session", "Refresh session is no longer valid", http.StatusUnauthorized}, true
	}
	return rejection{}, false
}

func (s *Server) rejectRefresh(w http.ResponseWriter, err error) {
	rej, ok := refreshRejection(err)
	if !ok {
		rej = rejection{outcomeInvalid, "invalid_session", "Refresh session is no longer valid", http.StatusUnauthorized}
	}
	s.metrics.RefreshOutcome(rej.outcome)
	s.ClearRefreshCookie(w)
	writeJSONError(w, rej.code, rej.description, rej.status)
}

// LogoutHandler revokes the refresh credential when the caller proves it holds the matching
// CSRF token. The cookie is cleared either way.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.ClearRefreshCookie(w)

		cookie, err := r.Cookie(RefreshCookieName)
		if err != nil || cookie.Value == "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err := s.binder.Check(cookie.Value, strings.TrimSpace(r.Header.Get(RefreshCSRFHeader))); err != nil {
			log.Info().Err(err).Str("event", "logout_unverified").Msg("logout without matching csrf token, cookie cleared only")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if err := s.sessions.Logout(r.Context(), cookie.Value); err != nil {
			log.Error().Err(err).Msg("logout revocation failed")
			writeJSONError(w, "temporarily_unavailable", "Could not revoke session", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type sessionResponse struct {
	User      session.User `json:"user"`
	ExpiresAt int64        `json:"expiresAt"` // epoch ms
}

// SessionHandler describes the caller's access token.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeJSONError(w, "unauthorized", "No session", http.StatusUnauthorized)
			return
		}
		resp := sessionResponse{
			User: session.User{
				ID:    claims.Subject,
				Email: claims.Email,
				Name:  claims.Name,
				Image: claims.Picture,
				Role:  refresh.Role(claims.Role),
			},
		}
		if claims.ExpiresAt != nil {
			resp.ExpiresAt = claims.ExpiresAt.UnixMilli()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// GuestHandler issues an anonymous access token. Guests never receive a refresh cookie.
func (s *Server) GuestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ok, retryAfter := s.guestLimiter.Allow(clientKey(r)); !ok {
			s.metrics.GuestTokenIssued("rate_limited")
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeJSONError(w, "rate_limited", "Too many guest sessions, try again later", http.StatusTooManyRequests)
			return
		}

		guest, err := s.sessions.IssueGuest(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("guest token issue failed")
			writeJSONError(w, "server_error", "Could not issue guest token", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, guest)
	}
}

// errorStatus maps domain errors onto HTTP statuses for handlers that surface them directly.
func errorStatus(err error) int {
	switch {
	case autherrors.Is(err, autherrors.ErrInvalidRequest), autherrors.Is(err, autherrors.ErrGuestSession):
		return http.StatusBadRequest
	case autherrors.Is(err, autherrors.ErrUnsupported):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
