package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-session-auth/refresh"
	"github.com/jrsteele09/go-session-auth/server/authflowrepo"
	"github.com/jrsteele09/go-session-auth/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// LoginHandler starts an authorization code flow with PKCE against the configured provider.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		oidcConfig, err := s.getOidcConfig(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("oidc login unavailable")
			writeJSONError(w, "login_unavailable", "Sign-in is not available", errorStatus(err))
			return
		}

		state := generateRandomString(32)
		nonce := generateRandomString(32)
		verifier := generateRandomString(48)

		if err := s.authState.Upsert(state, &authflowrepo.AuthFlowState{
			CodeVerifier: verifier,
			Nonce:        nonce,
			ReturnURL:    safeReturnURL(r.URL.Query().Get("returnTo")),
			CreatedAt:    time.Now(),
		}); err != nil {
			log.Error().Err(err).Msg("failed to store auth flow state")
			writeJSONError(w, "server_error", "Could not start sign-in", http.StatusInternalServerError)
			return
		}

		authURL := oidcConfig.OAuth2Config.AuthCodeURL(state,
			oidc.Nonce(nonce),
			oauth2.SetAuthURLParam("code_challenge", generateCodeChallenge(verifier)),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// OAuthCallbackHandler completes the code flow, starts a refresh session for the verified
// identity and hands the browser its refresh cookie.
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// r.FormValue works for both query params and POST form data
		state := r.FormValue("state")
		code := r.FormValue("code")
		errorParam := r.FormValue("error")
		errorDesc := r.FormValue("error_description")

		// Check for authorization errors
		if errorParam != "" {
			log.Info().Str("error", errorParam).Str("description", errorDesc).Msg("authorization failed at provider")
			writeJSONError(w, errorParam, "Authorization failed", http.StatusBadRequest)
			return
		}

		if code == "" || state == "" {
			writeJSONError(w, "invalid_request", "Missing code or state parameter", http.StatusBadRequest)
			return
		}

		authState, err := s.authState.Get(state)
		if err != nil || authState == nil {
			writeJSONError(w, "invalid_request", "Invalid state parameter", http.StatusBadRequest)
			return
		}

		// Clean up state after use
		if err := s.authState.Delete(state); err != nil {
			writeJSONError(w, "server_error", "Invalid state parameter", http.StatusInternalServerError)
			return
		}

		oidcConfig, err := s.getOidcConfig(r.Context())
		if err != nil {
			writeJSONError(w, "login_unavailable", "Sign-in is not available", errorStatus(err))
			return
		}

		// Exchange authorization code for tokens using standard oauth2 library
		oauth2Token, err := oidcConfig.OAuth2Config.Exchange(
			r.Context(),
			code,
			oauth2.SetAuthURLParam("code_verifier", authState.CodeVerifier),
		)
		if err != nil {
			log.Warn().Err(err).Msg("token exchange failed")
			writeJSONError(w, "invalid_grant", "Token exchange failed", http.StatusBadGateway)
			return
		}

		// Extract ID token and verify it
		rawIDToken, ok := oauth2Token.Extra("id_token").(string)
		if !ok {
			writeJSONError(w, "invalid_grant", "No ID token in response", http.StatusBadGateway)
			return
		}

		// Verify the ID token signature and claims (including nonce)
		idToken, err := oidcConfig.OidcVerifier.Verify(r.Context(), rawIDToken)
		if err != nil {
			log.Warn().Err(err).Msg("id token verification failed")
			writeJSONError(w, "invalid_grant", "ID token verification failed", http.StatusUnauthorized)
			return
		}

		// Extract and validate claims in one pass
		var claims struct {
			Nonce   string `json:"nonce"`
			Sub     string `json:"sub"`
			Email   string `json:"email"`
			Name    string `json:"name"`
			Picture string `json:"picture"`
		}
		if err := idToken.Claims(&claims); err != nil {
			writeJSONError(w, "invalid_grant", "Failed to extract claims", http.StatusBadGateway)
			return
		}

		// Validate nonce to prevent replay attacks
		if claims.Nonce != authState.Nonce {
			writeJSONError(w, "invalid_grant", "Invalid nonce", http.StatusUnauthorized)
			return
		}

		issued, err := s.sessions.Login(r.Context(), session.Principal{
			ID:    claims.Sub,
			Email: claims.Email,
			Name:  claims.Name,
			Image: claims.Picture,
			Role:  s.roleFor(claims.Email),
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to start session")
			writeJSONError(w, "server_error", "Could not start session", errorStatus(err))
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		s.SetRefreshCookie(w, issued.RefreshID, issued.RefreshExpiresAt)

		// Browser flows get the CSRF token in the fragment so it never reaches a server log.
		if authState.ReturnURL != "" {
			fragment := url.Values{"refreshCsrf": {issued.Payload.Security.RefreshCSRF}}.Encode()
			http.Redirect(w, r, authState.ReturnURL+"#"+fragment, http.StatusSeeOther)
			return
		}
		writeJSON(w, http.StatusOK, issued.Payload)
	}
}

func (s *Server) roleFor(email string) refresh.Role {
	if _, ok := s.adminEmails[strings.ToLower(strings.TrimSpace(email))]; ok && email != "" {
		return refresh.RoleAdmin
	}
	return refresh.RoleUser
}
