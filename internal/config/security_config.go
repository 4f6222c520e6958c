package config

import "strings"

type SecurityConfig interface {
	GetRefreshCSRFSecret() string
	GetJWTSecret() string
	GetJWTIssuer() string
	GetJWTAudience() string
	GetSecureCookies() bool
	GetGuestRateLimit() string
	GetAdminEmails() map[string]struct{}
}

type Security struct{}

var _ SecurityConfig = Security{}

func (Security) GetRefreshCSRFSecret() string {
	return GetFirstEnv("REFRESH_CSRF_SECRET")
}

// GetJWTSecret falls back to NEXTAUTH_SECRET so deployments sharing a secret with the web tier keep working.
func (Security) GetJWTSecret() string {
	return GetFirstEnv("APP_JWT_SECRET", "NEXTAUTH_SECRET")
}

func (Security) GetJWTIssuer() string {
	return GetEnv("APP_JWT_ISSUER", "rag-recommender")
}

func (Security) GetJWTAudience() string {
	return GetEnv("APP_JWT_AUDIENCE", "rag-recommender")
}

// GetSecureCookies must stay true outside local HTTP development: __Host- cookies are rejected without Secure.
func (Security) GetSecureCookies() bool {
	return GetBoolEnv("SECURE_COOKIES", true)
}

func (Security) GetGuestRateLimit() string {
	return GetEnv("GUEST_SESSION_RATE_LIMIT", "5/minute")
}

func (Security) GetAdminEmails() map[string]struct{} {
	admins := make(map[string]struct{})
	for _, email := range GetListEnv("ADMIN_EMAILS") {
		admins[strings.ToLower(email)] = nullValue{}
	}
	return admins
}
