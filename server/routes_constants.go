package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Session Routes
	RouteAuthRefresh = "/api/auth/refresh"
	RouteAuthLogout  = "/api/auth/logout"
	RouteAuthSession = "/api/auth/session"
	RouteAuthGuest   = "/auth/guest"

	// OIDC Login Routes
	RouteAuthLogin = "/auth/login"
	RouteCallback  = "/auth/callback"

	// Search progress Routes
	RouteTimeline     = "/timeline/{queryHash}"
	RouteSearchResult = "/search/result/{queryHash}"

	// Admin Routes
	RouteAdminJobEvents = "/api/admin/jobs/{queryHash}/events"

	// Operational Routes
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)

const (
	// RefreshCookieName holds the raw refresh credential. The __Host- prefix pins it to this
	// origin, path "/" and Secure.
	RefreshCookieName = "__Host-rag-refresh"
	// RefreshCSRFHeader carries the CSRF token bound to the refresh cookie.
	RefreshCSRFHeader = "x-refresh-csrf"
)
