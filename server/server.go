package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-session-auth/csrf"
	"github.com/jrsteele09/go-session-auth/internal/config"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/internal/metrics"
	"github.com/jrsteele09/go-session-auth/jobs"
	"github.com/jrsteele09/go-session-auth/refresh"
	"github.com/jrsteele09/go-session-auth/server/authflowrepo"
	"github.com/jrsteele09/go-session-auth/session"
	"github.com/jrsteele09/go-session-auth/timeline"
	"github.com/jrsteele09/go-session-auth/token"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultPollInterval      = 500 * time.Millisecond
)

type OidcConfig struct {
	OidcProvider *oidc.Provider
	OAuth2Config *oauth2.Config
	OidcVerifier *oidc.IDTokenVerifier
}

// Deps are the collaborators the HTTP layer routes requests to. Sessions, Registry, Binder and
// Signer are required.
type Deps struct {
	Sessions  *session.Service
	Registry  *refresh.Registry
	Binder    *csrf.Binder
	Signer    *token.HMACSigner
	Timeline  timeline.Store
	Jobs      *jobs.Registry
	AuthState authflowrepo.Repo
	Metrics   *metrics.Metrics
	// StoreKind names the refresh backend in health output.
	StoreKind string
}

type Server struct {
	env       string // Environment (e.g., "DEV", "PROD")
	mux       *http.ServeMux
	routes    []string
	config    config.Config
	sessions  *session.Service
	registry  *refresh.Registry
	binder    *csrf.Binder
	signer    *token.HMACSigner
	timeline  timeline.Store
	jobs      *jobs.Registry
	tracker   *jobs.Tracker
	authState authflowrepo.Repo
	metrics   *metrics.Metrics
	storeKind string

	guestLimiter  *rateLimiter
	secureCookies bool
	adminEmails   map[string]struct{}

	heartbeatInterval time.Duration
	pollInterval      time.Duration

	oidc     *OidcConfig
	oidcLock sync.Mutex
}

func New(config config.Config, deps Deps) (*Server, error) {
	if deps.Sessions == nil || deps.Registry == nil || deps.Binder == nil || deps.Signer == nil {
		return nil, fmt.Errorf("[Server New] sessions, registry, binder and signer are required: %w", autherrors.ErrInvalidRequest)
	}
	if deps.Timeline == nil {
		deps.Timeline = timeline.NewMemoryStore()
	}
	if deps.Jobs == nil {
		deps.Jobs = jobs.NewRegistry()
	}
	if deps.AuthState == nil {
		deps.AuthState = authflowrepo.NewInMemoryRepo(config.GetAuthFlowTimeout())
	}

	limit, err := parseRateLimit(config.GetGuestRateLimit())
	if err != nil {
		log.Warn().Err(err).Str("limit", config.GetGuestRateLimit()).Msg("invalid guest rate limit, using default")
		limit, _ = parseRateLimit(defaultGuestRateLimit)
	}

	s := &Server{
		env:               config.GetEnv(),
		mux:               http.NewServeMux(),
		config:            config,
		sessions:          deps.Sessions,
		registry:          deps.Registry,
		binder:            deps.Binder,
		signer:            deps.Signer,
		timeline:          deps.Timeline,
		jobs:              deps.Jobs,
		tracker:           jobs.NewTracker(deps.Jobs, deps.Timeline),
		authState:         deps.AuthState,
		metrics:           deps.Metrics,
		storeKind:         deps.StoreKind,
		guestLimiter:      newRateLimiter(limit),
		secureCookies:     config.GetSecureCookies(),
		adminEmails:       config.GetAdminEmails(),
		heartbeatInterval: defaultHeartbeatInterval,
		pollInterval:      defaultPollInterval,
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Tracker returns the job tracker producers publish progress through.
func (s *Server) Tracker() *jobs.Tracker {
	return s.tracker
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	displayMethod := methodColor(method) + fmt.Sprintf(" %-7s", method) + ResetColor
	log.Debug().Msgf("[%-19s] %s", displayMethod, path)
}

// getOidcConfig discovers the identity provider on first use. Discovery failures are not
// cached so a provider that comes up later is picked up.
func (s *Server) getOidcConfig(ctx context.Context) (*OidcConfig, error) {
	s.oidcLock.Lock()
	defer s.oidcLock.Unlock()
	if s.oidc != nil {
		return s.oidc, nil
	}

	issuerURL := s.config.GetOIDCIssuerURL()
	clientID := s.config.GetOIDCClientID()
	if issuerURL == "" || clientID == "" {
		return nil, fmt.Errorf("oidc login is not configured: %w", autherrors.ErrUnsupported)
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	s.oidc = &OidcConfig{
		OidcProvider: provider,
		OAuth2Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: s.config.GetOIDCClientSecret(),
			Endpoint:     provider.Endpoint(),
			RedirectURL:  s.config.GetOIDCRedirectURL(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		OidcVerifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}
	return s.oidc, nil
}
