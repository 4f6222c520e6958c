package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/refresh"
	"github.com/jrsteele09/go-session-auth/token"
	"github.com/rs/zerolog/log"
)

// Principal is an authenticated identity about to be given a session.
type Principal struct {
	ID    string
	Email string
	Name  string
	Image string
	Role  refresh.Role
}

// User is the public view of the session owner.
type User struct {
	ID    string       `json:"id"`
	Email string       `json:"email,omitempty"`
	Name  string       `json:"name,omitempty"`
	Image string       `json:"image,omitempty"`
	Role  refresh.Role `json:"role"`
}

type Security struct {
	RefreshCSRF string `json:"refreshCsrf"`
}

type RefreshInfo struct {
	ExpiresAt int64 `json:"expiresAt"` // epoch ms
}

// Payload is the JSON body returned by login and refresh.
type Payload struct {
	User        User         `json:"user"`
	AccessToken string       `json:"accessToken"`
	ExpiresAt   int64        `json:"expiresAt"` // epoch ms
	Security    Security     `json:"security"`
	Refresh     *RefreshInfo `json:"refresh,omitempty"`
}

// Issued is a freshly minted session. RefreshID is the raw credential destined for the cookie
// and must not be logged or written anywhere else.
type Issued struct {
	Payload          Payload
	RefreshID        string
	RefreshHash      string
	RefreshExpiresAt time.Time
}

// GuestToken is the response to an anonymous session request. Guests never get a refresh credential.
type GuestToken struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt"` // epoch ms
	User        User   `json:"user"`
}

// GuestRecorder counts guest token requests by outcome.
type GuestRecorder interface {
	GuestTokenIssued(status string)
}

type nopGuestRecorder struct{}

func (nopGuestRecorder) GuestTokenIssued(string) {}

// Config sets the lifetimes of minted access tokens.
type Config struct {
	AccessTokenTTL time.Duration
	GuestTokenTTL  time.Duration
	Metrics        GuestRecorder
}

// Service mints access tokens and drives refresh rotation through the registry.
type Service struct {
	registry  *refresh.Registry
	signer    *token.HMACSigner
	accessTTL time.Duration
	guestTTL  time.Duration
	metrics   GuestRecorder
}

func NewService(registry *refresh.Registry, signer *token.HMACSigner, cfg Config) *Service {
	s := &Service{
		registry:  registry,
		signer:    signer,
		accessTTL: cfg.AccessTokenTTL,
		guestTTL:  cfg.GuestTokenTTL,
		metrics:   cfg.Metrics,
	}
	if s.accessTTL <= 0 {
		s.accessTTL = 15 * time.Minute
	}
	if s.guestTTL <= 0 {
		s.guestTTL = 10 * time.Minute
	}
	if s.metrics == nil {
		s.metrics = nopGuestRecorder{}
	}
	return s
}

// Login starts a new session (version 0) for p.
func (s *Service) Login(ctx context.Context, p Principal) (*Issued, error) {
	if p.ID == "" {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidRequest, "login: empty subject")
	}
	if p.Role == "" {
		p.Role = refresh.RoleUser
	}
	if p.Role == refresh.RoleGuest || !p.Role.Valid() {
		return nil, autherrors.Wrapf(autherrors.ErrGuestSession, "login: role %q", p.Role)
	}

	issued, err := s.issue(ctx, p, uuid.NewString(), 0, "")
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	log.Info().Str("event", "session_started").Str("user", p.ID).Str("hash", refresh.ShortHash(issued.RefreshHash)).Msg("session started")
	return issued, nil
}

// Refresh rotates the session behind current: a new credential is registered with the next
// version and the current hash is revoked in the same step.
func (s *Service) Refresh(ctx context.Context, currentHash string, current *refresh.Record) (*Issued, error) {
	if current == nil {
		return nil, autherrors.ErrSessionNotFound
	}
	p := Principal{
		ID:    current.UserID,
		Email: current.Email,
		Name:  current.Name,
		Role:  current.Role,
	}
	issued, err := s.issue(ctx, p, current.SessionID, current.Version+1, currentHash)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	return issued, nil
}

// Logout revokes the refresh credential. Unknown or empty credentials are ignored.
func (s *Service) Logout(ctx context.Context, refreshID string) error {
	if refreshID == "" {
		return nil
	}
	return s.registry.Revoke(ctx, refresh.HashRefreshID(refreshID), 0)
}

// IssueGuest mints a short lived anonymous token. The registry is never consulted.
func (s *Service) IssueGuest(_ context.Context) (*GuestToken, error) {
	subject := token.GuestSubjectPrefix + uuid.NewString()
	raw, expiresAt, err := s.signer.Sign(token.Claims{
		Role:             string(refresh.RoleGuest),
		SessionID:        subject,
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	}, s.guestTTL)
	if err != nil {
		s.metrics.GuestTokenIssued("error")
		return nil, fmt.Errorf("issue guest token: %w", err)
	}
	s.metrics.GuestTokenIssued("issued")
	return &GuestToken{
		AccessToken: raw,
		ExpiresAt:   expiresAt.UnixMilli(),
		User:        User{ID: subject, Role: refresh.RoleGuest},
	}, nil
}

func (s *Service) issue(ctx context.Context, p Principal, sessionID string, version int64, previousHash string) (*Issued, error) {
	refreshID, err := refresh.NewRefreshID()
	if err != nil {
		return nil, err
	}

	reg, err := s.registry.Register(ctx, refresh.RegisterParams{
		RefreshID:    refreshID,
		UserID:       p.ID,
		Role:         p.Role,
		SessionID:    sessionID,
		Email:        p.Email,
		Name:         p.Name,
		IssuedAt:     s.registry.Now(),
		Version:      version,
		PreviousHash: previousHash,
	})
	if err != nil {
		return nil, err
	}

	access, accessExpiresAt, err := s.signer.Sign(token.Claims{
		Role:             string(p.Role),
		Email:            p.Email,
		Name:             p.Name,
		Picture:          p.Image,
		RefreshHash:      reg.Hash,
		SessionID:        sessionID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: p.ID},
	}, s.accessTTL)
	if err != nil {
		return nil, err
	}

	refreshExpiresAt := reg.Record.ExpiresAtTime()
	return &Issued{
		Payload: Payload{
			User:        User{ID: p.ID, Email: p.Email, Name: p.Name, Image: p.Image, Role: p.Role},
			AccessToken: access,
			ExpiresAt:   accessExpiresAt.UnixMilli(),
			Security:    Security{RefreshCSRF: reg.CSRFToken},
			Refresh:     &RefreshInfo{ExpiresAt: refreshExpiresAt.UnixMilli()},
		},
		RefreshID:        refreshID,
		RefreshHash:      reg.Hash,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}
