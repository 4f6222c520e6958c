package refresh

import (
	"context"
	"fmt"
	"time"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/rs/zerolog/log"
)

// Revocation reasons recorded in metrics.
const (
	ReasonRotation = "rotation"
	ReasonExplicit = "explicit"
	ReasonExpired  = "expired"
)

const (
	defaultSessionTTL   = 7 * 24 * time.Hour
	defaultBlacklistTTL = 2 * 24 * time.Hour
)

// Binder derives the CSRF token bound to a refresh credential.
type Binder interface {
	Token(refreshID string) string
}

// RevocationRecorder counts revocations by reason.
type RevocationRecorder interface {
	RevocationRecorded(reason string)
}

// Options configures a Registry. Zero values take the defaults.
type Options struct {
	SessionTTL   time.Duration
	BlacklistTTL time.Duration
	Metrics      RevocationRecorder
	Now          func() time.Time
}

// Registry owns the refresh rotation protocol on top of a Store.
type Registry struct {
	store        Store
	binder       Binder
	sessionTTL   time.Duration
	blacklistTTL time.Duration
	metrics      RevocationRecorder
	now          func() time.Time
}

// RegisterParams describes a refresh credential about to be handed to a client.
type RegisterParams struct {
	RefreshID string
	UserID    string
	Role      Role
	SessionID string
	Email     string
	Name      string
	IssuedAt  time.Time
	// ExpiresAt defaults to IssuedAt plus TTL.
	ExpiresAt time.Time
	Version   int64
	// PreviousHash is revoked in the same call when set.
	PreviousHash string
	// TTL overrides the configured session TTL when positive.
	TTL time.Duration
}

// Registration is the result of registering a refresh credential.
type Registration struct {
	Hash      string
	CSRFToken string
	Record    Record
}

type nopRecorder struct{}

func (nopRecorder) RevocationRecorded(string) {}

// NewRegistry returns a Registry over store. The binder derives CSRF tokens for new credentials.
func NewRegistry(store Store, binder Binder, opts Options) *Registry {
	r := &Registry{
		store:        store,
		binder:       binder,
		sessionTTL:   opts.SessionTTL,
		blacklistTTL: opts.BlacklistTTL,
		metrics:      opts.Metrics,
		now:          opts.Now,
	}
	r.sessionTTL = ttlOrDefault("session", r.sessionTTL, defaultSessionTTL)
	r.blacklistTTL = ttlOrDefault("blacklist", r.blacklistTTL, defaultBlacklistTTL)
	if r.metrics == nil {
		r.metrics = nopRecorder{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// SessionTTL returns the lifetime given to new refresh records.
func (r *Registry) SessionTTL() time.Duration {
	return r.sessionTTL
}

// Now returns the registry clock.
func (r *Registry) Now() time.Time {
	return r.now()
}

// Register persists a record for p.RefreshID and, when p.PreviousHash is set, revokes it
// before returning. The new credential is not handed out unless both writes succeed.
func (r *Registry) Register(ctx context.Context, p RegisterParams) (Registration, error) {
	if p.RefreshID == "" {
		return Registration{}, autherrors.Wrapf(autherrors.ErrInvalidRefreshToken, "register refresh session: empty credential")
	}
	if p.Role == RoleGuest {
		return Registration{}, autherrors.Wrapf(autherrors.ErrGuestSession, "register refresh session for %s", p.UserID)
	}

	ttl := ttlOrDefault("session", p.TTL, r.sessionTTL)
	issuedAt := p.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = r.now()
	}
	expiresAt := p.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = issuedAt.Add(ttl)
	}

	hash := HashRefreshID(p.RefreshID)
	record := Record{
		UserID:    p.UserID,
		Role:      p.Role,
		SessionID: p.SessionID,
		Email:     p.Email,
		Name:      p.Name,
		IssuedAt:  issuedAt.Unix(),
		ExpiresAt: expiresAt.Unix(),
		Version:   p.Version,
	}

	if err := r.store.Persist(ctx, hash, record, ttl); err != nil {
		return Registration{}, fmt.Errorf("persist refresh session: %w", err)
	}

	if p.PreviousHash != "" && p.PreviousHash != hash {
		if err := r.store.Revoke(ctx, p.PreviousHash, r.blacklistTTL); err != nil {
			return Registration{}, fmt.Errorf("revoke previous refresh session: %w", err)
		}
		r.metrics.RevocationRecorded(ReasonRotation)
		log.Debug().
			Str("event", "refresh_rotated").
			Str("previous", ShortHash(p.PreviousHash)).
			Str("hash", ShortHash(hash)).
			Int64("version", p.Version).
			Msg("refresh session rotated")
	}

	return Registration{
		Hash:      hash,
		CSRFToken: r.binder.Token(p.RefreshID),
		Record:    record,
	}, nil
}

// Revoke blacklists hash. A non-positive ttl uses the configured blacklist TTL.
func (r *Registry) Revoke(ctx context.Context, hash string, ttl time.Duration) error {
	return r.revoke(ctx, hash, ttl, ReasonExplicit)
}

func (r *Registry) revoke(ctx context.Context, hash string, ttl time.Duration, reason string) error {
	if hash == "" {
		return nil
	}
	ttl = ttlOrDefault("blacklist", ttl, r.blacklistTTL)
	if err := r.store.Revoke(ctx, hash, ttl); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	r.metrics.RevocationRecorded(reason)
	log.Debug().Str("event", "refresh_revoked").Str("reason", reason).Str("hash", ShortHash(hash)).Msg("refresh session revoked")
	return nil
}

func (r *Registry) IsRevoked(ctx context.Context, hash string) (bool, error) {
	return r.store.IsRevoked(ctx, hash)
}

func (r *Registry) Get(ctx context.Context, hash string) (*Record, error) {
	return r.store.Get(ctx, hash)
}

// Validate returns the record for hash when it is not revoked and has not expired. A record
// found past its expiry is revoked on the spot so a lagging store cannot resurrect it.
func (r *Registry) Validate(ctx context.Context, hash string) (*Record, error) {
	revoked, err := r.store.IsRevoked(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("check refresh revocation: %w", err)
	}
	if revoked {
		return nil, autherrors.ErrTokenRevoked
	}

	record, err := r.store.Get(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("load refresh session: %w", err)
	}
	if record == nil {
		return nil, autherrors.ErrSessionNotFound
	}

	if record.Expired(r.now()) {
		if err := r.revoke(ctx, hash, 0, ReasonExpired); err != nil {
			log.Warn().Err(err).Str("hash", ShortHash(hash)).Msg("failed to revoke expired refresh session")
		}
		return nil, autherrors.ErrRefreshTokenExpired
	}
	return record, nil
}

// ttlOrDefault returns ttl when positive. Zero means unset; a negative override is logged before
// falling back.
func ttlOrDefault(kind string, ttl, fallback time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	if ttl < 0 {
		log.Warn().
			Str("event", "ttl_fallback").
			Str("ttl_kind", kind).
			Dur("requested", ttl).
			Dur("using", fallback).
			Msg("non-positive refresh ttl, using default")
	}
	return fallback
}
