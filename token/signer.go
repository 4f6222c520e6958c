package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// HMACSigner issues and verifies HS256 access tokens for one issuer and audience.
type HMACSigner struct {
	secret   []byte
	issuer   string
	audience string
}

// NewHMACSigner creates a new HMAC signer. An empty secret is a configuration error.
func NewHMACSigner(secret, issuer, audience string) (*HMACSigner, error) {
	if secret == "" {
		return nil, autherrors.Wrapf(autherrors.ErrMissingSecret, "APP_JWT_SECRET")
	}
	return &HMACSigner{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}, nil
}

// Sign stamps iss, aud, iat, exp and jti onto claims and returns the signed token and its expiry.
func (h *HMACSigner) Sign(claims Claims, ttl time.Duration) (string, time.Time, error) {
	now := NowTimeFunc()
	expiresAt := now.Add(ttl)

	claims.Issuer = h.issuer
	claims.Audience = jwt.ClaimStrings{h.audience}
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token with HMAC: %w", err)
	}
	return signed, expiresAt.Truncate(time.Second), nil
}

// Parse verifies signature, issuer, audience and lifetime. exp, iat and sub are required.
func (h *HMACSigner) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, h.verificationKey,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(h.issuer),
		jwt.WithAudience(h.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(NowTimeFunc),
	)
	if err != nil {
		if autherrors.Is(err, jwt.ErrTokenExpired) {
			return nil, autherrors.Wrapf(autherrors.ErrTokenExpired, "parse access token")
		}
		return nil, fmt.Errorf("%w: %v", autherrors.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidToken, "missing sub claim")
	}
	if claims.IssuedAt == nil {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidToken, "missing iat claim")
	}
	return claims, nil
}

func (h *HMACSigner) verificationKey(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return h.secret, nil
}
