// Package csrf binds a header token to the refresh credential carried in a cookie.
package csrf

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
)

// Binder computes base64url(HMAC-SHA256(secret, refreshID)). Tokens are never stored.
type Binder struct {
	secret []byte
}

// New returns a Binder keyed by secret. An empty secret is a configuration error.
func New(secret string) (*Binder, error) {
	if secret == "" {
		return nil, autherrors.Wrapf(autherrors.ErrMissingSecret, "REFRESH_CSRF_SECRET")
	}
	return &Binder{secret: []byte(secret)}, nil
}

// Token returns the CSRF token bound to refreshID.
func (b *Binder) Token(refreshID string) string {
	mac := hmac.New(sha256.New, b.secret)
	mac.Write([]byte(refreshID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether presented is the token bound to refreshID.
func (b *Binder) Verify(refreshID, presented string) bool {
	if refreshID == "" || presented == "" {
		return false
	}
	return Equal(b.Token(refreshID), presented)
}

// Check is Verify with a reason: ErrCSRFMissing when nothing was presented, ErrCSRFMismatch
// when the token is not bound to refreshID.
func (b *Binder) Check(refreshID, presented string) error {
	if presented == "" {
		return autherrors.ErrCSRFMissing
	}
	if !b.Verify(refreshID, presented) {
		return autherrors.ErrCSRFMismatch
	}
	return nil
}

// Equal compares in constant time. Inputs of different length are unequal.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
