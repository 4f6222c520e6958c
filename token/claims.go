package token

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// GuestSubjectPrefix marks subjects minted for anonymous guests.
const GuestSubjectPrefix = "guest:"

// Claims is the access token payload issued by this server.
type Claims struct {
	Role    string `json:"role"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	// RefreshHash ties the token to the refresh session that minted it so revocation cuts it off.
	RefreshHash string `json:"rid,omitempty"`
	SessionID   string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// IsGuest reports whether the token belongs to an anonymous guest.
func (c *Claims) IsGuest() bool {
	return c.Role == "guest" || strings.HasPrefix(c.Subject, GuestSubjectPrefix)
}

// IsAdmin reports whether the token carries the admin role.
func (c *Claims) IsAdmin() bool {
	return c.Role == "admin"
}
