package refresh

import "time"

// Role is the authorisation level carried by a session.
type Role string

const (
	RoleGuest Role = "guest"
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleGuest, RoleUser, RoleAdmin:
		return true
	}
	return false
}

// Record is the server side metadata of one issued refresh credential. It is keyed by the
// SHA-256 hash of the credential and never mutated: a rotation writes a new record under a new hash.
type Record struct {
	UserID    string `json:"userId"`
	Role      Role   `json:"role"`
	SessionID string `json:"sessionId"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	IssuedAt  int64  `json:"issuedAt"`  // epoch seconds
	ExpiresAt int64  `json:"expiresAt"` // epoch seconds
	Version   int64  `json:"version"`
}

// Expired reports whether the record is no longer usable at now. A record expiring exactly at now is expired.
func (r Record) Expired(now time.Time) bool {
	return now.Unix() >= r.ExpiresAt
}

// Remaining returns the lifetime left at now, never negative.
func (r Record) Remaining(now time.Time) time.Duration {
	remaining := time.Unix(r.ExpiresAt, 0).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ExpiresAtTime returns the expiry as a time.Time.
func (r Record) ExpiresAtTime() time.Time {
	return time.Unix(r.ExpiresAt, 0)
}
