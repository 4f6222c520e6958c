package client

import "time"

type Status string

const (
	StatusLoading         Status = "loading"
	StatusUnauthenticated Status = "unauthenticated"
	StatusAuthenticated   Status = "authenticated"
)

const RoleGuest = "guest"

type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
	Role  string `json:"role"`
}

func (u *User) IsGuest() bool {
	return u != nil && u.Role == RoleGuest
}

// Session is the canonical shape every login, refresh and guest payload is normalized into.
type Session struct {
	User        *User
	AccessToken string
	ExpiresAt   time.Time
	RefreshCSRF string
	// RefreshExpiresAt is zero when the server did not report it.
	RefreshExpiresAt time.Time
}

// State is a snapshot of what the manager believes about the current login.
type State struct {
	AccessToken      string
	ExpiresAt        time.Time
	User             *User
	RefreshCSRF      string
	RefreshExpiresAt time.Time

	hydrated bool
}

// Status is derived: authenticated iff a user is present, loading until the manager has been
// told anything at all.
func (s State) Status() Status {
	switch {
	case s.User != nil:
		return StatusAuthenticated
	case !s.hydrated:
		return StatusLoading
	default:
		return StatusUnauthenticated
	}
}

func (s State) canRefresh() bool {
	return s.Status() == StatusAuthenticated && !s.User.IsGuest() && s.RefreshCSRF != ""
}

func stateFromSession(s Session) State {
	user := *s.User
	return State{
		AccessToken:      s.AccessToken,
		ExpiresAt:        s.ExpiresAt,
		User:             &user,
		RefreshCSRF:      s.RefreshCSRF,
		RefreshExpiresAt: s.RefreshExpiresAt,
		hydrated:         true,
	}
}

func (s State) session() Session {
	out := Session{
		AccessToken:      s.AccessToken,
		ExpiresAt:        s.ExpiresAt,
		RefreshCSRF:      s.RefreshCSRF,
		RefreshExpiresAt: s.RefreshExpiresAt,
	}
	if s.User != nil {
		user := *s.User
		out.User = &user
	}
	return out
}
