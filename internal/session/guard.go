package session

import "slices"

type State int

const (
	StateUnknown State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "loading"
	}
}

// Snapshot is a read-only view of a session at one instant.
type Snapshot struct {
	State State
	User  *User
}

// Policy is the allow-list for one view. An empty Allow admits any
// authenticated user.
type Policy struct {
	View  string
	Allow []Role
}

// Decision is derived per view mount and never stored.
type Decision struct {
	Loading         bool   `json:"isLoading"`
	User            *User  `json:"user,omitempty"`
	Authenticated   bool   `json:"isAuthenticated"`
	HasRequiredRole bool   `json:"hasRequiredRole"`
	Redirect        string `json:"redirect,omitempty"`
}

// Allowed reports whether the view may render.
func (d Decision) Allowed() bool {
	return !d.Loading && d.Authenticated && d.HasRequiredRole
}

// Guard evaluates p against s. While the session is still loading it makes
// no redirect decision at all.
func Guard(s Snapshot, p Policy) Decision {
	if s.State == StateUnknown {
		return Decision{Loading: true}
	}
	if s.State != StateAuthenticated || s.User == nil {
		return Decision{Redirect: LoginPath}
	}

	d := Decision{
		User:            s.User,
		Authenticated:   true,
		HasRequiredRole: len(p.Allow) == 0 || slices.Contains(p.Allow, s.User.Role),
	}
	if !d.HasRequiredRole {
		d.Redirect = LandingPath(s.User.Role)
	}
	return d
}
