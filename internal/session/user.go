package session

import "fmt"

// Role casing is a wire contract and must round-trip unchanged.
type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
	RoleAdmin   Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// ParseRole accepts only the exact wire spelling.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

const (
	LoginPath     = "/login"
	HomePath      = "/"
	DashboardPath = "/dashboard"
	AdminPath     = "/admin"
)

// LandingPath is where a user of role r belongs when bounced from a view.
func LandingPath(r Role) string {
	switch r {
	case RoleAdmin:
		return AdminPath
	case RoleDoctor:
		return DashboardPath
	default:
		return HomePath
	}
}

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      Role   `json:"role"`
}

func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}
