package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuard(t *testing.T) {
	patient := &User{ID: "1", Role: RolePatient}
	doctor := &User{ID: "2", Role: RoleDoctor}
	admin := &User{ID: "3", Role: RoleAdmin}

	adminOnly := Policy{View: "admin", Allow: []Role{RoleAdmin}}
	staff := Policy{View: "staff", Allow: []Role{RoleDoctor, RoleAdmin}}
	anyUser := Policy{View: "me"}

	tests := []struct {
		name     string
		snap     Snapshot
		policy   Policy
		allowed  bool
		redirect string
	}{
		{"loading defers", Snapshot{State: StateUnknown}, adminOnly, false, ""},
		{"no user goes to login", Snapshot{State: StateUnauthenticated}, adminOnly, false, LoginPath},
		{"no user on open view", Snapshot{State: StateUnauthenticated}, anyUser, false, LoginPath},
		{"doctor on admin view", Snapshot{State: StateAuthenticated, User: doctor}, adminOnly, false, DashboardPath},
		{"patient on admin view", Snapshot{State: StateAuthenticated, User: patient}, adminOnly, false, HomePath},
		{"admin on patient view", Snapshot{State: StateAuthenticated, User: admin}, Policy{Allow: []Role{RolePatient}}, false, AdminPath},
		{"admin allowed", Snapshot{State: StateAuthenticated, User: admin}, adminOnly, true, ""},
		{"allow-list", Snapshot{State: StateAuthenticated, User: doctor}, staff, true, ""},
		{"any authenticated", Snapshot{State: StateAuthenticated, User: patient}, anyUser, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Guard(tt.snap, tt.policy)
			assert.Equal(t, tt.allowed, d.Allowed())
			assert.Equal(t, tt.redirect, d.Redirect)
		})
	}
}

func TestGuardLoadingReportsNothingElse(t *testing.T) {
	d := Guard(Snapshot{State: StateUnknown, User: &User{Role: RoleAdmin}}, Policy{})
	assert.True(t, d.Loading)
	assert.Nil(t, d.User)
	assert.False(t, d.Authenticated)
}

func TestGuardDoctorNeverSentToAdmin(t *testing.T) {
	d := Guard(Snapshot{State: StateAuthenticated, User: &User{Role: RoleDoctor}}, Policy{Allow: []Role{RoleAdmin}})
	assert.NotEqual(t, AdminPath, d.Redirect)
	assert.True(t, d.Authenticated)
	assert.False(t, d.HasRequiredRole)
}

func TestParseRoleIsCaseSensitive(t *testing.T) {
	r, err := ParseRole("DOCTOR")
	assert.NoError(t, err)
	assert.Equal(t, RoleDoctor, r)

	_, err = ParseRole("doctor")
	assert.Error(t, err)
}
