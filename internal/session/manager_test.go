package session

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking-gateway/internal/validation"
)

type fakeAuth struct {
	registerErr error
	loginRes    *LoginResult
	loginErr    error
	current     *User
	currentErr  error

	registerCalls int
	loginCalls    int
	currentCalls  int
}

func (f *fakeAuth) Register(context.Context, RegisterRequest) error {
	f.registerCalls++
	return f.registerErr
}

func (f *fakeAuth) Login(context.Context, string, string) (*LoginResult, error) {
	f.loginCalls++
	return f.loginRes, f.loginErr
}

func (f *fakeAuth) CurrentUser(context.Context, string) (*User, error) {
	f.currentCalls++
	return f.current, f.currentErr
}

var now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func newSessions(auth AuthService, creds CredentialStore) *Sessions {
	return NewSessions(auth, creds, Options{
		RefreshAfter: time.Minute,
		Now:          func() time.Time { return now },
	})
}

var alice = User{ID: "user-1", Email: "alice@example.com", FirstName: "Alice", LastName: "W", Role: RolePatient}

func TestRegisterRejectsShortPasswordBeforeNetwork(t *testing.T) {
	auth := &fakeAuth{}
	m := newSessions(auth, NewMemoryCredentials()).Open("sid")

	err := m.Register(context.Background(), RegisterRequest{Email: "a@b.co", Password: "abc"})

	var verr *validation.Error
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields["password"], "at least 6")
	assert.Zero(t, auth.registerCalls)
}

func TestRegisterConfirmMismatch(t *testing.T) {
	auth := &fakeAuth{}
	m := newSessions(auth, NewMemoryCredentials()).Open("sid")

	err := m.Register(context.Background(), RegisterRequest{Email: "a@b.co", Password: "secret1", ConfirmPassword: "secret2"})
	assert.ErrorIs(t, err, validation.ErrInvalid)
	assert.Zero(t, auth.registerCalls)
}

func TestRegisterSurfacesUpstreamMessage(t *testing.T) {
	auth := &fakeAuth{registerErr: &Rejection{Status: 400, Message: "Email is already in use"}}
	m := newSessions(auth, NewMemoryCredentials()).Open("sid")

	err := m.Register(context.Background(), RegisterRequest{Email: "a@b.co", Password: "secret1"})
	var aerr *AuthError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "Email is already in use", aerr.Message)
}

func TestLoginFallbackMessageOnServerError(t *testing.T) {
	auth := &fakeAuth{loginErr: &Rejection{Status: 502, Message: "<html>bad gateway</html>"}}
	m := newSessions(auth, NewMemoryCredentials()).Open("sid")

	_, err := m.Login(context.Background(), "a@b.co", "secret1")
	var aerr *AuthError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "Login failed", aerr.Message)
	assert.Equal(t, StateUnknown, m.Snapshot().State)
}

func TestLoginStoresCredentialAndNotifies(t *testing.T) {
	creds := NewMemoryCredentials()
	auth := &fakeAuth{loginRes: &LoginResult{Token: "tok", User: alice}}
	sessions := newSessions(auth, creds)

	var seen []State
	sessions.OnChange(func(_ context.Context, _ string, s Snapshot) { seen = append(seen, s.State) })
	m := sessions.Open("sid")

	u, err := m.Login(context.Background(), " alice@example.com ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, alice, *u)
	assert.Equal(t, "tok", m.Token())
	assert.Equal(t, []State{StateUnauthenticated, StateAuthenticated}, seen, "fresh sign-in drops whatever the sid held")

	c, err := creds.Get(context.Background(), "sid")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, now, c.VerifiedAt)
}

func TestLoginRequiresFields(t *testing.T) {
	auth := &fakeAuth{}
	m := newSessions(auth, NewMemoryCredentials()).Open("sid")

	_, err := m.Login(context.Background(), "", "")
	assert.ErrorIs(t, err, validation.ErrInvalid)
	assert.Zero(t, auth.loginCalls)
}

func TestRestoreWithoutCredential(t *testing.T) {
	m := newSessions(&fakeAuth{}, NewMemoryCredentials()).Open("sid")
	assert.Equal(t, StateUnknown, m.Snapshot().State)

	snap, err := m.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, snap.State)
	assert.Equal(t, LoginPath, Guard(snap, Policy{}).Redirect)
}

func TestRestoreUsesRecentlyVerifiedUser(t *testing.T) {
	creds := NewMemoryCredentials()
	require.NoError(t, creds.Put(context.Background(), "sid", Credential{Token: "tok", User: alice, VerifiedAt: now.Add(-10 * time.Second)}))
	auth := &fakeAuth{}

	snap, err := newSessions(auth, creds).Open("sid").Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.Zero(t, auth.currentCalls)
}

func TestRestoreRefreshesStaleVerification(t *testing.T) {
	creds := NewMemoryCredentials()
	require.NoError(t, creds.Put(context.Background(), "sid", Credential{Token: "tok", User: alice, VerifiedAt: now.Add(-time.Hour)}))
	renamed := alice
	renamed.LastName = "Walker"
	auth := &fakeAuth{current: &renamed}

	snap, err := newSessions(auth, creds).Open("sid").Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Walker", snap.User.LastName)
	assert.Equal(t, 1, auth.currentCalls)

	c, _ := creds.Get(context.Background(), "sid")
	assert.Equal(t, now, c.VerifiedAt)
}

func TestRestoreDropsExpiredTokenWithoutNetwork(t *testing.T) {
	creds := NewMemoryCredentials()
	tok := signedToken(t, now.Add(-time.Minute))
	require.NoError(t, creds.Put(context.Background(), "sid", Credential{Token: tok, User: alice, VerifiedAt: now}))
	auth := &fakeAuth{}

	snap, err := newSessions(auth, creds).Open("sid").Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, snap.State)
	assert.Zero(t, auth.currentCalls)

	c, _ := creds.Get(context.Background(), "sid")
	assert.Nil(t, c)
}

func TestRestoreKeepsLiveToken(t *testing.T) {
	creds := NewMemoryCredentials()
	tok := signedToken(t, now.Add(time.Hour))
	require.NoError(t, creds.Put(context.Background(), "sid", Credential{Token: tok, User: alice, VerifiedAt: now}))

	m := newSessions(&fakeAuth{}, creds).Open("sid")
	snap, err := m.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.Equal(t, tok, m.Token())
}

func TestRestoreTokenRejected(t *testing.T) {
	creds := NewMemoryCredentials()
	require.NoError(t, creds.Put(context.Background(), "sid", Credential{Token: "tok", User: alice}))
	auth := &fakeAuth{currentErr: ErrUnauthenticated}

	snap, err := newSessions(auth, creds).Open("sid").Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, snap.State)
}

func TestRestoreFallsBackToCachedUserWhenAuthDown(t *testing.T) {
	creds := NewMemoryCredentials()
	require.NoError(t, creds.Put(context.Background(), "sid", Credential{Token: "tok", User: alice}))
	auth := &fakeAuth{currentErr: errors.New("dial tcp: connection refused")}

	snap, err := newSessions(auth, creds).Open("sid").Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.Equal(t, alice.ID, snap.User.ID)
}

func TestRestoreRoleChangeEndsSession(t *testing.T) {
	creds := NewMemoryCredentials()
	require.NoError(t, creds.Put(context.Background(), "sid", Credential{Token: "tok", User: alice}))
	promoted := alice
	promoted.Role = RoleAdmin
	auth := &fakeAuth{current: &promoted}

	snap, err := newSessions(auth, creds).Open("sid").Restore(context.Background())
	assert.ErrorIs(t, err, ErrRoleChanged)
	assert.Equal(t, StateUnauthenticated, snap.State)

	c, _ := creds.Get(context.Background(), "sid")
	assert.Nil(t, c)
}

func TestLogoutNotifiesSubscribers(t *testing.T) {
	creds := NewMemoryCredentials()
	auth := &fakeAuth{loginRes: &LoginResult{Token: "tok", User: alice}}
	m := newSessions(auth, creds).Open("sid")
	_, err := m.Login(context.Background(), "alice@example.com", "secret1")
	require.NoError(t, err)

	var last Snapshot
	unsubscribe := m.Subscribe(func(_ context.Context, _ string, s Snapshot) { last = s })

	require.NoError(t, m.Logout(context.Background()))
	assert.Equal(t, StateUnauthenticated, last.State)
	assert.Empty(t, m.Token())

	decision := Guard(m.Snapshot(), Policy{Allow: []Role{RolePatient}})
	assert.Equal(t, LoginPath, decision.Redirect)

	unsubscribe()
	last = Snapshot{}
	_, err = m.Login(context.Background(), "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, last.State, "unsubscribed listener not called")
}

func TestLoginAsAnotherUserEndsPreviousSession(t *testing.T) {
	creds := NewMemoryCredentials()
	auth := &fakeAuth{loginRes: &LoginResult{Token: "tok-a", User: alice}}
	sessions := newSessions(auth, creds)
	ctx := context.Background()

	_, err := sessions.Open("sid").Login(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)

	type change struct {
		state State
		user  string
	}
	var seen []change
	sessions.OnChange(func(_ context.Context, _ string, s Snapshot) {
		c := change{state: s.State}
		if s.User != nil {
			c.user = s.User.ID
		}
		seen = append(seen, c)
	})

	bob := User{ID: "user-2", Email: "bob@example.com", FirstName: "Bob", LastName: "K", Role: RolePatient}
	auth.loginRes = &LoginResult{Token: "tok-b", User: bob}
	_, err = sessions.Open("sid").Login(ctx, "bob@example.com", "secret1")
	require.NoError(t, err)

	assert.Equal(t, []change{{state: StateUnauthenticated}, {state: StateAuthenticated, user: "user-2"}}, seen)
	c, err := creds.Get(ctx, "sid")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, bob, c.User)
}

func TestLoginAsSameUserKeepsSession(t *testing.T) {
	creds := NewMemoryCredentials()
	auth := &fakeAuth{loginRes: &LoginResult{Token: "tok", User: alice}}
	sessions := newSessions(auth, creds)
	ctx := context.Background()

	_, err := sessions.Open("sid").Login(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)

	var seen []State
	sessions.OnChange(func(_ context.Context, _ string, s Snapshot) { seen = append(seen, s.State) })

	auth.loginRes = &LoginResult{Token: "tok-2", User: alice}
	_, err = sessions.Open("sid").Login(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.NotContains(t, seen, StateUnauthenticated)
}

func TestRedisCredentials(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisCredentials(client, 2*time.Hour)
	ctx := context.Background()

	c, err := store.Get(ctx, "sid")
	require.NoError(t, err)
	assert.Nil(t, c)

	require.NoError(t, store.Put(ctx, "sid", Credential{Token: "tok", User: alice, VerifiedAt: now}))
	mr.FastForward(time.Hour)

	c, err = store.Get(ctx, "sid")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, alice, c.User)
	assert.Equal(t, 2*time.Hour, mr.TTL(credentialKey("sid")), "get slides the ttl")

	require.NoError(t, store.Delete(ctx, "sid"))
	c, err = store.Get(ctx, "sid")
	require.NoError(t, err)
	assert.Nil(t, c)
}
