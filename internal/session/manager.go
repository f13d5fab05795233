package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking-gateway/internal/logging"
	"github.com/hackgods/clinic-booking-gateway/internal/validation"
)

const MinPasswordLength = 6

var (
	// ErrUnauthenticated is returned by an AuthService when the token is no
	// longer accepted.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrRoleChanged ends a session whose user came back with another role.
	ErrRoleChanged = errors.New("role changed, sign in again")
)

type RegisterRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword,omitempty"`
	FirstName       string `json:"firstName,omitempty"`
	LastName        string `json:"lastName,omitempty"`
}

type LoginResult struct {
	Token string
	User  User
}

// AuthService is the remote authentication boundary.
type AuthService interface {
	Register(ctx context.Context, req RegisterRequest) error
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	CurrentUser(ctx context.Context, token string) (*User, error)
}

// Rejection is returned by an AuthService when upstream refused the request
// with a message meant for the user.
type Rejection struct {
	Status  int
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("auth rejected (%d): %s", r.Status, r.Message)
}

// AuthError is a login or registration failure. Message is safe to show.
type AuthError struct {
	Op      string
	Message string
	Err     error
}

func (e *AuthError) Error() string { return e.Op + ": " + e.Message }

func (e *AuthError) Unwrap() error { return e.Err }

func authError(op, fallback string, err error) *AuthError {
	msg := fallback
	var rej *Rejection
	if errors.As(err, &rej) && rej.Status < 500 && strings.TrimSpace(rej.Message) != "" {
		msg = rej.Message
	}
	return &AuthError{Op: op, Message: msg, Err: err}
}

// Listener is told about every state change of a session.
type Listener func(ctx context.Context, sessionID string, s Snapshot)

type Options struct {
	// RefreshAfter is how long a verified user is trusted without asking
	// the auth service again.
	RefreshAfter time.Duration
	Now          func() time.Time
	Logger       *zap.Logger
}

// Sessions opens a Manager per browser context.
type Sessions struct {
	auth      AuthService
	creds     CredentialStore
	opts      Options
	listeners []Listener
}

func NewSessions(auth AuthService, creds CredentialStore, opts Options) *Sessions {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Logger = logging.OrNop(opts.Logger)
	return &Sessions{auth: auth, creds: creds, opts: opts}
}

// OnChange registers l with every Manager opened afterwards.
func (s *Sessions) OnChange(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *Sessions) Open(sessionID string) *Manager {
	m := &Manager{
		sessionID: sessionID,
		auth:      s.auth,
		creds:     s.creds,
		opts:      s.opts,
		logger:    s.opts.Logger.With(zap.String("session_id", shortID(sessionID))),
	}
	for _, l := range s.listeners {
		m.Subscribe(l)
	}
	return m
}

// Manager is the auth session of one browser context. Only Restore, Login
// and Logout change its state.
type Manager struct {
	sessionID string
	auth      AuthService
	creds     CredentialStore
	opts      Options
	logger    *zap.Logger

	mu        sync.RWMutex
	state     State
	user      *User
	token     string
	listeners map[int]Listener
	nextID    int
}

func (m *Manager) SessionID() string { return m.sessionID }

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var u *User
	if m.user != nil {
		cp := *m.user
		u = &cp
	}
	return Snapshot{State: m.state, User: u}
}

// Token is the bearer token of the authenticated user, or "".
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Subscribe registers l and returns a function that removes it.
func (m *Manager) Subscribe(l Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners == nil {
		m.listeners = make(map[int]Listener)
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Manager) set(ctx context.Context, state State, user *User, token string) {
	m.mu.Lock()
	changed := m.state != state || !sameUser(m.user, user)
	m.state, m.user, m.token = state, user, token
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	snap := m.Snapshot()
	for _, l := range listeners {
		l(ctx, m.sessionID, snap)
	}
}

// Restore resolves the session from the stored credential. Expired tokens
// are dropped without a network call.
func (m *Manager) Restore(ctx context.Context) (Snapshot, error) {
	cred, err := m.creds.Get(ctx, m.sessionID)
	if err != nil {
		return m.Snapshot(), fmt.Errorf("restore session: %w", err)
	}
	if cred == nil {
		m.set(ctx, StateUnauthenticated, nil, "")
		return m.Snapshot(), nil
	}

	now := m.opts.Now()
	if tokenExpired(cred.Token, now) {
		m.logger.Info("discarding expired token")
		return m.Snapshot(), m.end(ctx)
	}

	if m.opts.RefreshAfter > 0 && now.Sub(cred.VerifiedAt) < m.opts.RefreshAfter {
		user := cred.User
		m.set(ctx, StateAuthenticated, &user, cred.Token)
		return m.Snapshot(), nil
	}

	fresh, err := m.auth.CurrentUser(ctx, cred.Token)
	switch {
	case errors.Is(err, ErrUnauthenticated):
		m.logger.Info("token rejected by auth service")
		return m.Snapshot(), m.end(ctx)
	case err != nil:
		// Auth service is unreachable; keep the last verified user.
		m.logger.Warn("auth service unavailable, using cached user", zap.Error(err))
		user := cred.User
		m.set(ctx, StateAuthenticated, &user, cred.Token)
		return m.Snapshot(), nil
	}

	if fresh.Role != cred.User.Role {
		m.logger.Warn("role changed during session",
			zap.String("was", string(cred.User.Role)),
			zap.String("now", string(fresh.Role)),
		)
		if err := m.end(ctx); err != nil {
			return m.Snapshot(), err
		}
		return m.Snapshot(), ErrRoleChanged
	}

	cred.User = *fresh
	cred.VerifiedAt = now
	if err := m.creds.Put(ctx, m.sessionID, *cred); err != nil {
		m.logger.Warn("refresh credential", zap.Error(err))
	}
	m.set(ctx, StateAuthenticated, fresh, cred.Token)
	return m.Snapshot(), nil
}

func (m *Manager) Login(ctx context.Context, email, password string) (*User, error) {
	verr := &validation.Error{}
	if strings.TrimSpace(email) == "" {
		verr.Add("email", "is required")
	}
	if password == "" {
		verr.Add("password", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	res, err := m.auth.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return nil, authError("login", "Login failed", err)
	}
	if !res.User.Role.Valid() {
		return nil, &AuthError{Op: "login", Message: "Login failed", Err: fmt.Errorf("unknown role %q", res.User.Role)}
	}

	// Anything held for the sid belongs to whoever signed in before. Unless
	// that was the same user, end their session first so listeners drop it.
	prev, err := m.creds.Get(ctx, m.sessionID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if prev == nil || prev.User.ID != res.User.ID {
		if err := m.end(ctx); err != nil {
			return nil, err
		}
	}

	if err := m.creds.Put(ctx, m.sessionID, Credential{
		Token:      res.Token,
		User:       res.User,
		VerifiedAt: m.opts.Now(),
	}); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	user := res.User
	m.set(ctx, StateAuthenticated, &user, res.Token)
	m.logger.Info("signed in", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return &user, nil
}

// Register validates locally before calling the auth service; it does not
// sign the user in.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) error {
	req.Email = strings.TrimSpace(req.Email)

	verr := &validation.Error{}
	if req.Email == "" {
		verr.Add("email", "is required")
	}
	if len(req.Password) < MinPasswordLength {
		verr.Add("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	if req.ConfirmPassword != "" && req.ConfirmPassword != req.Password {
		verr.Add("confirmPassword", "does not match password")
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	if err := m.auth.Register(ctx, req); err != nil {
		return authError("register", "Registration failed", err)
	}
	return nil
}

func (m *Manager) Logout(ctx context.Context) error {
	if err := m.end(ctx); err != nil {
		return err
	}
	m.logger.Info("signed out")
	return nil
}

func (m *Manager) end(ctx context.Context) error {
	err := m.creds.Delete(ctx, m.sessionID)
	m.set(ctx, StateUnauthenticated, nil, "")
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// tokenExpired reads exp without verifying the signature; the auth service
// remains the authority. Tokens that are not JWTs never expire here.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}

func sameUser(a, b *User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
