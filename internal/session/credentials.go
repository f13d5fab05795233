package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Credential is what survives between requests for one browser context.
type Credential struct {
	Token      string    `json:"token"`
	User       User      `json:"user"`
	VerifiedAt time.Time `json:"verifiedAt"`
}

// CredentialStore persists the credential of each browser context. Get
// returns nil, nil when nothing is stored.
type CredentialStore interface {
	Get(ctx context.Context, sessionID string) (*Credential, error)
	Put(ctx context.Context, sessionID string, c Credential) error
	Delete(ctx context.Context, sessionID string) error
}

type MemoryCredentials struct {
	mu    sync.Mutex
	creds map[string]Credential
}

func NewMemoryCredentials() *MemoryCredentials {
	return &MemoryCredentials{creds: make(map[string]Credential)}
}

func (m *MemoryCredentials) Get(_ context.Context, sessionID string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[sessionID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemoryCredentials) Put(_ context.Context, sessionID string, c Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[sessionID] = c
	return nil
}

func (m *MemoryCredentials) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, sessionID)
	return nil
}

// RedisCredentials stores credentials as JSON with a sliding TTL.
type RedisCredentials struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCredentials(client *redis.Client, ttl time.Duration) *RedisCredentials {
	return &RedisCredentials{client: client, ttl: ttl}
}

func credentialKey(sessionID string) string {
	return "session:" + sessionID
}

func (r *RedisCredentials) Get(ctx context.Context, sessionID string) (*Credential, error) {
	raw, err := r.client.GetEx(ctx, credentialKey(sessionID), r.ttl).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}

	var c Credential
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &c, nil
}

func (r *RedisCredentials) Put(ctx context.Context, sessionID string, c Credential) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if err := r.client.Set(ctx, credentialKey(sessionID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

func (r *RedisCredentials) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, credentialKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
