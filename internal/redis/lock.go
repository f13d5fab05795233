package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("session lock not acquired")
)

// Locker serializes submissions within one browsing session, so a double
// click cannot send the same booking twice. It does not coordinate between
// sessions.
type Locker interface {
	WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error
}

type redisSessionLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionLocker creates a locker that uses a per session Redis key
func NewRedisSessionLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisSessionLocker{
		client: client,
		ttl:    ttl,
	}
}

func lockKey(sessionID string) string {
	return "lock:submit:" + sessionID
}

func (l *redisSessionLocker) WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	key := lockKey(sessionID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		// release even if ctx was cancelled by the caller
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisSessionLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release session lock: %w", err)
	}
	return nil
}

// MemoryLocker is an in-process Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

func (l *MemoryLocker) WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[sessionID] {
		l.mu.Unlock()
		return ErrLockNotAcquired
	}
	l.held[sessionID] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, sessionID)
		l.mu.Unlock()
	}()

	return fn(ctx)
}
