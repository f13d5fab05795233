// Package attachments holds the raw content of files patients attach to a
// booking until the booking is submitted.
package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("attachment not found")
	ErrForeignKey = errors.New("attachment belongs to another session")
)

// Store keeps attachment content keyed by an opaque blob key. Open and
// Delete only accept keys that Put issued for the same session.
type Store interface {
	Put(ctx context.Context, sessionID, name string, r io.Reader, size int64) (string, error)
	Open(ctx context.Context, sessionID, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, sessionID string, keys ...string) error
}

func keyPrefix(sessionID string) string {
	return "attachment:" + sessionID + ":"
}

// newKey scopes blob keys by session so they are easy to trace and purge.
func newKey(sessionID string) string {
	return keyPrefix(sessionID) + uuid.NewString()
}

// Owns reports whether key was issued to sessionID.
func Owns(sessionID, key string) bool {
	if sessionID == "" {
		return false
	}
	rest, ok := strings.CutPrefix(key, keyPrefix(sessionID))
	return ok && rest != "" && !strings.Contains(rest, ":")
}

func checkOwned(sessionID string, keys ...string) error {
	for _, k := range keys {
		if !Owns(sessionID, k) {
			return fmt.Errorf("%w: %q", ErrForeignKey, k)
		}
	}
	return nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, sessionID, _ string, r io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	key := newKey(sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = data
	return key, nil
}

func (s *MemoryStore) Open(_ context.Context, sessionID, key string) (io.ReadCloser, error) {
	if err := checkOwned(sessionID, key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string, keys ...string) error {
	if err := checkOwned(sessionID, keys...); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.blobs, k)
	}
	return nil
}

// Has reports whether key is stored.
func (s *MemoryStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	return ok
}

// Len is the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
