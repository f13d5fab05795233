package draft

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNoSession = errors.New("draft store: empty session id")

// Store keeps one draft per browsing session.
type Store interface {
	// Load returns the session's draft, or an empty draft if none exists.
	Load(ctx context.Context, sessionID string) (Draft, error)
	// Merge applies p to the stored draft and returns the result.
	Merge(ctx context.Context, sessionID string, p Patch) (Draft, error)
	Clear(ctx context.Context, sessionID string) error
	// Persistent is false when nothing survives between requests; callers
	// must then pass step data forward explicitly.
	Persistent() bool
}

// MemoryStore keeps drafts in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	drafts map[string]Draft
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: make(map[string]Draft), now: time.Now}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (Draft, error) {
	if sessionID == "" {
		return Draft{}, ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyDraft(s.drafts[sessionID]), nil
}

func (s *MemoryStore) Merge(_ context.Context, sessionID string, p Patch) (Draft, error) {
	if sessionID == "" {
		return Draft{}, ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := Merge(s.drafts[sessionID], p, s.now())
	s.drafts[sessionID] = d
	return copyDraft(d), nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, sessionID)
	return nil
}

func (s *MemoryStore) Persistent() bool { return true }

func copyDraft(d Draft) Draft {
	out := d
	out.Attachments = append([]Attachment{}, d.Attachments...)
	if d.PatientInfo != nil {
		info := *d.PatientInfo
		out.PatientInfo = &info
	}
	return out
}

// Unavailable is used where no session storage exists. Load always returns an
// empty draft and Merge only echoes the patch applied to an empty draft.
// Now stamps merged drafts and defaults to time.Now.
type Unavailable struct {
	Now func() time.Time
}

func (Unavailable) Load(context.Context, string) (Draft, error) {
	return Draft{Attachments: []Attachment{}}, nil
}

func (u Unavailable) Merge(_ context.Context, _ string, p Patch) (Draft, error) {
	now := time.Now
	if u.Now != nil {
		now = u.Now
	}
	return Merge(Draft{}, p, now()), nil
}

func (Unavailable) Clear(context.Context, string) error { return nil }

func (Unavailable) Persistent() bool { return false }
