package slots

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrStaleSelection is returned when the session moved to another doctor or
// date while availability was loading. The response must be discarded.
var ErrStaleSelection = errors.New("selection changed while loading availability")

// Selection is what the schedule picker is currently showing.
type Selection struct {
	DoctorID string `json:"doctorId"`
	Date     string `json:"date"`
}

// SelectionTracker remembers the current picker selection per session.
type SelectionTracker interface {
	Select(ctx context.Context, sessionID string, sel Selection) error
	Current(ctx context.Context, sessionID string) (Selection, bool, error)
}

// Picker resolves slots for the schedule view and drops responses that no
// longer match the session's selection.
type Picker struct {
	resolver *Resolver
	tracker  SelectionTracker
}

func NewPicker(resolver *Resolver, tracker SelectionTracker) *Picker {
	return &Picker{resolver: resolver, tracker: tracker}
}

// View is the picker's output for one selection.
type View struct {
	Selection
	FirstBookable string `json:"firstBookableDate"`
	Slots         []Slot `json:"slots"`
}

func (p *Picker) Show(ctx context.Context, sessionID, doctorID, date string) (*View, error) {
	sel := Selection{DoctorID: doctorID, Date: date}
	if err := p.tracker.Select(ctx, sessionID, sel); err != nil {
		return nil, fmt.Errorf("record selection: %w", err)
	}

	free, err := p.resolver.Resolve(ctx, doctorID, date)

	current, ok, terr := p.tracker.Current(ctx, sessionID)
	if terr != nil {
		return nil, fmt.Errorf("read selection: %w", terr)
	}
	if !ok || current != sel {
		return nil, ErrStaleSelection
	}
	if err != nil {
		return nil, err
	}

	first := FirstBookableDate(p.resolver.Now(), p.resolver.Location())
	return &View{
		Selection:     sel,
		FirstBookable: first.Format(DateLayout),
		Slots:         free,
	}, nil
}

// MemoryTracker is an in-process SelectionTracker.
type MemoryTracker struct {
	mu   sync.Mutex
	sels map[string]Selection
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{sels: make(map[string]Selection)}
}

func (t *MemoryTracker) Select(_ context.Context, sessionID string, sel Selection) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sels[sessionID] = sel
	return nil
}

func (t *MemoryTracker) Current(_ context.Context, sessionID string) (Selection, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sel, ok := t.sels[sessionID]
	return sel, ok, nil
}
