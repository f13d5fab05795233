package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-booking-gateway/internal/slots"
)

// SelectionTracker stores the schedule picker's current selection per
// session so every gateway replica agrees on what is current.
type SelectionTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSelectionTracker(client *redis.Client, ttl time.Duration) *SelectionTracker {
	return &SelectionTracker{client: client, ttl: ttl}
}

func pickerKey(sessionID string) string {
	return "picker:" + sessionID
}

func (t *SelectionTracker) Select(ctx context.Context, sessionID string, sel slots.Selection) error {
	raw, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("encode selection: %w", err)
	}
	if err := t.client.Set(ctx, pickerKey(sessionID), raw, t.ttl).Err(); err != nil {
		return fmt.Errorf("store selection: %w", err)
	}
	return nil
}

func (t *SelectionTracker) Current(ctx context.Context, sessionID string) (slots.Selection, bool, error) {
	raw, err := t.client.Get(ctx, pickerKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return slots.Selection{}, false, nil
		}
		return slots.Selection{}, false, fmt.Errorf("load selection: %w", err)
	}

	var sel slots.Selection
	if err := json.Unmarshal(raw, &sel); err != nil {
		return slots.Selection{}, false, fmt.Errorf("decode selection: %w", err)
	}
	return sel, true, nil
}
