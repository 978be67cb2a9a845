// Package webhooks holds pieces shared by the provider webhook receivers.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/marketplace-settlement/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
)

var errNoEventID = errors.New("event id is required")

// AppliedEvents remembers provider event ids whose effects were committed. An id is recorded only after
// its handler succeeds, so a delivery that fails or is still in flight never suppresses a retry.
type AppliedEvents struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
	now   func() time.Time
}

func NewAppliedEvents(store redis.IdempotencyStore, ttl time.Duration, scope string) (*AppliedEvents, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	case scope == "":
		return nil, errors.New("scope is required")
	}
	return &AppliedEvents{store: store, ttl: ttl, scope: scope, now: time.Now}, nil
}

// Applied reports whether eventID was already recorded.
func (a *AppliedEvents) Applied(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errNoEventID
	}
	v, err := a.store.Get(ctx, a.store.IdempotencyKey(a.scope, eventID))
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read applied marker: %w", err)
	}
	return v != "", nil
}

// Record stores the applied marker with the commit time. Recording twice is harmless.
func (a *AppliedEvents) Record(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errNoEventID
	}
	stamp := a.now().UTC().Format(time.RFC3339)
	if _, err := a.store.SetNX(ctx, a.store.IdempotencyKey(a.scope, eventID), stamp, a.ttl); err != nil {
		return fmt.Errorf("record applied marker: %w", err)
	}
	return nil
}
