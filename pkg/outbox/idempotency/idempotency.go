// Package idempotency deduplicates Pub/Sub deliveries per consumer.
// Pub/Sub is at-least-once, so every consumer claims an event id before acting on it.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/redis"
)

var (
	ErrNoConsumer = errors.New("consumer name is required")
	ErrNoEventID  = errors.New("event id is required")
)

// Guard records claimed event ids in Redis under mkt:idempotency:evt:<consumer>:<event_id>.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewGuard keeps each claim for ttl. A zero ttl keeps claims until evicted.
func NewGuard(store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must not be negative")
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// Claim reports true when this call is the first to see eventID for consumer.
// A false result means an earlier delivery already claimed it and the caller should ack and skip.
func (g *Guard) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := g.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	return g.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl)
}

// Forget drops a claim so the next redelivery is processed again. Call it when handling failed.
func (g *Guard) Forget(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := g.key(consumer, eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(consumer string, eventID uuid.UUID) (string, error) {
	switch {
	case consumer == "":
		return "", ErrNoConsumer
	case eventID == uuid.Nil:
		return "", ErrNoEventID
	}
	return g.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
