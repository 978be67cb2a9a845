package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	values map[string]any
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]any{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v.(string), nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.setErr != nil {
		return false, m.setErr
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "mkt:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func TestAppliedEventsRecordsAfterCommit(t *testing.T) {
	store := newMemoryStore()
	events, err := NewAppliedEvents(store, 72*time.Hour, "alchemy")
	require.NoError(t, err)
	events.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	applied, err := events.Applied(ctx, "whevt_1")
	require.NoError(t, err)
	assert.False(t, applied, "unknown event must not read as applied")

	require.NoError(t, events.Record(ctx, "whevt_1"))
	applied, err = events.Applied(ctx, "whevt_1")
	require.NoError(t, err)
	assert.True(t, applied)

	key := "mkt:idempotency:alchemy:whevt_1"
	assert.Equal(t, "2026-03-01T12:00:00Z", store.values[key])
	assert.Equal(t, 72*time.Hour, store.ttls[key])

	// a second record keeps the first commit time
	events.now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, events.Record(ctx, "whevt_1"))
	assert.Equal(t, "2026-03-01T12:00:00Z", store.values[key])
}

func TestAppliedEventsValidation(t *testing.T) {
	_, err := NewAppliedEvents(nil, time.Hour, "stripe")
	assert.Error(t, err)
	_, err = NewAppliedEvents(newMemoryStore(), time.Hour, "")
	assert.Error(t, err)
	_, err = NewAppliedEvents(newMemoryStore(), -time.Second, "stripe")
	assert.Error(t, err)

	events, err := NewAppliedEvents(newMemoryStore(), time.Hour, "stripe")
	require.NoError(t, err)
	_, err = events.Applied(context.Background(), "")
	assert.Error(t, err)
	assert.Error(t, events.Record(context.Background(), ""))
}

func TestAppliedEventsStoreErrors(t *testing.T) {
	store := newMemoryStore()
	store.getErr = errors.New("redis down")
	store.setErr = errors.New("redis down")
	events, err := NewAppliedEvents(store, time.Hour, "stripe")
	require.NoError(t, err)

	_, err = events.Applied(context.Background(), "evt_1")
	assert.ErrorContains(t, err, "read applied marker")
	assert.ErrorContains(t, events.Record(context.Background(), "evt_1"), "record applied marker")
}
