package wallets

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/idempotency"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

type memoryStore struct {
	keys map[string]struct{}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	if _, ok := m.keys[key]; ok {
		return "1", nil
	}
	return "", nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = struct{}{}
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "mkt:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

type fakeAddresses struct {
	added   []string
	removed []string
	err     error
}

func (f *fakeAddresses) AddAddresses(_ context.Context, addresses ...string) error {
	if f.err != nil {
		return f.err
	}
	f.added = append(f.added, addresses...)
	return nil
}

func (f *fakeAddresses) RemoveAddresses(_ context.Context, addresses ...string) error {
	f.removed = append(f.removed, addresses...)
	return nil
}

type noopReceiver struct{}

func (noopReceiver) Receive(context.Context, func(context.Context, *pubsub.Message)) error {
	return nil
}

func newWatcher(t *testing.T, addresses *fakeAddresses) (*Watcher, *idempotency.Guard) {
	t.Helper()
	manager, err := idempotency.NewGuard(&memoryStore{keys: map[string]struct{}{}}, time.Hour)
	require.NoError(t, err)
	w, err := NewWatcher(noopReceiver{}, manager, addresses, logger.New(logger.Options{Output: io.Discard}))
	require.NoError(t, err)
	return w, manager
}

func walletMessage(t *testing.T, eventType enums.OutboxEventType, eventID uuid.UUID, data any) *pubsub.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	body, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	})
	require.NoError(t, err)
	return &pubsub.Message{ID: "msg-1", Data: body, Attributes: map[string]string{"event_type": string(eventType)}}
}

func TestWatcherAddsAddressOnce(t *testing.T) {
	addresses := &fakeAddresses{}
	w, _ := newWatcher(t, addresses)
	msg := walletMessage(t, enums.EventWalletRegistered, uuid.New(), payloads.WalletRegisteredEvent{
		UserID:  uuid.New(),
		Address: "0x52908400098527886e0f7030069857d2e4169ee7",
	})

	assert.True(t, w.process(context.Background(), msg))
	assert.True(t, w.process(context.Background(), msg))
	assert.Equal(t, []string{"0x52908400098527886e0f7030069857d2e4169ee7"}, addresses.added)
	assert.Empty(t, addresses.removed)
}

func TestWatcherSwapsReplacedAddress(t *testing.T) {
	addresses := &fakeAddresses{}
	w, _ := newWatcher(t, addresses)
	msg := walletMessage(t, enums.EventWalletRegistered, uuid.New(), payloads.WalletRegisteredEvent{
		UserID:          uuid.New(),
		Address:         "0x52908400098527886e0f7030069857d2e4169ee7",
		PreviousAddress: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
	})

	assert.True(t, w.process(context.Background(), msg))
	assert.Equal(t, []string{"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"}, addresses.removed)
}

func TestWatcherNacksAndClearsMarkOnFailure(t *testing.T) {
	addresses := &fakeAddresses{err: errors.New("alchemy down")}
	w, manager := newWatcher(t, addresses)
	eventID := uuid.New()
	msg := walletMessage(t, enums.EventWalletRegistered, eventID, payloads.WalletRegisteredEvent{
		UserID:  uuid.New(),
		Address: "0x52908400098527886e0f7030069857d2e4169ee7",
	})

	assert.False(t, w.process(context.Background(), msg))

	fresh, err := manager.Claim(context.Background(), walletWatcherConsumer, eventID)
	require.NoError(t, err)
	assert.True(t, fresh, "failed delivery must stay eligible for redelivery")
}

func TestWatcherSkipsForeignAndMalformedEvents(t *testing.T) {
	addresses := &fakeAddresses{}
	w, _ := newWatcher(t, addresses)

	assert.True(t, w.process(context.Background(), walletMessage(t, enums.EventOrderCompleted, uuid.New(), map[string]string{})))
	assert.True(t, w.process(context.Background(), &pubsub.Message{
		Data:       []byte("not json"),
		Attributes: map[string]string{"event_type": string(enums.EventWalletRegistered)},
	}))
	assert.True(t, w.process(context.Background(), walletMessage(t, enums.EventWalletRegistered, uuid.New(), payloads.WalletRegisteredEvent{UserID: uuid.New()})))
	assert.Empty(t, addresses.added)
}
