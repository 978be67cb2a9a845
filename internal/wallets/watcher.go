package wallets

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/registry"
)

const walletWatcherConsumer = "wallet-watcher"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type eventGuard interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Forget(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// AddressWatcher maintains the set of addresses the chain webhook reports on.
type AddressWatcher interface {
	AddAddresses(ctx context.Context, addresses ...string) error
	RemoveAddresses(ctx context.Context, addresses ...string) error
}

// Watcher keeps the crypto webhook address list in step with registered seller wallets.
type Watcher struct {
	subscription receiver
	idempotency  eventGuard
	addresses    AddressWatcher
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

func NewWatcher(subscription receiver, guard eventGuard, addresses AddressWatcher, logg *logger.Logger) (*Watcher, error) {
	if subscription == nil {
		return nil, fmt.Errorf("wallet subscription required")
	}
	if guard == nil {
		return nil, fmt.Errorf("event guard required")
	}
	if addresses == nil {
		return nil, fmt.Errorf("address watcher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	decoders := registry.NewDecoderRegistry()
	registry.RegisterJSON[payloads.WalletRegisteredEvent](decoders, enums.EventWalletRegistered, 1)
	return &Watcher{
		subscription: subscription,
		idempotency:  guard,
		addresses:    addresses,
		decoders:     decoders,
		logg:         logg,
	}, nil
}

// Run receives wallet events until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	return w.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if w.process(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process reports whether the message should be acked.
func (w *Watcher) process(ctx context.Context, msg *pubsub.Message) bool {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := w.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})
	if eventType != enums.EventWalletRegistered {
		w.logg.Info(logCtx, "skipping non-wallet event")
		return true
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		w.logg.Error(logCtx, "failed to decode envelope", err)
		return true
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		w.logg.Error(logCtx, "invalid event id", err)
		return true
	}
	logCtx = w.logg.WithEventID(logCtx, eventID.String())

	decoded, err := w.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		w.logg.Error(logCtx, "failed to decode wallet event", err)
		return true
	}
	payload := decoded.(payloads.WalletRegisteredEvent)
	if payload.Address == "" {
		w.logg.Warn(logCtx, "wallet event without address")
		return true
	}

	fresh, err := w.idempotency.Claim(ctx, walletWatcherConsumer, eventID)
	if err != nil {
		w.logg.Error(logCtx, "idempotency check failed", err)
		return false
	}
	if !fresh {
		w.logg.Info(logCtx, "event already processed")
		return true
	}

	logCtx = w.logg.WithUserID(logCtx, payload.UserID.String())
	if err := w.sync(ctx, payload); err != nil {
		w.logg.Error(logCtx, "address watch update failed", err)
		_ = w.idempotency.Forget(ctx, walletWatcherConsumer, eventID)
		return false
	}
	w.logg.Info(w.logg.WithField(logCtx, "address", payload.Address), "wallet address watched")
	return true
}

func (w *Watcher) sync(ctx context.Context, payload payloads.WalletRegisteredEvent) error {
	if err := w.addresses.AddAddresses(ctx, payload.Address); err != nil {
		return fmt.Errorf("add address: %w", err)
	}
	if payload.PreviousAddress != "" && payload.PreviousAddress != payload.Address {
		if err := w.addresses.RemoveAddresses(ctx, payload.PreviousAddress); err != nil {
			return fmt.Errorf("remove previous address: %w", err)
		}
	}
	return nil
}
