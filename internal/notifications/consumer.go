package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

const orderNotificationConsumer = "order-notifications"

type repository interface {
	Insert(ctx context.Context, notification *models.Notification) (bool, error)
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type eventGuard interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Forget(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// RealtimePublisher fans order updates out to connected clients.
type RealtimePublisher interface {
	ChannelName(parts ...string) string
	Publish(ctx context.Context, channel string, message any) (int64, error)
}

// RealtimeMessage is what subscribers of a user's order channel receive.
type RealtimeMessage struct {
	Type    enums.NotificationType `json:"type"`
	OrderID uuid.UUID              `json:"orderId"`
	ItemID  uuid.UUID              `json:"itemId"`
	Status  enums.OrderStatus      `json:"status"`
	Message string                 `json:"message,omitempty"`
}

// Consumer watches order events and writes per-user notifications for buyer and seller.
type Consumer struct {
	repo         repository
	subscription receiver
	idempotency  eventGuard
	realtime     RealtimePublisher
	logg         *logger.Logger
}

// NewConsumer builds an order notification consumer. realtime may be nil.
func NewConsumer(repo repository, subscription receiver, guard eventGuard, realtime RealtimePublisher, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if guard == nil {
		return nil, fmt.Errorf("event guard required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		idempotency:  guard,
		realtime:     realtime,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

// notice is one notification row plus its realtime twin.
type notice struct {
	userID  uuid.UUID
	title   string
	message string
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	switch eventType {
	case enums.EventOrderReserved, enums.EventOrderCompleted, enums.EventOrderFailed:
	default:
		c.logg.Info(logCtx, "skipping non-order event")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithEventID(logCtx, eventID.String())

	fresh, err := c.idempotency.Claim(ctx, orderNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if !fresh {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	if err := c.handle(ctx, logCtx, eventType, envelope.Data); err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		_ = c.idempotency.Forget(ctx, orderNotificationConsumer, eventID)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

func (c *Consumer) handle(ctx, logCtx context.Context, eventType enums.OutboxEventType, data json.RawMessage) error {
	var (
		orderID  uuid.UUID
		itemID   uuid.UUID
		status   enums.OrderStatus
		kind     enums.NotificationType
		notices  []notice
		decodeFn = func(v any) error {
			if err := json.Unmarshal(data, v); err != nil {
				return fmt.Errorf("parse %s payload: %w", eventType, err)
			}
			return nil
		}
	)

	switch eventType {
	case enums.EventOrderReserved:
		var payload payloads.OrderReservedEvent
		if err := decodeFn(&payload); err != nil {
			return err
		}
		orderID, itemID, status, kind = payload.OrderID, payload.ItemID, enums.OrderStatusPending, enums.NotificationTypeOrderReserved
		notices = []notice{
			{userID: payload.BuyerID, title: "Order placed", message: "Your item is reserved while we confirm your payment."},
			{userID: payload.SellerID, title: "Item reserved", message: "A buyer reserved your item. We will let you know once payment settles."},
		}
	case enums.EventOrderCompleted:
		var payload payloads.OrderCompletedEvent
		if err := decodeFn(&payload); err != nil {
			return err
		}
		orderID, itemID, status, kind = payload.OrderID, payload.ItemID, enums.OrderStatusCompleted, enums.NotificationTypeOrderCompleted
		notices = []notice{
			{userID: payload.BuyerID, title: "Payment confirmed", message: fmt.Sprintf("Your payment of $%s was confirmed.", payload.AmountPaidUSD.StringFixed(2))},
			{userID: payload.SellerID, title: "Item sold", message: "Your item sold. Prepare it for shipping."},
		}
	case enums.EventOrderFailed:
		var payload payloads.OrderFailedEvent
		if err := decodeFn(&payload); err != nil {
			return err
		}
		orderID, itemID, status, kind = payload.OrderID, payload.ItemID, enums.OrderStatusFailed, enums.NotificationTypeOrderFailed
		sellerMessage := "A pending order on your item did not complete."
		if payload.ItemReleased {
			sellerMessage = "A pending order on your item did not complete. The item is available again."
		}
		notices = []notice{
			{userID: payload.BuyerID, title: "Payment not completed", message: settlement.FailedOrderMessage},
			{userID: payload.SellerID, title: "Order not completed", message: sellerMessage},
		}
	}

	if orderID == uuid.Nil {
		return fmt.Errorf("order id missing")
	}
	logCtx = c.logg.WithOrderID(logCtx, orderID.String())

	for _, n := range notices {
		if n.userID == uuid.Nil {
			continue
		}
		created, err := c.repo.Insert(ctx, &models.Notification{
			UserID:  n.userID,
			OrderID: orderID,
			Type:    kind,
			Title:   n.title,
			Message: n.message,
		})
		if err != nil {
			return fmt.Errorf("create notification: %w", err)
		}
		if !created {
			continue
		}
		c.publish(ctx, logCtx, n.userID, RealtimeMessage{
			Type:    kind,
			OrderID: orderID,
			ItemID:  itemID,
			Status:  status,
			Message: n.message,
		})
	}
	c.logg.Info(logCtx, "order notifications written")
	return nil
}

// publish logs and drops realtime failures.
func (c *Consumer) publish(ctx, logCtx context.Context, userID uuid.UUID, message RealtimeMessage) {
	if c.realtime == nil {
		return
	}
	body, err := json.Marshal(message)
	if err != nil {
		c.logg.Error(logCtx, "encode realtime message", err)
		return
	}
	channel := c.realtime.ChannelName("orders", userID.String())
	if _, err := c.realtime.Publish(ctx, channel, string(body)); err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "channel", channel), "realtime publish failed")
	}
}
