package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

// DomainEvent is one fact to publish once the caller's transaction commits.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	// Version defaults to 1 and OccurredAt to now.
	Version    int
	OccurredAt time.Time
}

// Service writes domain events into outbox_events on the caller's transaction,
// so an event exists if and only if the state change that produced it committed.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	return s.EmitAll(ctx, tx, event)
}

// EmitAll queues events in order. Any failure leaves the transaction for the caller to roll back.
func (s *Service) EmitAll(ctx context.Context, tx *gorm.DB, events ...DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	for _, event := range events {
		row, eventID, err := s.seal(event)
		if err != nil {
			return fmt.Errorf("seal %s: %w", event.EventType, err)
		}
		if err := s.repo.Insert(tx, row); err != nil {
			return fmt.Errorf("queue %s: %w", event.EventType, err)
		}
		if s.logg != nil {
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{
				"event_id":       eventID,
				"event_type":     event.EventType,
				"aggregate_type": event.AggregateType,
				"aggregate_id":   event.AggregateID.String(),
			}), "outbox event queued")
		}
	}
	return nil
}

// seal wraps the event data in a versioned envelope and builds the outbox row.
func (s *Service) seal(event DomainEvent) (models.OutboxEvent, string, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, "", err
	}
	env := PayloadEnvelope{
		Version:    max(event.Version, 1),
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt,
		Actor:      event.Actor,
		Data:       data,
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = s.now().UTC()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return models.OutboxEvent{}, "", err
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}, env.EventID, nil
}
