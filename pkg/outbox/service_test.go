package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/testdb"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

func TestEmitWritesEnvelopeInsideTransaction(t *testing.T) {
	db := testdb.Open(t)
	repo := outbox.NewRepository(db)
	svc := outbox.NewService(repo, nil)
	orderID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventOrderFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data: payloads.OrderFailedEvent{
				OrderID: orderID,
				Reason:  enums.FailureReasonExpired,
			},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventOrderFailed, rows[0].EventType)
	assert.Equal(t, orderID, rows[0].AggregateID)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)

	var data payloads.OrderFailedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, enums.FailureReasonExpired, data.Reason)
}

func TestEmitRollsBackWithCaller(t *testing.T) {
	db := testdb.Open(t)
	svc := outbox.NewService(outbox.NewRepository(db), nil)

	boom := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventOrderReserved,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          payloads.OrderReservedEvent{},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := outbox.NewService(outbox.NewRepository(nil), nil)
	err := svc.Emit(context.Background(), nil, outbox.DomainEvent{})
	require.Error(t, err)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	db := testdb.Open(t)
	repo := outbox.NewRepository(db)

	published := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCompleted,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}
	exhausted := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderFailed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}
	require.NoError(t, repo.Insert(db, published))
	require.NoError(t, repo.Insert(db, exhausted))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkPublishedTx(tx, published.ID); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, exhausted.ID, errors.New("topic missing"), 3)
	}))

	var pending []models.OutboxEvent
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		pending, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	assert.Empty(t, pending)

	removed, err := repo.DeletePublishedBefore(nil, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	var remaining int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)
}

func TestRepositoryMarkFailedCountsAttempts(t *testing.T) {
	db := testdb.Open(t)
	repo := outbox.NewRepository(db)

	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderReserved,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}
	require.NoError(t, repo.Insert(db, event))
	require.NoError(t, repo.MarkFailedTx(db, event.ID, errors.New("unavailable")))

	var stored models.OutboxEvent
	require.NoError(t, db.First(&stored, "id = ?", event.ID).Error)
	assert.Equal(t, 1, stored.AttemptCount)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "unavailable", *stored.LastError)
}

func TestDeadLettersInsertGetAndRequeue(t *testing.T) {
	db := testdb.Open(t)
	repo := outbox.NewRepository(db)
	dlq := outbox.NewDeadLetters(db)

	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderFailed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
	}
	require.NoError(t, repo.Insert(db, row))
	require.NoError(t, repo.MarkTerminalTx(db, row.ID, errors.New("decode failed"), 10))

	msg := strings.Repeat("é", 700)
	require.NoError(t, dlq.InsertTx(db, models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
		ErrorMessage:  &msg,
		FailedAt:      time.Now().UTC(),
	}))

	found, err := dlq.Get(context.Background(), row.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, found.ErrorReason)
	assert.LessOrEqual(t, len(*found.ErrorMessage), 1024)
	assert.True(t, utf8.ValidString(*found.ErrorMessage))

	recent, err := dlq.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	require.NoError(t, dlq.Requeue(context.Background(), row.ID))
	gone, err := dlq.Get(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	var reset models.OutboxEvent
	require.NoError(t, db.First(&reset, "id = ?", row.ID).Error)
	assert.Zero(t, reset.AttemptCount)
	assert.Nil(t, reset.LastError)

	assert.ErrorIs(t, dlq.Requeue(context.Background(), uuid.New()), outbox.ErrNotDeadLettered)
}

func TestDeadLettersRequeueRestoresPrunedRow(t *testing.T) {
	db := testdb.Open(t)
	dlq := outbox.NewDeadLetters(db)
	eventID := uuid.New()
	require.NoError(t, dlq.InsertTx(db, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventOrderCompleted,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
		ErrorReason:   enums.OutboxDLQReasonUndeliverable,
		FailedAt:      time.Now().UTC(),
	}))

	require.NoError(t, dlq.Requeue(context.Background(), eventID))
	var restored models.OutboxEvent
	require.NoError(t, db.First(&restored, "id = ?", eventID).Error)
	assert.Equal(t, enums.EventOrderCompleted, restored.EventType)
	assert.Nil(t, restored.PublishedAt)
}

func TestEmitAllQueuesEveryEvent(t *testing.T) {
	db := testdb.Open(t)
	svc := outbox.NewService(outbox.NewRepository(db), nil)
	orderID := uuid.New()

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.EmitAll(context.Background(), tx,
			outbox.DomainEvent{EventType: enums.EventOrderCompleted, AggregateType: enums.AggregateOrder, AggregateID: orderID, Data: map[string]string{}},
			outbox.DomainEvent{EventType: enums.EventOrderFailed, AggregateType: enums.AggregateOrder, AggregateID: orderID, Data: map[string]string{}, Version: 2},
		)
	}))

	var rows []models.OutboxEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 2)
	var failed models.OutboxEvent
	require.NoError(t, db.First(&failed, "event_type = ?", enums.EventOrderFailed).Error)
	var env outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(failed.Payload, &env))
	assert.Equal(t, 2, env.Version)
	assert.False(t, env.OccurredAt.IsZero())
}
