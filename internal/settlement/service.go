// Package settlement owns the pending → completed | failed state machine for orders.
// It is the only writer of terminal order states and of sold items.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/ledger"
	"github.com/angelmondragon/marketplace-settlement/pkg/chain"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-settlement/pkg/tracing"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Settler applies a provider outcome to a pending order.
type Settler interface {
	SettleOrder(ctx context.Context, orderID uuid.UUID, outcome Outcome) (*Result, error)
}

// Service exposes settlement plus the read side of orders.
type Service interface {
	Settler
	OrderStatus(ctx context.Context, userID, orderID uuid.UUID) (*OrderView, error)
	ListOrders(ctx context.Context, userID uuid.UUID, role enums.OrderRole, limit int, cursor string) (*OrderPage, error)
	DebugSimulate(ctx context.Context, userID, orderID uuid.UUID, result enums.SettlementResult) (*Result, error)
}

// Outcome is what a confirmation source observed for one order.
type Outcome struct {
	Result enums.SettlementResult
	// Source names the caller for logs: stripe, alchemy, sweeper or debug.
	Source string

	ReportedAmountCents  *int64
	ReportedRecipient    string
	ReportedCryptoAmount string
	CardBrand            string
	CardLast4            string
	// Intent is the item and buyer a card PaymentIntent was created for. Nil when the source has none.
	Intent *IntentMetadata

	// Reason is stored on rejected orders; defaults to declined.
	Reason enums.FailureReason
}

// IntentMetadata carries the ids stamped on a PaymentIntent at reservation time.
type IntentMetadata struct {
	ItemID  string
	BuyerID string
}

// Result reports the order state after a settlement call.
type Result struct {
	OrderID uuid.UUID
	Status  enums.OrderStatus
	Changed bool
	Anomaly *enums.AnomalyKind
}

type ServiceParams struct {
	TxRunner     txRunner
	Repository   ledger.Repository
	Outbox       outboxPublisher
	Metrics      *metrics.SettlementMetrics
	Logger       *logger.Logger
	DebugEnabled bool
}

type service struct {
	tx           txRunner
	repo         ledger.Repository
	outbox       outboxPublisher
	metrics      *metrics.SettlementMetrics
	logg         *logger.Logger
	debugEnabled bool
}

// NewService builds the settlement service.
func NewService(params ServiceParams) (Service, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		tx:           params.TxRunner,
		repo:         params.Repository,
		outbox:       params.Outbox,
		metrics:      params.Metrics,
		logg:         params.Logger,
		debugEnabled: params.DebugEnabled,
	}, nil
}

// lateConfirmation tags confirmations that arrive after the order failed. Only logged; the order is not reopened.
const lateConfirmation = "late_confirmation"

type anomaly struct {
	kind     enums.AnomalyKind
	expected string
	reported string
}

func (s *service) SettleOrder(ctx context.Context, orderID uuid.UUID, outcome Outcome) (result *Result, err error) {
	ctx, span := tracing.Start(ctx, "settlement.settle_order",
		attribute.String("order_id", orderID.String()),
		attribute.String("result", string(outcome.Result)),
		attribute.String("source", outcome.Source),
	)
	defer func() { tracing.End(span, err) }()

	if !outcome.Result.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "settlement result must be confirmed or rejected")
	}

	var (
		flagged *anomaly
		order   *models.Order
	)
	result = &Result{OrderID: orderID}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		flagged = nil

		locked, err := repo.FindOrderForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		order = locked
		result.Status = locked.Status

		if locked.Status.IsTerminal() {
			return nil
		}

		item, err := repo.FindItemForUpdate(ctx, locked.ItemID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock item")
		}

		if outcome.Result == enums.SettlementConfirmed {
			flagged = verifyPayment(locked, outcome)
			if flagged == nil {
				flagged, err = checkOversell(ctx, repo, locked, item)
				if err != nil {
					return err
				}
				if flagged != nil {
					// The item belongs to someone else's order; leave it alone.
					return s.fail(ctx, tx, repo, locked, result, enums.FailureReasonOversell, false, flagged)
				}
				return s.complete(ctx, tx, repo, locked, result, outcome)
			}
			return s.reject(ctx, tx, repo, locked, item, result, enums.FailureReason(flagged.kind), flagged)
		}

		reason := outcome.Reason
		if reason == "" {
			reason = enums.FailureReasonDeclined
		}
		return s.reject(ctx, tx, repo, locked, item, result, reason, nil)
	})
	if err != nil {
		return nil, err
	}

	s.observe(ctx, order, outcome, result, flagged)
	return result, nil
}

// verifyPayment checks the reported funds against the order snapshot.
func verifyPayment(order *models.Order, outcome Outcome) *anomaly {
	switch order.PaymentMethod {
	case enums.PaymentMethodCard:
		if flagged := verifyIntent(order, outcome.Intent); flagged != nil {
			return flagged
		}
		expected := ledger.Cents(order.AmountPaidUSD)
		reported := "missing"
		if outcome.ReportedAmountCents != nil {
			if *outcome.ReportedAmountCents == expected {
				return nil
			}
			reported = strconv.FormatInt(*outcome.ReportedAmountCents, 10)
		}
		return &anomaly{kind: enums.AnomalyAmountMismatch, expected: strconv.FormatInt(expected, 10), reported: reported}
	case enums.PaymentMethodCrypto:
		expectedRecipient := derefString(order.SellerWalletAddress)
		if !chain.SameAddress(expectedRecipient, outcome.ReportedRecipient) {
			return &anomaly{kind: enums.AnomalyRecipientMismatch, expected: expectedRecipient, reported: outcome.ReportedRecipient}
		}
		expectedAmount := derefString(order.AmountPaidCrypto)
		want, wantErr := decimal.NewFromString(expectedAmount)
		got, gotErr := decimal.NewFromString(outcome.ReportedCryptoAmount)
		if wantErr != nil || gotErr != nil || !want.Equal(got) {
			return &anomaly{kind: enums.AnomalyAmountMismatch, expected: expectedAmount, reported: outcome.ReportedCryptoAmount}
		}
		return nil
	default:
		return &anomaly{kind: enums.AnomalyAmountMismatch, expected: "known payment method", reported: string(order.PaymentMethod)}
	}
}

// checkOversell requires the item to still be reserved with this order as its only pending claim.
// verifyIntent checks that the intent was created for this order's item and buyer.
func verifyIntent(order *models.Order, meta *IntentMetadata) *anomaly {
	if meta == nil {
		return nil
	}
	expected := "item=" + order.ItemID.String() + " buyer=" + order.BuyerID.String()
	reported := "item=" + meta.ItemID + " buyer=" + meta.BuyerID
	if !strings.EqualFold(meta.ItemID, order.ItemID.String()) || !strings.EqualFold(meta.BuyerID, order.BuyerID.String()) {
		return &anomaly{kind: enums.AnomalyIntentMismatch, expected: expected, reported: reported}
	}
	return nil
}

func checkOversell(ctx context.Context, repo ledger.Repository, order *models.Order, item *models.Item) (*anomaly, error) {
	if item.Status != enums.ItemStatusReserved {
		return &anomaly{kind: enums.AnomalyOversell, expected: string(enums.ItemStatusReserved), reported: string(item.Status)}, nil
	}
	others, err := repo.CountOtherPendingOrders(ctx, item.ID, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count pending orders")
	}
	if others > 0 {
		return &anomaly{kind: enums.AnomalyOversell, expected: "0 other pending orders", reported: strconv.FormatInt(others, 10)}, nil
	}
	return nil, nil
}

func (s *service) complete(ctx context.Context, tx *gorm.DB, repo ledger.Repository, order *models.Order, result *Result, outcome Outcome) error {
	now := time.Now().UTC()
	update := ledger.OrderUpdate{Status: enums.OrderStatusCompleted, SettledAt: now}
	if order.PaymentMethod == enums.PaymentMethodCard {
		if outcome.CardBrand != "" {
			brand := enums.NormalizeCardBrand(outcome.CardBrand)
			update.CardBrand = &brand
		}
		if outcome.CardLast4 != "" {
			last4 := outcome.CardLast4
			update.CardLast4 = &last4
		}
	}

	if err := transitionOrder(ctx, repo, order.ID, update); err != nil {
		return err
	}
	sold, err := repo.TransitionItem(ctx, order.ItemID, enums.ItemStatusReserved, enums.ItemStatusSold)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark item sold")
	}
	if !sold {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "item left reserved state during settlement")
	}

	result.Status = enums.OrderStatusCompleted
	result.Changed = true

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCompleted,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		OccurredAt:    now,
		Data: payloads.OrderCompletedEvent{
			OrderID:       order.ID,
			ItemID:        order.ItemID,
			BuyerID:       order.BuyerID,
			SellerID:      order.SellerID,
			PaymentMethod: order.PaymentMethod,
			AmountPaidUSD: order.AmountPaidUSD,
			SettledAt:     now,
		},
	})
}

// reject fails the order and hands the item back to the market when nothing else holds it.
func (s *service) reject(ctx context.Context, tx *gorm.DB, repo ledger.Repository, order *models.Order, item *models.Item, result *Result, reason enums.FailureReason, flagged *anomaly) error {
	release := false
	if item.Status == enums.ItemStatusReserved {
		others, err := repo.CountOtherPendingOrders(ctx, item.ID, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count pending orders")
		}
		release = others == 0
	}
	return s.fail(ctx, tx, repo, order, result, reason, release, flagged)
}

func (s *service) fail(ctx context.Context, tx *gorm.DB, repo ledger.Repository, order *models.Order, result *Result, reason enums.FailureReason, releaseItem bool, flagged *anomaly) error {
	now := time.Now().UTC()
	if err := transitionOrder(ctx, repo, order.ID, ledger.OrderUpdate{
		Status:        enums.OrderStatusFailed,
		FailureReason: &reason,
		SettledAt:     now,
	}); err != nil {
		return err
	}

	if releaseItem {
		released, err := repo.TransitionItem(ctx, order.ItemID, enums.ItemStatusReserved, enums.ItemStatusAvailable)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release item")
		}
		releaseItem = released
	}

	if flagged != nil {
		if err := s.recordAnomaly(ctx, tx, repo, order, flagged); err != nil {
			return err
		}
		kind := flagged.kind
		result.Anomaly = &kind
	}

	result.Status = enums.OrderStatusFailed
	result.Changed = true

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderFailed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		OccurredAt:    now,
		Data: payloads.OrderFailedEvent{
			OrderID:      order.ID,
			ItemID:       order.ItemID,
			BuyerID:      order.BuyerID,
			SellerID:     order.SellerID,
			Reason:       reason,
			ItemReleased: releaseItem,
			SettledAt:    now,
		},
	})
}

func (s *service) recordAnomaly(ctx context.Context, tx *gorm.DB, repo ledger.Repository, order *models.Order, flagged *anomaly) error {
	details, err := json.Marshal(map[string]string{
		"expected":       flagged.expected,
		"reported":       flagged.reported,
		"payment_method": string(order.PaymentMethod),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode anomaly details")
	}
	row := &models.SettlementAnomaly{
		ID:        uuid.New(),
		OrderID:   order.ID,
		ItemID:    order.ItemID,
		Kind:      flagged.kind,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.CreateAnomaly(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record anomaly")
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSettlementAnomaly,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.SettlementAnomalyEvent{
			AnomalyID: row.ID,
			OrderID:   order.ID,
			ItemID:    order.ItemID,
			Kind:      flagged.kind,
			Expected:  flagged.expected,
			Reported:  flagged.reported,
		},
	})
}

func transitionOrder(ctx context.Context, repo ledger.Repository, orderID uuid.UUID, update ledger.OrderUpdate) error {
	moved, err := repo.TransitionOrder(ctx, orderID, enums.OrderStatusPending, update)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
	}
	if !moved {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order left pending state during settlement")
	}
	return nil
}

// observe emits logs and metrics once the transaction has committed.
func (s *service) observe(ctx context.Context, order *models.Order, outcome Outcome, result *Result, flagged *anomaly) {
	label := "noop"
	if result.Changed {
		label = string(result.Status)
	}
	s.metrics.IncSettlement(label)
	if flagged != nil {
		s.metrics.IncAnomaly(string(flagged.kind))
	}

	if s.logg == nil || order == nil {
		return
	}
	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"item_id":        order.ItemID.String(),
		"payment_method": order.PaymentMethod,
		"source":         outcome.Source,
		"result":         outcome.Result,
		"status":         result.Status,
	})
	if flagged != nil {
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"anomaly_kind": flagged.kind,
			"expected":     flagged.expected,
			"reported":     flagged.reported,
		})
		s.logg.Error(logCtx, "settlement anomaly", fmt.Errorf("%s on order %s", flagged.kind, order.ID))
		return
	}
	if !result.Changed {
		if outcome.Result == enums.SettlementConfirmed && result.Status != enums.OrderStatusCompleted {
			// funds arrived for an order that already failed; needs a manual refund
			logCtx = s.logg.WithField(logCtx, "anomaly_kind", lateConfirmation)
			s.logg.Warn(logCtx, "payment confirmed for terminal order")
			return
		}
		s.logg.Info(logCtx, "settlement ignored for terminal order")
		return
	}
	s.logg.Info(logCtx, "order settled")
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
