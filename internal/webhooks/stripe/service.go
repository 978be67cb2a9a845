package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	pkgstripe "github.com/angelmondragon/marketplace-settlement/pkg/stripe"
)

type orderLookup interface {
	FindOrderByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error)
}

type ServiceParams struct {
	Orders  orderLookup
	Settler settlement.Settler
	Logger  *logger.Logger
}

// Service turns PaymentIntent lifecycle events into settlement outcomes.
type Service struct {
	orders  orderLookup
	settler settlement.Settler
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order lookup required")
	}
	if params.Settler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settler required")
	}
	return &Service{
		orders:  params.Orders,
		settler: params.Settler,
		logg:    params.Logger,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	var outcome settlement.Outcome
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		outcome.Result = enums.SettlementConfirmed
	case stripe.EventTypePaymentIntentPaymentFailed:
		outcome.Result = enums.SettlementRejected
		outcome.Reason = enums.FailureReasonDeclined
	case stripe.EventTypePaymentIntentCanceled:
		outcome.Result = enums.SettlementRejected
		outcome.Reason = enums.FailureReasonCanceled
	default:
		return nil
	}
	outcome.Source = "stripe"

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}
	if intent.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}

	order, err := s.orders.FindOrderByPaymentIntent(ctx, intent.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The reservation may not have committed yet; a non-2xx makes Stripe redeliver.
			return pkgerrors.New(pkgerrors.CodeNotFound, "no order for payment intent").
				WithDetails(map[string]any{"payment_intent_id": intent.ID})
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup order by payment intent")
	}

	if outcome.Result == enums.SettlementConfirmed {
		received := intent.AmountReceived
		outcome.ReportedAmountCents = &received
		outcome.CardBrand, outcome.CardLast4 = pkgstripe.CardSnapshot(&intent)
		outcome.Intent = &settlement.IntentMetadata{
			ItemID:  intent.Metadata["item_id"],
			BuyerID: intent.Metadata["buyer_id"],
		}
	}

	result, err := s.settler.SettleOrder(ctx, order.ID, outcome)
	if err != nil {
		return err
	}
	s.logResult(ctx, event, order.ID, result)
	return nil
}

func (s *Service) logResult(ctx context.Context, event *stripe.Event, orderID uuid.UUID, result *settlement.Result) {
	if s.logg == nil || result == nil {
		return
	}
	logCtx := s.logg.WithEventID(ctx, event.ID)
	logCtx = s.logg.WithOrderID(logCtx, orderID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"stripe_event_type": string(event.Type),
		"status":            result.Status,
		"changed":           result.Changed,
	})
	s.logg.Info(logCtx, "stripe payment intent event applied")
}
