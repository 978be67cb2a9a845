// Package reservation turns a buyer's purchase attempt into a pending order holding the item.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/ledger"
	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	dbpkg "github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
	pkgstripe "github.com/angelmondragon/marketplace-settlement/pkg/stripe"
	"github.com/angelmondragon/marketplace-settlement/pkg/tracing"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service reserves items for buyers.
type Service interface {
	ReserveItem(ctx context.Context, buyerID, itemID uuid.UUID, payment Payment) (*Reservation, error)
	CreateCardIntent(ctx context.Context, buyerID, itemID uuid.UUID) (*CardIntent, error)
}

// Reservation is the pending order created for a purchase attempt.
type Reservation struct {
	OrderID uuid.UUID
	Status  enums.OrderStatus
}

// CardIntent is what a client needs to confirm a card payment with Stripe.
type CardIntent struct {
	PaymentIntentID string
	ClientSecret    string
	AmountCents     int64
	Currency        string
}

type ServiceParams struct {
	TxRunner      txRunner
	Repository    ledger.Repository
	Outbox        outboxPublisher
	PaymentIntent pkgstripe.PaymentIntentClient
	Settlement    config.SettlementConfig
	Metrics       *metrics.SettlementMetrics
	Logger        *logger.Logger
}

type service struct {
	tx      txRunner
	repo    ledger.Repository
	outbox  outboxPublisher
	intents pkgstripe.PaymentIntentClient
	cfg     config.SettlementConfig
	metrics *metrics.SettlementMetrics
	logg    *logger.Logger
}

// NewService builds the reservation service. PaymentIntent may be nil when the card rail is disabled.
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
		tx:      params.TxRunner,
		repo:    params.Repository,
		outbox:  params.Outbox,
		intents: params.PaymentIntent,
		cfg:     params.Settlement,
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

func (s *service) ReserveItem(ctx context.Context, buyerID, itemID uuid.UUID, payment Payment) (res *Reservation, err error) {
	ctx, span := tracing.Start(ctx, "reservation.reserve_item",
		attribute.String("item_id", itemID.String()),
		attribute.String("payment_method", string(payment.Method)),
	)
	defer func() {
		tracing.End(span, err)
		s.metrics.IncReservation(string(payment.Method), reservationResult(err))
	}()

	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer identity required")
	}
	normalized, err := payment.normalize(s.cfg.ChainID)
	if err != nil {
		return nil, err
	}

	item, err := s.loadPurchasableItem(ctx, buyerID, itemID)
	if err != nil {
		return nil, err
	}

	var sellerWallet *string
	if normalized.method == enums.PaymentMethodCrypto {
		seller, err := s.repo.FindUser(ctx, item.SellerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeSellerNotConfigured, "seller account not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller")
		}
		if seller.CryptoWalletAddress == nil || *seller.CryptoWalletAddress == "" {
			return nil, pkgerrors.New(pkgerrors.CodeSellerNotConfigured, "seller has no receiving wallet").
				WithDetails(map[string]string{"paymentMethod": string(enums.PaymentMethodCrypto)})
		}
		wallet := *seller.CryptoWalletAddress
		sellerWallet = &wallet
	}

	order := buildOrder(item, buyerID, normalized, sellerWallet, s.cfg.ShippingCents)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		locked, err := repo.FindItemForUpdate(ctx, item.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock item")
		}
		if locked.Status != enums.ItemStatusAvailable {
			return itemUnavailable()
		}

		if err := repo.CreateOrder(ctx, order); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payment already used")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		reserved, err := repo.TransitionItem(ctx, item.ID, enums.ItemStatusAvailable, enums.ItemStatusReserved)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve item")
		}
		if !reserved {
			return itemUnavailable()
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderReserved,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: buyerID, Role: string(enums.OrderRoleBuyer)},
			Data: payloads.OrderReservedEvent{
				OrderID:       order.ID,
				ItemID:        item.ID,
				BuyerID:       buyerID,
				SellerID:      item.SellerID,
				PaymentMethod: order.PaymentMethod,
				AmountPaidUSD: order.AmountPaidUSD,
				ReservedAt:    order.CreatedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"item_id":        item.ID.String(),
			"payment_method": order.PaymentMethod,
		})
		s.logg.Info(logCtx, "item reserved")
	}

	return &Reservation{OrderID: order.ID, Status: order.Status}, nil
}

func (s *service) CreateCardIntent(ctx context.Context, buyerID, itemID uuid.UUID) (*CardIntent, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer identity required")
	}
	if s.intents == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "card payments are not configured")
	}

	item, err := s.loadPurchasableItem(ctx, buyerID, itemID)
	if err != nil {
		return nil, err
	}

	amount := ledger.Cents(ledger.OrderTotal(item.Price, s.cfg.ShippingCents))
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("item_id", item.ID.String())
	params.AddMetadata("buyer_id", buyerID.String())
	params.AddMetadata("seller_id", item.SellerID.String())

	pi, err := s.intents.Create(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}

	return &CardIntent{
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		AmountCents:     amount,
		Currency:        string(stripe.CurrencyUSD),
	}, nil
}

// loadPurchasableItem runs the checks that need no lock: existence, self-purchase and availability.
func (s *service) loadPurchasableItem(ctx context.Context, buyerID, itemID uuid.UUID) (*models.Item, error) {
	item, err := s.repo.FindItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load item")
	}
	if item.SellerID == buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "sellers cannot buy their own items")
	}
	if item.Status != enums.ItemStatusAvailable {
		return nil, itemUnavailable()
	}
	return item, nil
}

func buildOrder(item *models.Item, buyerID uuid.UUID, p *normalizedPayment, sellerWallet *string, shippingCents int64) *models.Order {
	now := time.Now().UTC()
	order := &models.Order{
		ID:            uuid.New(),
		ItemID:        item.ID,
		BuyerID:       buyerID,
		SellerID:      item.SellerID,
		PaymentMethod: p.method,
		Status:        enums.OrderStatusPending,
		AmountPaidUSD: ledger.OrderTotal(item.Price, shippingCents),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	switch p.method {
	case enums.PaymentMethodCrypto:
		amount := p.amountCrypto.String()
		chainID := p.chainID
		wallet := p.buyerWallet
		hash := p.txHash
		order.AmountPaidCrypto = &amount
		order.ChainID = &chainID
		order.BuyerWalletAddress = &wallet
		order.SellerWalletAddress = sellerWallet
		order.TxHash = &hash
	case enums.PaymentMethodCard:
		intentID := p.intentID
		order.StripePaymentIntentID = &intentID
	}
	return order
}

func itemUnavailable() error {
	return pkgerrors.New(pkgerrors.CodeItemUnavailable, "item is no longer available")
}

func reservationResult(err error) string {
	if err == nil {
		return "reserved"
	}
	if typed := pkgerrors.As(err); typed != nil {
		return string(typed.Code())
	}
	return "error"
}
