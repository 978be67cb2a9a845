package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/ledger"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

// FailedOrderMessage is the only failure detail ever shown to buyers and sellers.
const FailedOrderMessage = "payment could not be verified, contact support"

// OrderView is the client-facing projection of an order.
type OrderView struct {
	ID               uuid.UUID           `json:"orderId"`
	ItemID           uuid.UUID           `json:"itemId"`
	BuyerID          uuid.UUID           `json:"buyerId"`
	SellerID         uuid.UUID           `json:"sellerId"`
	PaymentMethod    enums.PaymentMethod `json:"paymentMethod"`
	Status           enums.OrderStatus   `json:"status"`
	AmountPaidUSD    decimal.Decimal     `json:"amountPaidUsd"`
	AmountPaidCrypto *string             `json:"amountPaidCrypto,omitempty"`
	TxHash           *string             `json:"txHash,omitempty"`
	CardBrand        *enums.CardBrand    `json:"cardBrand,omitempty"`
	CardLast4        *string             `json:"cardLast4,omitempty"`
	Message          string              `json:"message,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	SettledAt        *time.Time          `json:"settledAt,omitempty"`
}

// OrderPage is one page of order history.
type OrderPage struct {
	Orders     []OrderView `json:"orders"`
	NextCursor string      `json:"nextCursor,omitempty"`
}

func newOrderView(order models.Order) OrderView {
	view := OrderView{
		ID:               order.ID,
		ItemID:           order.ItemID,
		BuyerID:          order.BuyerID,
		SellerID:         order.SellerID,
		PaymentMethod:    order.PaymentMethod,
		Status:           order.Status.Public(),
		AmountPaidUSD:    order.AmountPaidUSD,
		AmountPaidCrypto: order.AmountPaidCrypto,
		TxHash:           order.TxHash,
		CardBrand:        order.CardBrand,
		CardLast4:        order.CardLast4,
		CreatedAt:        order.CreatedAt,
		SettledAt:        order.SettledAt,
	}
	if view.Status == enums.OrderStatusFailed {
		view.Message = FailedOrderMessage
	}
	return view
}

func (s *service) loadScoped(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.BuyerID != userID && order.SellerID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	return order, nil
}

// OrderStatus is a pure read; it never advances settlement.
func (s *service) OrderStatus(ctx context.Context, userID, orderID uuid.UUID) (*OrderView, error) {
	order, err := s.loadScoped(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	view := newOrderView(*order)
	return &view, nil
}

func (s *service) ListOrders(ctx context.Context, userID uuid.UUID, role enums.OrderRole, limit int, cursor string) (*OrderPage, error) {
	if role == "" {
		role = enums.OrderRoleBuyer
	}
	if _, err := enums.ParseOrderRole(string(role)); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "role must be buyer or seller")
	}
	parsed, err := pagination.ParseCursor(cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	orders, next, err := s.repo.ListOrders(ctx, ledger.ListOrdersParams{
		UserID: userID,
		Role:   role,
		Limit:  limit,
		Cursor: parsed,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	page := &OrderPage{Orders: make([]OrderView, 0, len(orders))}
	for _, order := range orders {
		page.Orders = append(page.Orders, newOrderView(order))
	}
	if next != nil {
		page.NextCursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

// DebugSimulate drives SettleOrder with an outcome shaped like the real provider would send.
func (s *service) DebugSimulate(ctx context.Context, userID, orderID uuid.UUID, result enums.SettlementResult) (*Result, error) {
	if !s.debugEnabled {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "debug settlement is disabled")
	}
	if !result.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "result must be confirmed or rejected")
	}
	order, err := s.loadScoped(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can simulate settlement")
	}

	outcome := Outcome{Result: result, Source: "debug", Reason: enums.FailureReasonSimulated}
	if result == enums.SettlementConfirmed {
		switch order.PaymentMethod {
		case enums.PaymentMethodCard:
			cents := ledger.Cents(order.AmountPaidUSD)
			outcome.ReportedAmountCents = &cents
			outcome.CardBrand = string(enums.CardBrandVisa)
			outcome.CardLast4 = "4242"
		case enums.PaymentMethodCrypto:
			outcome.ReportedRecipient = derefString(order.SellerWalletAddress)
			outcome.ReportedCryptoAmount = derefString(order.AmountPaidCrypto)
		}
	}
	return s.SettleOrder(ctx, order.ID, outcome)
}
