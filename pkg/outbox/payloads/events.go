package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// OrderReservedEvent is emitted when an item moves to reserved behind a pending order.
type OrderReservedEvent struct {
	OrderID       uuid.UUID           `json:"orderId"`
	ItemID        uuid.UUID           `json:"itemId"`
	BuyerID       uuid.UUID           `json:"buyerId"`
	SellerID      uuid.UUID           `json:"sellerId"`
	PaymentMethod enums.PaymentMethod `json:"paymentMethod"`
	AmountPaidUSD decimal.Decimal     `json:"amountPaidUsd"`
	ReservedAt    time.Time           `json:"reservedAt"`
}

// OrderCompletedEvent is emitted once a confirmed payment sells the item.
type OrderCompletedEvent struct {
	OrderID       uuid.UUID           `json:"orderId"`
	ItemID        uuid.UUID           `json:"itemId"`
	BuyerID       uuid.UUID           `json:"buyerId"`
	SellerID      uuid.UUID           `json:"sellerId"`
	PaymentMethod enums.PaymentMethod `json:"paymentMethod"`
	AmountPaidUSD decimal.Decimal     `json:"amountPaidUsd"`
	SettledAt     time.Time           `json:"settledAt"`
}

// OrderFailedEvent is emitted when a pending order is rejected, expired or refused.
type OrderFailedEvent struct {
	OrderID      uuid.UUID           `json:"orderId"`
	ItemID       uuid.UUID           `json:"itemId"`
	BuyerID      uuid.UUID           `json:"buyerId"`
	SellerID     uuid.UUID           `json:"sellerId"`
	Reason       enums.FailureReason `json:"reason"`
	ItemReleased bool                `json:"itemReleased"`
	SettledAt    time.Time           `json:"settledAt"`
}

// SettlementAnomalyEvent flags a confirmation that needs operator attention.
type SettlementAnomalyEvent struct {
	AnomalyID uuid.UUID         `json:"anomalyId"`
	OrderID   uuid.UUID         `json:"orderId"`
	ItemID    uuid.UUID         `json:"itemId"`
	Kind      enums.AnomalyKind `json:"kind"`
	Expected  string            `json:"expected,omitempty"`
	Reported  string            `json:"reported,omitempty"`
}

// WalletRegisteredEvent asks the chain watcher to start observing a seller address.
// PreviousAddress is set when the user replaced an earlier wallet.
type WalletRegisteredEvent struct {
	UserID          uuid.UUID `json:"userId"`
	Address         string    `json:"address"`
	PreviousAddress string    `json:"previousAddress,omitempty"`
}
