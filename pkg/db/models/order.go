package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// Order records one purchase attempt against an item.
// Payment columns are snapshots taken at reservation or settlement time.
type Order struct {
	ID                    uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ItemID                uuid.UUID            `gorm:"column:item_id;type:uuid;not null"`
	BuyerID               uuid.UUID            `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID              uuid.UUID            `gorm:"column:seller_id;type:uuid;not null"`
	PaymentMethod         enums.PaymentMethod  `gorm:"column:payment_method;type:payment_method;not null"`
	Status                enums.OrderStatus    `gorm:"column:status;type:order_status;not null;default:'pending'"`
	AmountPaidUSD         decimal.Decimal      `gorm:"column:amount_paid_usd;type:numeric(10,2);not null"`
	AmountPaidCrypto      *string              `gorm:"column:amount_paid_crypto;type:text"`
	TxHash                *string              `gorm:"column:tx_hash;type:text"`
	ChainID               *int64               `gorm:"column:chain_id"`
	BuyerWalletAddress    *string              `gorm:"column:buyer_wallet_address;type:text"`
	SellerWalletAddress   *string              `gorm:"column:seller_wallet_address;type:text"`
	StripePaymentIntentID *string              `gorm:"column:stripe_payment_intent_id;type:text"`
	CardBrand             *enums.CardBrand     `gorm:"column:card_brand;type:text"`
	CardLast4             *string              `gorm:"column:card_last4;type:text"`
	FailureReason         *enums.FailureReason `gorm:"column:failure_reason;type:text"`
	SettledAt             *time.Time           `gorm:"column:settled_at"`
	CreatedAt             time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
