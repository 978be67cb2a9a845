package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// Item is a single listing; its status gates every purchase attempt.
type Item struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID  uuid.UUID        `gorm:"column:seller_id;type:uuid;not null"`
	Title     string           `gorm:"column:title;type:text;not null"`
	Price     decimal.Decimal  `gorm:"column:price;type:numeric(10,2);not null"`
	Status    enums.ItemStatus `gorm:"column:status;type:item_status;not null;default:'available'"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
