package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// SettlementAnomaly is an append-only record of a confirmation that could not be honored.
type SettlementAnomaly struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID         `gorm:"column:order_id;type:uuid;not null"`
	ItemID     uuid.UUID         `gorm:"column:item_id;type:uuid;not null"`
	Kind       enums.AnomalyKind `gorm:"column:kind;type:text;not null"`
	Details    json.RawMessage   `gorm:"column:details;type:jsonb;not null"`
	ResolvedAt *time.Time        `gorm:"column:resolved_at"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
}
