package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the marketplace account; identity itself lives with the auth provider.
type User struct {
	ID                  uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name                string    `gorm:"column:name;type:text;not null"`
	Email               string    `gorm:"column:email;type:text;not null"`
	CryptoWalletAddress *string   `gorm:"column:crypto_wallet_address;type:text"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
