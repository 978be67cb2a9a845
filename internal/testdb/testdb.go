// Package testdb opens throwaway SQLite databases carrying the settlement schema.
package testdb

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  crypto_wallet_address TEXT UNIQUE,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS items (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  title TEXT NOT NULL,
  price TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'available',
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  item_id TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  payment_method TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  amount_paid_usd TEXT NOT NULL,
  amount_paid_crypto TEXT,
  tx_hash TEXT UNIQUE,
  chain_id INTEGER,
  buyer_wallet_address TEXT,
  seller_wallet_address TEXT,
  stripe_payment_intent_id TEXT UNIQUE,
  card_brand TEXT,
  card_last4 TEXT,
  failure_reason TEXT,
  settled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS settlement_anomalies (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  item_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  details TEXT NOT NULL,
  resolved_at DATETIME,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE IF NOT EXISTS outbox_dlqs (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  order_id TEXT NOT NULL,
  type TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  read_at DATETIME,
  created_at DATETIME,
  UNIQUE (user_id, order_id, type)
);`,
}

// Open returns an isolated in-memory database with every table created.
// A single connection keeps concurrent transactions serialized the way row locks would.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:settlement_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

// SeedUser inserts a user, optionally with a receiving wallet.
func SeedUser(t *testing.T, db *gorm.DB, wallet *string) models.User {
	t.Helper()
	id := uuid.New()
	user := models.User{
		ID:                  id,
		Name:                "user " + id.String()[:8],
		Email:               id.String() + "@example.com",
		CryptoWalletAddress: wallet,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

// SeedItem inserts an item for sellerID at the given dollar price.
func SeedItem(t *testing.T, db *gorm.DB, sellerID uuid.UUID, price string, status enums.ItemStatus) models.Item {
	t.Helper()
	item := models.Item{
		ID:       uuid.New(),
		SellerID: sellerID,
		Title:    "vintage lamp",
		Price:    decimal.RequireFromString(price),
		Status:   status,
	}
	require.NoError(t, db.Create(&item).Error)
	return item
}

// SeedOrder inserts an order directly, bypassing reservation.
func SeedOrder(t *testing.T, db *gorm.DB, order models.Order) models.Order {
	t.Helper()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Status == "" {
		order.Status = enums.OrderStatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	require.NoError(t, db.Create(&order).Error)
	return order
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
