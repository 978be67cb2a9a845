package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

// Repository is the durable store for items, orders and seller wallets.
// Status writes are compare-and-set: they report whether the expected prior state still held.
// Tx hashes and wallet addresses are stored lower-cased so lookups can use the plain indexes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindItem(ctx context.Context, id uuid.UUID) (*models.Item, error)
	FindItemForUpdate(ctx context.Context, id uuid.UUID) (*models.Item, error)
	TransitionItem(ctx context.Context, id uuid.UUID, from, to enums.ItemStatus) (bool, error)

	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindOrderByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error)
	FindOrderByTxHash(ctx context.Context, txHash string) (*models.Order, error)
	CountOtherPendingOrders(ctx context.Context, itemID, excludeOrderID uuid.UUID) (int64, error)
	TransitionOrder(ctx context.Context, id uuid.UUID, from enums.OrderStatus, update OrderUpdate) (bool, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	ListOrders(ctx context.Context, params ListOrdersParams) ([]models.Order, *pagination.Cursor, error)

	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByWallet(ctx context.Context, address string) (*models.User, error)
	SetWalletAddress(ctx context.Context, userID uuid.UUID, address string) error

	CreateAnomaly(ctx context.Context, anomaly *models.SettlementAnomaly) error
}

// OrderUpdate carries the columns written alongside a status transition.
type OrderUpdate struct {
	Status        enums.OrderStatus
	FailureReason *enums.FailureReason
	CardBrand     *enums.CardBrand
	CardLast4     *string
	SettledAt     time.Time
}

// ListOrdersParams scopes an order history page to one side of the trade.
type ListOrdersParams struct {
	UserID uuid.UUID
	Role   enums.OrderRole
	Limit  int
	Cursor *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindItem(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	var item models.Item
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindItemForUpdate(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	var item models.Item
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) TransitionItem(ctx context.Context, id uuid.UUID, from, to enums.ItemStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Item{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("stripe_payment_intent_id = ?", intentID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderByTxHash(ctx context.Context, txHash string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("tx_hash = ?", strings.ToLower(txHash)).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) CountOtherPendingOrders(ctx context.Context, itemID, excludeOrderID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("item_id = ? AND status = ? AND id <> ?", itemID, enums.OrderStatusPending, excludeOrderID).
		Count(&count).Error
	return count, err
}

func (r *repository) TransitionOrder(ctx context.Context, id uuid.UUID, from enums.OrderStatus, update OrderUpdate) (bool, error) {
	settledAt := update.SettledAt
	if settledAt.IsZero() {
		settledAt = time.Now().UTC()
	}
	updates := map[string]any{
		"status":     update.Status,
		"settled_at": settledAt,
		"updated_at": settledAt,
	}
	if update.FailureReason != nil {
		updates["failure_reason"] = *update.FailureReason
	}
	if update.CardBrand != nil {
		updates["card_brand"] = *update.CardBrand
	}
	if update.CardLast4 != nil {
		updates["card_last4"] = *update.CardLast4
	}

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	query := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) ListOrders(ctx context.Context, params ListOrdersParams) ([]models.Order, *pagination.Cursor, error) {
	column := "buyer_id"
	if params.Role == enums.OrderRoleSeller {
		column = "seller_id"
	}

	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where(column+" = ?", params.UserID).
		Scopes(pagination.Keyset(params.Cursor, params.Limit)).
		Find(&orders).Error
	if err != nil {
		return nil, nil, err
	}

	page, next := pagination.Trim(orders, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return page, next, nil
}

func (r *repository) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) FindUserByWallet(ctx context.Context, address string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).
		Where("crypto_wallet_address = ?", strings.ToLower(address)).
		First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) SetWalletAddress(ctx context.Context, userID uuid.UUID, address string) error {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"crypto_wallet_address": strings.ToLower(address),
			"updated_at":            time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) CreateAnomaly(ctx context.Context, anomaly *models.SettlementAnomaly) error {
	return r.db.WithContext(ctx).Create(anomaly).Error
}
