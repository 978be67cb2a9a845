package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

// Store persists the per-user order inbox.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// inboxUniqueKey matches the (user_id, order_id, type) constraint that makes fan-out replays harmless.
var inboxUniqueKey = []clause.Column{{Name: "user_id"}, {Name: "order_id"}, {Name: "type"}}

// Insert reports false when the same notification was already delivered.
func (s *Store) Insert(ctx context.Context, n *models.Notification) (bool, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: inboxUniqueKey, DoNothing: true}).
		Create(n)
	return res.RowsAffected > 0, res.Error
}

type pageQuery struct {
	userID     uuid.UUID
	unreadOnly bool
	after      *pagination.Cursor
	limit      int
}

func (s *Store) Page(ctx context.Context, q pageQuery) ([]models.Notification, *pagination.Cursor, error) {
	tx := s.db.WithContext(ctx).Where("user_id = ?", q.userID)
	if q.unreadOnly {
		tx = tx.Where("read_at IS NULL")
	}

	var rows []models.Notification
	if err := tx.Scopes(pagination.Keyset(q.after, q.limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, q.limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return page, next, nil
}

// MarkRead stamps read_at once; rereading keeps the first timestamp. It returns false if the
// notification does not belong to userID.
func (s *Store) MarkRead(ctx context.Context, userID, id uuid.UUID, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		UpdateColumn("read_at", gorm.Expr("COALESCE(read_at, ?)", at))
	return res.RowsAffected > 0, res.Error
}

func (s *Store) MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		UpdateColumn("read_at", at)
	return res.RowsAffected, res.Error
}

// PurgeBefore runs inside the retention transaction.
func (s *Store) PurgeBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	res := tx.Where("created_at < ?", cutoff).Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
