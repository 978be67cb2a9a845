package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketplace-settlement/internal/ledger"
	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/internal/testdb"
	dbpkg "github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestPendingOrderSweeperExpiresStaleOrders(t *testing.T) {
	db := testdb.Open(t)
	repo := ledger.NewRepository(db)
	settler, err := settlement.NewService(settlement.ServiceParams{
		TxRunner:   dbpkg.NewFromConn(db),
		Repository: repo,
		Outbox:     outbox.NewService(outbox.NewRepository(db), nil),
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	buyer := testdb.SeedUser(t, db, nil)
	seller := testdb.SeedUser(t, db, nil)
	staleItem := testdb.SeedItem(t, db, seller.ID, "40.00", enums.ItemStatusReserved)
	freshItem := testdb.SeedItem(t, db, seller.ID, "55.00", enums.ItemStatusReserved)
	stale := testdb.SeedOrder(t, db, models.Order{
		ItemID:        staleItem.ID,
		BuyerID:       buyer.ID,
		SellerID:      seller.ID,
		PaymentMethod: enums.PaymentMethodCard,
		AmountPaidUSD: decimal.RequireFromString("48.00"),
		CreatedAt:     now.Add(-time.Hour),
	})
	fresh := testdb.SeedOrder(t, db, models.Order{
		ItemID:        freshItem.ID,
		BuyerID:       buyer.ID,
		SellerID:      seller.ID,
		PaymentMethod: enums.PaymentMethodCard,
		AmountPaidUSD: decimal.RequireFromString("63.00"),
		CreatedAt:     now.Add(-time.Minute),
	})

	job, err := NewPendingOrderSweeper(PendingOrderSweeperParams{
		Logger:  quietLogger(),
		Orders:  repo,
		Settler: settler,
		TTL:     30 * time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	var got models.Order
	require.NoError(t, db.First(&got, "id = ?", stale.ID).Error)
	assert.Equal(t, enums.OrderStatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, enums.FailureReasonExpired, *got.FailureReason)

	var item models.Item
	require.NoError(t, db.First(&item, "id = ?", staleItem.ID).Error)
	assert.Equal(t, enums.ItemStatusAvailable, item.Status)

	var stillPending models.Order
	require.NoError(t, db.First(&stillPending, "id = ?", fresh.ID).Error)
	assert.Equal(t, enums.OrderStatusPending, stillPending.Status)
	var stillReserved models.Item
	require.NoError(t, db.First(&stillReserved, "id = ?", freshItem.ID).Error)
	assert.Equal(t, enums.ItemStatusReserved, stillReserved.Status)

	// a second pass finds nothing left to expire
	require.NoError(t, job.Run(context.Background()))
	var after models.Order
	require.NoError(t, db.First(&after, "id = ?", fresh.ID).Error)
	assert.Equal(t, enums.OrderStatusPending, after.Status)
}

type fakeLister struct {
	orders []models.Order
	cutoff time.Time
	limit  int
	err    error
}

func (f *fakeLister) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	f.cutoff = cutoff
	f.limit = limit
	return f.orders, f.err
}

type scriptedSettler struct {
	failFor  uuid.UUID
	settled  []uuid.UUID
	outcomes []settlement.Outcome
}

func (s *scriptedSettler) SettleOrder(_ context.Context, orderID uuid.UUID, outcome settlement.Outcome) (*settlement.Result, error) {
	if orderID == s.failFor {
		return nil, errors.New("db unavailable")
	}
	s.settled = append(s.settled, orderID)
	s.outcomes = append(s.outcomes, outcome)
	return &settlement.Result{OrderID: orderID, Status: enums.OrderStatusFailed, Changed: true}, nil
}

func TestPendingOrderSweeperContinuesPastFailures(t *testing.T) {
	broken := models.Order{ID: uuid.New()}
	healthy := models.Order{ID: uuid.New()}
	lister := &fakeLister{orders: []models.Order{broken, healthy}}
	settler := &scriptedSettler{failFor: broken.ID}

	jobIface, err := NewPendingOrderSweeper(PendingOrderSweeperParams{
		Logger:    quietLogger(),
		Orders:    lister,
		Settler:   settler,
		TTL:       10 * time.Minute,
		BatchSize: 25,
	})
	require.NoError(t, err)
	job := jobIface.(*pendingOrderSweeper)
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 1)
	assert.Contains(t, err.Error(), broken.ID.String())

	assert.Equal(t, now.Add(-10*time.Minute), lister.cutoff)
	assert.Equal(t, 25, lister.limit)
	require.Equal(t, []uuid.UUID{healthy.ID}, settler.settled)
	assert.Equal(t, enums.SettlementRejected, settler.outcomes[0].Result)
	assert.Equal(t, enums.FailureReasonExpired, settler.outcomes[0].Reason)
	assert.Equal(t, "sweeper", settler.outcomes[0].Source)
}

func TestPendingOrderSweeperPropagatesQueryError(t *testing.T) {
	job, err := NewPendingOrderSweeper(PendingOrderSweeperParams{
		Logger:  quietLogger(),
		Orders:  &fakeLister{err: errors.New("boom")},
		Settler: &scriptedSettler{},
	})
	require.NoError(t, err)
	assert.Error(t, job.Run(context.Background()))
}

func TestNewPendingOrderSweeperRequiresDependencies(t *testing.T) {
	_, err := NewPendingOrderSweeper(PendingOrderSweeperParams{Logger: quietLogger(), Settler: &scriptedSettler{}})
	assert.Error(t, err)
	_, err = NewPendingOrderSweeper(PendingOrderSweeperParams{Logger: quietLogger(), Orders: &fakeLister{}})
	assert.Error(t, err)
}
