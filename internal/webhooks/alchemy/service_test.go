package alchemywebhook

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/ledger"
	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/internal/testdb"
	"github.com/angelmondragon/marketplace-settlement/pkg/alchemy"
	dbpkg "github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
)

const (
	sellerWallet = "0x52908400098527886e0f7030069857d2e4169ee7"
	buyerWallet  = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	orderHash    = "0x7a4a39da2a3fa1fc2ef88fd1eaea070286ed2aba21e0419dcfb6d5c5d9f02a72"
	strangerHash = "0x1111111111111111111111111111111111111111111111111111111111111111"
)

type fixture struct {
	db    *gorm.DB
	svc   *Service
	order models.Order
	item  models.Item
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testdb.Open(t)
	repo := ledger.NewRepository(db)
	settler, err := settlement.NewService(settlement.ServiceParams{
		TxRunner:   dbpkg.NewFromConn(db),
		Repository: repo,
		Outbox:     outbox.NewService(outbox.NewRepository(db), nil),
	})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{Ledger: repo, Settler: settler})
	require.NoError(t, err)

	buyer := testdb.SeedUser(t, db, testdb.Ptr(buyerWallet))
	seller := testdb.SeedUser(t, db, testdb.Ptr(sellerWallet))
	item := testdb.SeedItem(t, db, seller.ID, "100.00", enums.ItemStatusReserved)
	order := testdb.SeedOrder(t, db, models.Order{
		ItemID:              item.ID,
		BuyerID:             buyer.ID,
		SellerID:            seller.ID,
		PaymentMethod:       enums.PaymentMethodCrypto,
		AmountPaidUSD:       decimal.RequireFromString("108.00"),
		AmountPaidCrypto:    testdb.Ptr("0.05"),
		TxHash:              testdb.Ptr(orderHash),
		BuyerWalletAddress:  testdb.Ptr(buyerWallet),
		SellerWalletAddress: testdb.Ptr(sellerWallet),
	})
	return fixture{db: db, svc: svc, order: order, item: item}
}

func transfer(hash, to, rawWei string) alchemy.Activity {
	return alchemy.Activity{
		FromAddress: buyerWallet,
		ToAddress:   to,
		Hash:        hash,
		Asset:       alchemy.AssetETH,
		Category:    alchemy.CategoryExternal,
		RawContract: alchemy.RawContract{RawValue: rawWei},
	}
}

func activityEvent(activities ...alchemy.Activity) *alchemy.WebhookEvent {
	return &alchemy.WebhookEvent{
		ID:    "whevt_test",
		Type:  alchemy.EventTypeAddressActivity,
		Event: alchemy.ActivityList{Network: "ETH_SEPOLIA", Activity: activities},
	}
}

func (f fixture) orderStatus(t *testing.T) enums.OrderStatus {
	t.Helper()
	var order models.Order
	require.NoError(t, f.db.First(&order, "id = ?", f.order.ID).Error)
	return order.Status
}

func (f fixture) itemStatus(t *testing.T) enums.ItemStatus {
	t.Helper()
	var item models.Item
	require.NoError(t, f.db.First(&item, "id = ?", f.item.ID).Error)
	return item.Status
}

func TestHandleEventConfirmsMatchingTransfer(t *testing.T) {
	f := newFixture(t)
	// 0.05 ETH in wei; the hash arrives upper-cased to exercise normalization.
	event := activityEvent(transfer("0x7A4A39DA2A3FA1FC2EF88FD1EAEA070286ED2ABA21E0419DCFB6D5C5D9F02A72", sellerWallet, "0xb1a2bc2ec50000"))

	require.NoError(t, f.svc.HandleEvent(context.Background(), event))
	assert.Equal(t, enums.OrderStatusCompleted, f.orderStatus(t))
	assert.Equal(t, enums.ItemStatusSold, f.itemStatus(t))

	require.NoError(t, f.svc.HandleEvent(context.Background(), event))
	assert.Equal(t, enums.OrderStatusCompleted, f.orderStatus(t))
}

func TestHandleEventShortPaymentFailsOrder(t *testing.T) {
	f := newFixture(t)
	event := activityEvent(transfer(orderHash, sellerWallet, "0x2386f26fc10000")) // 0.01 ETH

	require.NoError(t, f.svc.HandleEvent(context.Background(), event))
	assert.Equal(t, enums.OrderStatusFailed, f.orderStatus(t))
	assert.Equal(t, enums.ItemStatusAvailable, f.itemStatus(t))

	var anomalies int64
	require.NoError(t, f.db.Model(&models.SettlementAnomaly{}).Where("order_id = ?", f.order.ID).Count(&anomalies).Error)
	assert.EqualValues(t, 1, anomalies)
}

func TestHandleEventUnknownHashToSellerWalletRetries(t *testing.T) {
	f := newFixture(t)
	err := f.svc.HandleEvent(context.Background(), activityEvent(transfer(strangerHash, sellerWallet, "0x1")))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
	assert.Equal(t, enums.OrderStatusPending, f.orderStatus(t))
}

func TestHandleEventIgnoresUnrelatedTraffic(t *testing.T) {
	f := newFixture(t)
	stranger := "0x0000000000000000000000000000000000000001"

	tests := map[string]*alchemy.WebhookEvent{
		"unknown recipient": activityEvent(transfer(strangerHash, stranger, "0x1")),
		"token transfer": activityEvent(alchemy.Activity{
			ToAddress: sellerWallet,
			Hash:      orderHash,
			Asset:     "USDC",
			Category:  "token",
		}),
		"malformed hash": activityEvent(transfer("0x1234", sellerWallet, "0x1")),
		"empty activity": activityEvent(),
		"other type":     {ID: "whevt_2", Type: "MINED_TRANSACTION"},
	}
	for name, event := range tests {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, f.svc.HandleEvent(context.Background(), event))
		})
	}
	assert.Equal(t, enums.OrderStatusPending, f.orderStatus(t))
}

type brokenLedger struct{}

func (brokenLedger) FindOrderByTxHash(context.Context, string) (*models.Order, error) {
	return nil, errors.New("connection reset")
}

func (brokenLedger) FindUserByWallet(context.Context, string) (*models.User, error) {
	return nil, errors.New("connection reset")
}

type unusedSettler struct{}

func (unusedSettler) SettleOrder(context.Context, uuid.UUID, settlement.Outcome) (*settlement.Result, error) {
	return nil, errors.New("unexpected settle")
}

func TestHandleEventLookupFailureIsDependency(t *testing.T) {
	svc, err := NewService(ServiceParams{Ledger: brokenLedger{}, Settler: unusedSettler{}})
	require.NoError(t, err)

	err = svc.HandleEvent(context.Background(), activityEvent(transfer(orderHash, sellerWallet, "0x1")))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
}
