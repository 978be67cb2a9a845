package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

const (
	defaultPendingOrderTTL = 30 * time.Minute
	defaultSweepBatchSize  = 100
	sweeperSource          = "sweeper"
)

// PendingOrderSweeperParams configure the job that expires abandoned reservations.
type PendingOrderSweeperParams struct {
	Logger    *logger.Logger
	Orders    pendingOrderLister
	Settler   settlement.Settler
	TTL       time.Duration
	BatchSize int
}

type pendingOrderLister interface {
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

// NewPendingOrderSweeper builds the job that settles stale pending orders as rejected.
func NewPendingOrderSweeper(params PendingOrderSweeperParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("pending order lister required")
	}
	if params.Settler == nil {
		return nil, fmt.Errorf("settler required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingOrderTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	return &pendingOrderSweeper{
		logg:    params.Logger,
		orders:  params.Orders,
		settler: params.Settler,
		ttl:     ttl,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type pendingOrderSweeper struct {
	logg    *logger.Logger
	orders  pendingOrderLister
	settler settlement.Settler
	ttl     time.Duration
	batch   int
	now     func() time.Time
}

func (j *pendingOrderSweeper) Name() string { return "pending-order-sweeper" }

// Run expires one batch per tick; a backlog drains over consecutive ticks.
func (j *pendingOrderSweeper) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	orders, err := j.orders.ListPendingBefore(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query pending orders: %w", err)
	}

	var errs error
	expired := 0
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		res, err := j.settler.SettleOrder(ctx, order.ID, settlement.Outcome{
			Result: enums.SettlementRejected,
			Reason: enums.FailureReasonExpired,
			Source: sweeperSource,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
			continue
		}
		if res != nil && res.Changed {
			expired++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"scanned": len(orders),
		"expired": expired,
		"errors":  len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "pending order sweep complete")
	return errs
}
