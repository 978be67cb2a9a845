// Package alchemywebhook settles crypto orders from Alchemy address-activity notifications.
package alchemywebhook

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/pkg/alchemy"
	"github.com/angelmondragon/marketplace-settlement/pkg/chain"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

type ledgerLookup interface {
	FindOrderByTxHash(ctx context.Context, txHash string) (*models.Order, error)
	FindUserByWallet(ctx context.Context, address string) (*models.User, error)
}

type ServiceParams struct {
	Ledger  ledgerLookup
	Settler settlement.Settler
	Logger  *logger.Logger
}

type Service struct {
	ledger  ledgerLookup
	settler settlement.Settler
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger lookup required")
	}
	if params.Settler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settler required")
	}
	return &Service{ledger: params.Ledger, settler: params.Settler, logg: params.Logger}, nil
}

// HandleEvent applies every native transfer in the notification.
// It stops at the first failure so the provider redelivers the whole notification;
// transfers already applied no-op on redelivery.
func (s *Service) HandleEvent(ctx context.Context, event *alchemy.WebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "alchemy event required")
	}
	if event.Type != alchemy.EventTypeAddressActivity || len(event.Event.Activity) == 0 {
		return nil
	}

	for _, activity := range event.Event.Activity {
		if !activity.IsNativeTransfer() {
			continue
		}
		if err := s.applyActivity(ctx, event.ID, activity); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyActivity(ctx context.Context, eventID string, activity alchemy.Activity) error {
	hash, err := chain.NormalizeTxHash(activity.Hash)
	if err != nil {
		s.warn(ctx, eventID, activity, "alchemy activity skipped: malformed hash")
		return nil
	}

	order, err := s.ledger.FindOrderByTxHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup order by tx hash")
		}
		return s.unmatched(ctx, eventID, activity, hash)
	}

	result, err := s.settler.SettleOrder(ctx, order.ID, settlement.Outcome{
		Result:               enums.SettlementConfirmed,
		Source:               "alchemy",
		ReportedRecipient:    activity.ToAddress,
		ReportedCryptoAmount: activity.EtherValue().String(),
	})
	if err != nil {
		return err
	}
	s.logResult(ctx, eventID, order.ID, hash, result)
	return nil
}

// unmatched decides whether an unknown hash is worth a retry: transfers into a
// registered seller wallet may belong to a reservation that has not committed yet.
func (s *Service) unmatched(ctx context.Context, eventID string, activity alchemy.Activity, hash string) error {
	recipient, err := chain.NormalizeAddress(activity.ToAddress)
	if err != nil {
		s.warn(ctx, eventID, activity, "alchemy activity skipped: malformed recipient")
		return nil
	}
	if _, err := s.ledger.FindUserByWallet(ctx, recipient); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup seller wallet")
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "no order for transaction yet").
		WithDetails(map[string]any{"tx_hash": hash})
}

func (s *Service) warn(ctx context.Context, eventID string, activity alchemy.Activity, msg string) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithEventID(ctx, eventID)
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"tx_hash":    activity.Hash,
		"to_address": activity.ToAddress,
	})
	s.logg.Warn(logCtx, msg)
}

func (s *Service) logResult(ctx context.Context, eventID string, orderID uuid.UUID, hash string, result *settlement.Result) {
	if s.logg == nil || result == nil {
		return
	}
	logCtx := s.logg.WithEventID(ctx, eventID)
	logCtx = s.logg.WithOrderID(logCtx, orderID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"tx_hash": hash,
		"status":  result.Status,
		"changed": result.Changed,
	})
	s.logg.Info(logCtx, "alchemy transfer applied")
}
