// Package wallets registers the receiving address sellers are paid to on-chain.
package wallets

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/ledger"
	"github.com/angelmondragon/marketplace-settlement/pkg/chain"
	dbpkg "github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Wallet is the registered address in lower-case and EIP-55 form.
type Wallet struct {
	UserID    uuid.UUID `json:"userId"`
	Address   string    `json:"address"`
	Checksum  string    `json:"checksumAddress"`
	Unchanged bool      `json:"-"`
}

type Service interface {
	Register(ctx context.Context, userID uuid.UUID, address string) (*Wallet, error)
}

type ServiceParams struct {
	TxRunner   txRunner
	Repository ledger.Repository
	Outbox     outboxPublisher
	Logger     *logger.Logger
}

type service struct {
	tx     txRunner
	repo   ledger.Repository
	outbox outboxPublisher
	logg   *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{tx: params.TxRunner, repo: params.Repository, outbox: params.Outbox, logg: params.Logger}, nil
}

// Register stores address for userID and queues a watch request for the chain listener.
// Re-registering the same address is a no-op.
func (s *service) Register(ctx context.Context, userID uuid.UUID, address string) (*Wallet, error) {
	normalized, err := chain.NormalizeAddress(address)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid wallet address").
			WithDetails(map[string]any{"field": "address"})
	}

	wallet := &Wallet{UserID: userID, Address: normalized, Checksum: chain.Checksum(normalized)}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		user, err := repo.FindUser(ctx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
		}
		if user.CryptoWalletAddress != nil && *user.CryptoWalletAddress == normalized {
			wallet.Unchanged = true
			return nil
		}

		previous := ""
		if user.CryptoWalletAddress != nil {
			previous = *user.CryptoWalletAddress
		}
		if err := repo.SetWalletAddress(ctx, userID, normalized); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "wallet already registered to another user")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store wallet")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWalletRegistered,
			AggregateType: enums.AggregateWallet,
			AggregateID:   userID,
			Actor:         &outbox.ActorRef{UserID: userID, Role: string(enums.UserRoleMember)},
			Data: payloads.WalletRegisteredEvent{
				UserID:          userID,
				Address:         normalized,
				PreviousAddress: previous,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil && !wallet.Unchanged {
		logCtx := s.logg.WithUserID(ctx, userID.String())
		s.logg.Info(s.logg.WithField(logCtx, "wallet", normalized), "seller wallet registered")
	}
	return wallet, nil
}
