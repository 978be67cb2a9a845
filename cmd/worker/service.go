package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

type runner interface {
	Run(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type ServiceParams struct {
	Logger               *logger.Logger
	DB                   pinger
	Redis                pinger
	PubSub               pinger
	NotificationConsumer runner
	// WalletWatcher is optional; it runs only when the wallet subscription and Notify API are configured.
	WalletWatcher runner
}

// Service runs the Pub/Sub consumers of the worker process side by side.
type Service struct {
	logg                 *logger.Logger
	deps                 map[string]pinger
	notificationConsumer runner
	walletWatcher        runner
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.NotificationConsumer == nil {
		return nil, errors.New("notification consumer is required")
	}
	return &Service{
		logg: params.Logger,
		deps: map[string]pinger{
			"database": params.DB,
			"redis":    params.Redis,
			"pubsub":   params.PubSub,
		},
		notificationConsumer: params.NotificationConsumer,
		walletWatcher:        params.WalletWatcher,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, name := range []string{"database", "redis", "pubsub"} {
		if err := s.deps[name].Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

// Run blocks until ctx is canceled or a consumer stops with an error.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.runConsumer(groupCtx, "order-notifications", s.notificationConsumer)
	})
	if s.walletWatcher != nil {
		group.Go(func() error {
			return s.runConsumer(groupCtx, "wallet-watcher", s.walletWatcher)
		})
	} else {
		s.logg.Warn(ctx, "wallet watcher disabled")
	}
	return group.Wait()
}

func (s *Service) runConsumer(ctx context.Context, name string, r runner) error {
	logCtx := s.logg.WithField(ctx, "consumer", name)
	s.logg.Info(logCtx, "consumer starting")
	err := r.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(logCtx, "consumer stopped unexpectedly", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	s.logg.Info(logCtx, "consumer stopped")
	if err == nil && ctx.Err() == nil {
		return fmt.Errorf("%s: receive loop exited", name)
	}
	return err
}
