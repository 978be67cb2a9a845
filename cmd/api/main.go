package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-settlement/api/routes"
	"github.com/angelmondragon/marketplace-settlement/internal/ledger"
	"github.com/angelmondragon/marketplace-settlement/internal/notifications"
	"github.com/angelmondragon/marketplace-settlement/internal/reservation"
	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/internal/wallets"
	"github.com/angelmondragon/marketplace-settlement/internal/webhooks"
	alchemywebhook "github.com/angelmondragon/marketplace-settlement/internal/webhooks/alchemy"
	stripewebhook "github.com/angelmondragon/marketplace-settlement/internal/webhooks/stripe"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth/session"
	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/instance"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	"github.com/angelmondragon/marketplace-settlement/pkg/migrate"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/redis"
	pkgstripe "github.com/angelmondragon/marketplace-settlement/pkg/stripe"
	"github.com/angelmondragon/marketplace-settlement/pkg/tracing"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, "market-api")
	if err != nil {
		logg.Error(ctx, "failed to init tracing", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logg.Error(context.Background(), "error flushing traces", err)
		}
	}()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var sessions session.AccessSessionChecker = session.AllowAll{}
	if cfg.FeatureFlags.SessionChecks {
		checker, err := session.NewChecker(redisClient)
		if err != nil {
			logg.Error(ctx, "failed to create session checker", err)
			os.Exit(1)
		}
		sessions = checker
	}

	// A missing Stripe configuration disables the card rail but keeps crypto purchases up.
	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		logg.Warn(logg.WithField(ctx, "reason", err.Error()), "stripe disabled")
	}
	var intents pkgstripe.PaymentIntentClient
	if stripeClient != nil {
		intents = pkgstripe.NewPaymentIntentClient(stripeClient)
	}

	reg := prometheus.DefaultRegisterer
	settlementMetrics := metrics.NewSettlementMetrics(reg)

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	reservationService, err := reservation.NewService(reservation.ServiceParams{
		TxRunner:      dbClient,
		Repository:    ledgerRepo,
		Outbox:        outboxService,
		PaymentIntent: intents,
		Settlement:    cfg.Settlement,
		Metrics:       settlementMetrics,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create reservation service", err)
		os.Exit(1)
	}

	settlementService, err := settlement.NewService(settlement.ServiceParams{
		TxRunner:     dbClient,
		Repository:   ledgerRepo,
		Outbox:       outboxService,
		Metrics:      settlementMetrics,
		Logger:       logg,
		DebugEnabled: !cfg.App.IsProd() && cfg.FeatureFlags.DebugSettle,
	})
	if err != nil {
		logg.Error(ctx, "failed to create settlement service", err)
		os.Exit(1)
	}

	walletService, err := wallets.NewService(wallets.ServiceParams{
		TxRunner:   dbClient,
		Repository: ledgerRepo,
		Outbox:     outboxService,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create wallet service", err)
		os.Exit(1)
	}

	notificationService, err := notifications.NewService(notifications.NewStore(dbClient.DB()))
	if err != nil {
		logg.Error(ctx, "failed to create notifications service", err)
		os.Exit(1)
	}

	stripeWebhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Orders:  ledgerRepo,
		Settler: settlementService,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create stripe webhook service", err)
		os.Exit(1)
	}
	alchemyWebhookService, err := alchemywebhook.NewService(alchemywebhook.ServiceParams{
		Ledger:  ledgerRepo,
		Settler: settlementService,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create alchemy webhook service", err)
		os.Exit(1)
	}

	stripeGuard, err := webhooks.NewAppliedEvents(redisClient, cfg.Eventing.WebhookIdempotencyTTL, "stripe-webhook")
	if err != nil {
		logg.Error(ctx, "failed to create stripe webhook guard", err)
		os.Exit(1)
	}
	alchemyGuard, err := webhooks.NewAppliedEvents(redisClient, cfg.Eventing.WebhookIdempotencyTTL, "alchemy-webhook")
	if err != nil {
		logg.Error(ctx, "failed to create alchemy webhook guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			Sessions:       sessions,
			Gatherer:       prometheus.DefaultGatherer,
			HTTP:           metrics.NewHTTPMetrics(reg),
			Reservation:    reservationService,
			Settlement:     settlementService,
			Wallets:        walletService,
			Notifications:  notificationService,
			StripeWebhook:  stripeWebhookService,
			StripeClient:   stripeClient,
			StripeGuard:    stripeGuard,
			AlchemyWebhook: alchemyWebhookService,
			AlchemyGuard:   alchemyGuard,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		logg.Info(shutdownCtx, "api server stopped")
	}
}
