package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-settlement/api/controllers"
	ordercontrollers "github.com/angelmondragon/marketplace-settlement/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/marketplace-settlement/api/controllers/webhooks"
	"github.com/angelmondragon/marketplace-settlement/api/middleware"
	"github.com/angelmondragon/marketplace-settlement/internal/notifications"
	"github.com/angelmondragon/marketplace-settlement/internal/reservation"
	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/internal/wallets"
	"github.com/angelmondragon/marketplace-settlement/internal/webhooks"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth/session"
	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	pkgredis "github.com/angelmondragon/marketplace-settlement/pkg/redis"
	pkgstripe "github.com/angelmondragon/marketplace-settlement/pkg/stripe"
)

// RedisStore is the subset of the redis client the HTTP layer depends on.
type RedisStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

// Params collects everything the router mounts.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       db.Pinger
	Redis    RedisStore
	Sessions session.AccessSessionChecker
	Gatherer prometheus.Gatherer
	HTTP     *metrics.HTTPMetrics

	Reservation   reservation.Service
	Settlement    settlement.Service
	Wallets       wallets.Service
	Notifications notifications.Service

	StripeWebhook  webhookcontrollers.StripeWebhookService
	StripeClient   *pkgstripe.Client
	StripeGuard    *webhooks.AppliedEvents
	AlchemyWebhook webhookcontrollers.AlchemyWebhookService
	AlchemyGuard   *webhooks.AppliedEvents
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Tracing("market-api"),
		middleware.Logging(logg),
		middleware.Metrics(p.HTTP),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	purchasePolicy := middleware.NewRateLimitPolicy(
		"purchase",
		cfg.RateLimit.Window,
		cfg.RateLimit.PurchaseIPLimit,
		cfg.RateLimit.PurchaseUserLimit,
	)
	webhookPolicy := middleware.NewRateLimitPolicy("webhook", cfg.RateLimit.Window, cfg.RateLimit.WebhookIPLimit, 0)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, p.DB, p.Redis, logg))
	})
	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(p.Gatherer))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.RateLimit(webhookPolicy, p.Redis, logg))
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.StripeWebhook, stripeSecret(p.StripeClient), guardOrNil(p.StripeGuard), logg))
		r.Post("/alchemy", webhookcontrollers.AlchemyWebhook(p.AlchemyWebhook, cfg.Alchemy.SigningKey, guardOrNil(p.AlchemyGuard), logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, p.Sessions, logg))
		r.Use(middleware.Idempotency(p.Redis, cfg.Eventing.RequestIdempotencyTTL, logg))

		r.Route("/orders", func(r chi.Router) {
			r.With(middleware.RateLimit(purchasePolicy, p.Redis, logg)).Post("/", ordercontrollers.Reserve(p.Reservation, logg))
			r.With(middleware.RateLimit(purchasePolicy, p.Redis, logg)).Post("/card-intent", ordercontrollers.CardIntent(p.Reservation, logg))
			r.Get("/", ordercontrollers.List(p.Settlement, logg))
			r.Get("/{orderId}/status", ordercontrollers.Status(p.Settlement, logg))
			if !cfg.App.IsProd() && cfg.FeatureFlags.DebugSettle {
				r.Post("/{orderId}/debug-settle", ordercontrollers.DebugSettle(p.Settlement, logg))
			}
		})

		r.Put("/users/me/wallet", controllers.RegisterWallet(p.Wallets, logg))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(p.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(p.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(p.Notifications, logg))
		})
	})

	return r
}

// stripeSecret keeps a nil *Client from becoming a non-nil interface.
func stripeSecret(client *pkgstripe.Client) interface{ SigningSecret() string } {
	if client == nil {
		return nil
	}
	return client
}

func guardOrNil(guard *webhooks.AppliedEvents) interface {
	Applied(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string) error
} {
	if guard == nil {
		return nil
	}
	return guard
}
