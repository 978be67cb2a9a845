package config

const (
	EnvPrefix = "MARKET"

	AppEnvDev        = "dev"
	AppEnvProd       = "prod"
	AppEnvProduction = "production"

	EnvAppEnv   = "MARKET_APP_ENV"
	EnvPort     = "MARKET_APP_PORT"
	EnvLogLevel = "MARKET_LOG_LEVEL"

	EnvDBDSN    = "MARKET_DB_DSN"
	EnvDBDriver = "MARKET_DB_DRIVER"
	EnvDBHost   = "MARKET_DB_HOST"
	EnvDBUser   = "MARKET_DB_USER"
	EnvDBName   = "MARKET_DB_NAME"

	EnvRedisURL = "MARKET_REDIS_URL"

	EnvJWTSecret  = "MARKET_JWT_SECRET"
	EnvJWTIssuer  = "MARKET_JWT_ISSUER"
	EnvJWTExpMins = "MARKET_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID = "MARKET_GCP_PROJECT_ID"

	EnvPubSubOrdersTopic       = "MARKET_PUBSUB_ORDERS_TOPIC"
	EnvPubSubNotificationSub   = "MARKET_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPubSubWalletTopic       = "MARKET_PUBSUB_WALLET_TOPIC"
	EnvPubSubWalletSub         = "MARKET_PUBSUB_WALLET_SUBSCRIPTION"
	EnvShippingCents           = "MARKET_SHIPPING_CENTS"
	EnvPendingOrderTTL         = "MARKET_PENDING_ORDER_TTL"
	EnvAlchemySigningKey       = "MARKET_ALCHEMY_SIGNING_KEY"
	EnvStripeSecret            = "MARKET_STRIPE_SECRET"
	EnvWebhookIdempotencyTTL   = "MARKET_WEBHOOK_IDEMPOTENCY_TTL"
	EnvFeatureDebugSettle      = "MARKET_FEATURE_DEBUG_SETTLE"
	EnvPollerMaxAttempts       = "MARKET_POLLER_MAX_ATTEMPTS"
	EnvPollerInterval          = "MARKET_POLLER_INTERVAL"
	EnvPollerBaseURL           = "MARKET_POLLER_BASE_URL"
	EnvTracingEnabled          = "MARKET_TRACING_ENABLED"
	EnvOutboxPublishBatchSize  = "MARKET_OUTBOX_PUBLISH_BATCH_SIZE"
	EnvOutboxPublishPollMS     = "MARKET_OUTBOX_PUBLISH_POLL_MS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
