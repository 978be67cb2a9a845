package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Alchemy      AlchemyConfig
	Settlement   SettlementConfig
	Poller       PollerConfig
	Tracing      TracingConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"MARKET_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MARKET_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARKET_LOG_WARN_STACK" default:"false"`
	// MetricsAddr is the /metrics listener for background workers; empty disables it.
	MetricsAddr string `envconfig:"MARKET_METRICS_ADDR"`
	// CORSOrigins is a comma separated allow-list for browser clients.
	CORSOrigins []string `envconfig:"MARKET_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	env := strings.ToLower(strings.TrimSpace(a.Env))
	return env == AppEnvProd || env == AppEnvProduction
}

type ServiceConfig struct {
	Kind string `envconfig:"MARKET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARKET_DB_DSN"`
	Driver string `envconfig:"MARKET_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKET_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKET_DB_USER"`
	LegacyPassword string `envconfig:"MARKET_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKET_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQuery logs statements slower than this at warn level. Zero disables it.
	SlowQuery time.Duration `envconfig:"MARKET_DB_SLOW_QUERY" default:"300ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MARKET_REDIS_ADDR"`
	Password     string        `envconfig:"MARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MARKET_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MARKET_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MARKET_JWT_EXPIRATION_MINUTES" required:"true"`
}

// Expiration returns the access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	AutoMigrate   bool `envconfig:"MARKET_AUTO_MIGRATE" default:"false"`
	DebugSettle   bool `envconfig:"MARKET_FEATURE_DEBUG_SETTLE" default:"true"`
	SessionChecks bool `envconfig:"MARKET_FEATURE_SESSION_CHECKS" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"MARKET_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"MARKET_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	RequestIdempotencyTTL time.Duration `envconfig:"MARKET_REQUEST_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"MARKET_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON string `envconfig:"MARKET_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	OrdersTopic              string `envconfig:"MARKET_PUBSUB_ORDERS_TOPIC" required:"true"`
	NotificationSubscription string `envconfig:"MARKET_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
	WalletTopic              string `envconfig:"MARKET_PUBSUB_WALLET_TOPIC" default:"market-wallet-events"`
	WalletSubscription       string `envconfig:"MARKET_PUBSUB_WALLET_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"MARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"MARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"MARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"MARKET_OUTBOX_RETENTION" default:"720h"`
}

type StripeConfig struct {
	APIKey string `envconfig:"MARKET_STRIPE_API_KEY"`
	Secret string `envconfig:"MARKET_STRIPE_SECRET"`
	Env    string `envconfig:"MARKET_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type AlchemyConfig struct {
	SigningKey string        `envconfig:"MARKET_ALCHEMY_SIGNING_KEY"`
	AuthToken  string        `envconfig:"MARKET_ALCHEMY_AUTH_TOKEN"`
	WebhookID  string        `envconfig:"MARKET_ALCHEMY_WEBHOOK_ID"`
	NotifyURL  string        `envconfig:"MARKET_ALCHEMY_NOTIFY_URL" default:"https://dashboard.alchemy.com/api"`
	Timeout    time.Duration `envconfig:"MARKET_ALCHEMY_TIMEOUT" default:"10s"`
}

type SettlementConfig struct {
	ShippingCents   int64         `envconfig:"MARKET_SHIPPING_CENTS" default:"800"`
	PendingOrderTTL time.Duration `envconfig:"MARKET_PENDING_ORDER_TTL" default:"30m"`
	SweepInterval   time.Duration `envconfig:"MARKET_SWEEP_INTERVAL" default:"1m"`
	SweepBatchSize  int           `envconfig:"MARKET_SWEEP_BATCH_SIZE" default:"100"`
	JobTimeout      time.Duration `envconfig:"MARKET_CRON_JOB_TIMEOUT" default:"2m"`
	ChainID         int64         `envconfig:"MARKET_CHAIN_ID" default:"11155111"`
}

// Shipping returns the fixed shipping surcharge in dollars.
func (s SettlementConfig) Shipping() decimal.Decimal {
	return decimal.New(s.ShippingCents, -2)
}

type PollerConfig struct {
	BaseURL     string        `envconfig:"MARKET_POLLER_BASE_URL" default:"http://localhost:8080"`
	MaxAttempts int           `envconfig:"MARKET_POLLER_MAX_ATTEMPTS" default:"10"`
	Interval    time.Duration `envconfig:"MARKET_POLLER_INTERVAL" default:"3s"`
}

// RateLimitConfig throttles purchase attempts per client IP and per buyer.
type RateLimitConfig struct {
	Window            time.Duration `envconfig:"MARKET_RATE_LIMIT_WINDOW" default:"1m"`
	PurchaseIPLimit   int           `envconfig:"MARKET_RATE_LIMIT_PURCHASE_IP" default:"60"`
	PurchaseUserLimit int           `envconfig:"MARKET_RATE_LIMIT_PURCHASE_USER" default:"10"`
	WebhookIPLimit    int           `envconfig:"MARKET_RATE_LIMIT_WEBHOOK_IP" default:"600"`
}

type TracingConfig struct {
	Enabled      bool   `envconfig:"MARKET_TRACING_ENABLED" default:"false"`
	OTLPEndpoint string `envconfig:"MARKET_OTLP_ENDPOINT" default:"otel-collector:4318"`
	Insecure     bool   `envconfig:"MARKET_OTLP_INSECURE" default:"true"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
