package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Telephony    TelephonyConfig
	PubSub       PubSubConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	// envconfig treats a set-but-empty variable as present, so required
	// values still need an emptiness check.
	if strings.TrimSpace(cfg.DB.DSN) == "" {
		return nil, fmt.Errorf("RINGDESK_DB_DSN must not be empty")
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"RINGDESK_APP_ENV" required:"true"`
	Port         string `envconfig:"RINGDESK_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"RINGDESK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RINGDESK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN             string        `envconfig:"RINGDESK_DB_DSN" required:"true"`
	MaxOpenConns    int           `envconfig:"RINGDESK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RINGDESK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RINGDESK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RINGDESK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"RINGDESK_REDIS_URL"`
	Address      string        `envconfig:"RINGDESK_REDIS_ADDR"`
	Password     string        `envconfig:"RINGDESK_REDIS_PASSWORD"`
	DB           int           `envconfig:"RINGDESK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RINGDESK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RINGDESK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RINGDESK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RINGDESK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RINGDESK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"RINGDESK_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"RINGDESK_JWT_ISSUER" default:"ringdesk"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"RINGDESK_FEATURE_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	WebhookSecret string `envconfig:"RINGDESK_STRIPE_WEBHOOK_SECRET" required:"true"`
}

type TelephonyConfig struct {
	BaseURL string `envconfig:"RINGDESK_TELEPHONY_BASE_URL" required:"true"`
	APIKey  string `envconfig:"RINGDESK_TELEPHONY_API_KEY" required:"true"`
	// Webhook signing secret for inbound call.ended deliveries.
	WebhookSecret string `envconfig:"RINGDESK_TELEPHONY_WEBHOOK_SECRET" required:"true"`
	// Upper bound on concurrent provisioning calls against the shared
	// upstream inventory.
	MaxConcurrentProvisions int           `envconfig:"RINGDESK_TELEPHONY_MAX_CONCURRENT_PROVISIONS" default:"4"`
	RequestTimeout          time.Duration `envconfig:"RINGDESK_TELEPHONY_REQUEST_TIMEOUT" default:"15s"`
	RetryMax                int           `envconfig:"RINGDESK_TELEPHONY_RETRY_MAX" default:"3"`
}

type PubSubConfig struct {
	ProjectID      string `envconfig:"RINGDESK_PUBSUB_PROJECT_ID"`
	LifecycleTopic string `envconfig:"RINGDESK_PUBSUB_LIFECYCLE_TOPIC" default:"subscription-lifecycle"`
}

type CronConfig struct {
	TrialExpiryInterval    time.Duration `envconfig:"RINGDESK_CRON_TRIAL_EXPIRY_INTERVAL" default:"10m"`
	LedgerRetention        time.Duration `envconfig:"RINGDESK_CRON_LEDGER_RETENTION" default:"720h"`
	LedgerRetentionBatch   int           `envconfig:"RINGDESK_CRON_LEDGER_RETENTION_BATCH" default:"1000"`
	LedgerRetentionEnabled bool          `envconfig:"RINGDESK_CRON_LEDGER_RETENTION_ENABLED" default:"true"`
}
