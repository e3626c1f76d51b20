package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/nimasrn/credits-gateway/pkg/pg"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every setting of the api, reconciler and cli processes.
// Nothing else in the module reads the environment directly.
type Config struct {
	AppEnv  string `env:"APP_ENV,default=dev"`
	AppName string `env:"APP_NAME,default=credits_gateway"`
	AppURL  string `env:"APP_URL,default=http://localhost:3000"`

	HttpListenAddr string        `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpTimeout    time.Duration `env:"HTTP_TIMEOUT,default=15s"`

	MetricsAddr string `env:"METRICS_ADDR,default=:9100"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`
	PostgresDebug         bool   `env:"POSTGRES_DEBUG"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=credits:"`

	PromNamespace string `env:"PROM_NAMESPACE,default=credits"`

	LogEnv   string `env:"LOG_ENV"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	AuthJWTSecret  string `env:"AUTH_JWT_SECRET"`
	AuthCookieName string `env:"AUTH_COOKIE_NAME,default=sb-access-token"`
	AdminAPIToken  string `env:"ADMIN_API_TOKEN"`

	PayPalMode         string `env:"PAYPAL_MODE,default=sandbox"`
	PayPalClientID     string `env:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret string `env:"PAYPAL_CLIENT_SECRET"`
	PayPalAPIURL       string `env:"PAYPAL_API_URL"`
	PayPalBrandName    string `env:"PAYPAL_BRAND_NAME,default=Nano Banana"`

	CreemAPIKey        string `env:"CREEM_API_KEY"`
	CreemAPIURL        string `env:"CREEM_API_URL,default=https://api.creem.io/v1"`
	CreemWebhookSecret string `env:"CREEM_WEBHOOK_SECRET"`

	CreemProductBasicMonthly string `env:"CREEM_PRODUCT_BASIC_MONTHLY,default=prod_basic_monthly"`
	CreemProductBasicYearly  string `env:"CREEM_PRODUCT_BASIC_YEARLY,default=prod_basic_yearly"`
	CreemProductProMonthly   string `env:"CREEM_PRODUCT_PRO_MONTHLY,default=prod_pro_monthly"`
	CreemProductProYearly    string `env:"CREEM_PRODUCT_PRO_YEARLY,default=prod_pro_yearly"`
	CreemProductMaxMonthly   string `env:"CREEM_PRODUCT_MAX_MONTHLY,default=prod_max_monthly"`
	CreemProductMaxYearly    string `env:"CREEM_PRODUCT_MAX_YEARLY,default=prod_max_yearly"`

	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT,default=20s"`

	ReconcileStream            string        `env:"RECONCILE_STREAM,default=credits.reconciliation"`
	ReconcileGroup             string        `env:"RECONCILE_GROUP,default=reconciler"`
	ReconcileConsumer          string        `env:"RECONCILE_CONSUMER,default=reconciler"`
	ReconcileWorkers           int           `env:"RECONCILE_WORKERS,default=4"`
	ReconcileMaxRetries        int           `env:"RECONCILE_MAX_RETRIES,default=5"`
	ReconcileVisibilityTimeout time.Duration `env:"RECONCILE_VISIBILITY_TIMEOUT,default=30s"`
	ReconcilePollInterval      time.Duration `env:"RECONCILE_POLL_INTERVAL,default=1s"`
	ReconcileReportSpec        string        `env:"RECONCILE_REPORT_SPEC,default=@every 5m"`

	IdempotencyLockTTL      time.Duration `env:"IDEMPOTENCY_LOCK_TTL,default=60s"`
	IdempotencyProcessedTTL time.Duration `env:"IDEMPOTENCY_PROCESSED_TTL,default=168h"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to Config")
	}

	config = c
	return nil
}

// Set replaces the loaded config. Used by tests and embedded setups.
func Set(c *Config) {
	config = c
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

func (c *Config) PostgresRead() pg.Config {
	return pg.Config{
		User:     c.PostgresReadUser,
		Host:     c.PostgresReadHost,
		Port:     c.PostgresReadPort,
		Password: c.PostgresReadPassword,
		Database: c.PostgresReadDatabase,
	}
}

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		User:     c.PostgresWriteUser,
		Host:     c.PostgresWriteHost,
		Port:     c.PostgresWritePort,
		Password: c.PostgresWritePassword,
		Database: c.PostgresWriteDatabase,
	}
}

// PayPalConfigured reports whether both PayPal credentials are present.
func (c *Config) PayPalConfigured() bool {
	return c.PayPalClientID != "" && c.PayPalClientSecret != ""
}

// PayPalBaseURL resolves the Orders API host from PAYPAL_MODE unless overridden.
func (c *Config) PayPalBaseURL() string {
	if c.PayPalAPIURL != "" {
		return c.PayPalAPIURL
	}
	if c.PayPalMode == "live" {
		return "https://api-m.paypal.com"
	}
	return "https://api-m.sandbox.paypal.com"
}

func (c *Config) CreemConfigured() bool {
	return c.CreemAPIKey != ""
}

// CreemProducts maps "{plan}_{period}" to the Creem product id.
func (c *Config) CreemProducts() map[string]string {
	return map[string]string{
		"basic_monthly": c.CreemProductBasicMonthly,
		"basic_yearly":  c.CreemProductBasicYearly,
		"pro_monthly":   c.CreemProductProMonthly,
		"pro_yearly":    c.CreemProductProYearly,
		"max_monthly":   c.CreemProductMaxMonthly,
		"max_yearly":    c.CreemProductMaxYearly,
	}
}
