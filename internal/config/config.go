// Package config defines the global configuration structure for the SabiOps
// notification and usage core. Configuration is loaded once at process
// initialization and is immutable thereafter. It follows 12-Factor App
// principles by strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup (fail fast).
package config

import (
	"time"

	"sabiops/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the notification core.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require
// (Least Privilege principle).
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"sabiops-notify"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	AWS      AWSConfig
	Billing  BillingConfig
	Usage    UsageConfig
	Notify   NotifyConfig
	Guard    GuardConfig
	Security SecurityConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// DashboardURL is the public frontend URL used to absolutize relative
	// notification action URLs (no trailing slash).
	DashboardURL string `envconfig:"DASHBOARD_URL" validate:"required,url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// EventQueueURL is the SQS queue carrying inbound business events to the
	// event worker.
	EventQueueURL string `envconfig:"SQS_EVENTS" validate:"required,url"`

	// MetricNamespace is the CloudWatch namespace for delivery metrics.
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"SabiOps/Notify"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds billing provider credentials and subscription policy.
type BillingConfig struct {
	StripeSecretKey SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`

	// StripeWebhookSecret is the signing secret for inbound Stripe webhook
	// verification (HMAC-SHA256 over the raw payload).
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`

	// GracePeriod is the buffer after subscription expiry during which
	// destructive feature lockout is deferred. Reflected, not enforced:
	// enforcement happens at the server of record.
	GracePeriod time.Duration `envconfig:"SUBSCRIPTION_GRACE_PERIOD" default:"72h"`

	// RefreshInterval controls the subscription watcher re-evaluation tick
	// driving trial countdown updates.
	RefreshInterval time.Duration `envconfig:"SUBSCRIPTION_REFRESH_INTERVAL" default:"60s"`
}

// UsageConfig holds usage tracker policy values.
type UsageConfig struct {
	// FailOpenOnMissingLimit controls the registry behavior when no limit row
	// matches a lookup: true falls back to an effectively-unlimited sentinel
	// (the behavior observed in production data), false refuses the lookup.
	// Silently unlimited access on a missing config row is a deliberate,
	// flagged policy choice; keep it visible in config rather than hard-coded.
	FailOpenOnMissingLimit bool `envconfig:"USAGE_FAIL_OPEN_ON_MISSING_LIMIT" default:"true"`

	// WarningFraction marks results as near-limit when remaining headroom is
	// at or below this fraction of the limit.
	WarningFraction float64 `envconfig:"USAGE_WARNING_FRACTION" default:"0.10"`

	// WarningAbsolute marks results as near-limit when remaining headroom is
	// at or below this absolute count, regardless of fraction.
	WarningAbsolute int `envconfig:"USAGE_WARNING_ABSOLUTE" default:"2"`

	// ReconcileInterval controls how often local optimistic counters are
	// corrected from the server of record.
	ReconcileInterval time.Duration `envconfig:"USAGE_RECONCILE_INTERVAL" default:"5m"`
}

// NotifyConfig holds notification store and toast dispatcher tuning.
type NotifyConfig struct {
	DedupWindow      time.Duration `envconfig:"NOTIFY_DEDUP_WINDOW" default:"5s"`
	MaxStored        int           `envconfig:"NOTIFY_MAX_STORED" default:"200"`
	Retention        time.Duration `envconfig:"NOTIFY_RETENTION" default:"720h"` // 30 days
	SweepInterval    time.Duration `envconfig:"NOTIFY_SWEEP_INTERVAL" default:"1h"`
	MaxToasts        int           `envconfig:"TOAST_MAX_CONCURRENT" default:"5"`
	ToastMaxAge      time.Duration `envconfig:"TOAST_MAX_AGE" default:"30s"`
	ToastSweepPeriod time.Duration `envconfig:"TOAST_SWEEP_PERIOD" default:"5s"`
}

// GuardConfig holds delivery guard circuit breaker and fallback settings.
type GuardConfig struct {
	DebounceWindow   time.Duration `envconfig:"GUARD_DEBOUNCE_WINDOW" default:"500ms"`
	FailureThreshold int           `envconfig:"GUARD_FAILURE_THRESHOLD" default:"5"`
	Cooldown         time.Duration `envconfig:"GUARD_COOLDOWN" default:"30s"`
	PollInterval     time.Duration `envconfig:"GUARD_POLL_INTERVAL" default:"30s"`
}

// SecurityConfig holds inbound authentication settings.
type SecurityConfig struct {
	// ServiceKeyHash is the bcrypt hash of the service key required on the
	// event ingest endpoint. The plaintext key is never configured here.
	ServiceKeyHash SecretString `envconfig:"SERVICE_KEY_HASH" validate:"required"`

	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}
