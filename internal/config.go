package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// Application base URL (for checkout and portal return links)
	BaseURL string

	// Persistence: "memory" or "postgres"
	Store       string
	DatabaseUrl string

	// Identity tokens
	JWTSecret string
	JWTIssuer string
	// AuthDevUser authenticates token-less requests as this user.
	// Development only.
	AuthDevUser string

	// DefaultTimezone is used by the calendar when the viewer sends none.
	DefaultTimezone string
	Location        *time.Location

	// RatingAtomic reserves usage before scoring instead of after.
	RatingAtomic bool

	// Rating rate limit (per user, fixed window)
	RatingRateLimit  int
	RatingRateWindow time.Duration

	// AutosaveQuietPeriod is how long a draft must be idle before it is saved.
	AutosaveQuietPeriod time.Duration

	// Worker Configuration
	WorkerEnabled          bool
	WorkerJobTimeout       time.Duration
	OverdueSweepSchedule   string
	RateLimitPruneSchedule string

	// AI Provider Configuration
	AIProvider       string // "anthropic" or "mock"
	AnthropicAPIKey  string
	AnthropicModel   string
	AIMaxRetries     int
	AIRetryBaseDelay time.Duration
	AIRequestTimeout time.Duration

	// Stripe Billing Configuration
	// Billing routes answer 503 when the secret key is empty.
	StripeSecretKey     string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret string // Stripe webhook signing secret (whsec_...)

	// Stripe Price IDs for subscription plans
	StripeStarterMonthlyPriceID string
	StripeStarterYearlyPriceID  string
	StripeProMonthlyPriceID     string
	StripeProYearlyPriceID      string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// BillingEnabled reports whether Stripe is configured.
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
}

// NewConfig reads the environment, after loading .env if present, and
// validates the result.
func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		// Base URL defaults to localhost for development
		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		// In-memory store unless told otherwise
		Store:       getEnv("STORE", "memory"),
		DatabaseUrl: getEnv("DATABASE_URL", ""),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", ""),
		AuthDevUser: getEnv("AUTH_DEV_USER", ""),

		DefaultTimezone: getEnv("DEFAULT_TIMEZONE", "UTC"),

		RatingAtomic:     getEnvBool("RATING_ATOMIC", false),
		RatingRateLimit:  getEnvInt("RATING_RATE_LIMIT", 10),
		RatingRateWindow: getEnvDuration("RATING_RATE_WINDOW", time.Minute),

		AutosaveQuietPeriod: getEnvDuration("AUTOSAVE_QUIET_PERIOD", 2*time.Second),

		// Worker defaults
		WorkerEnabled:          getEnvBool("WORKER_ENABLED", true),
		WorkerJobTimeout:       getEnvDuration("WORKER_JOB_TIMEOUT", 2*time.Minute),
		OverdueSweepSchedule:   getEnv("OVERDUE_SWEEP_SCHEDULE", "*/15 * * * *"),
		RateLimitPruneSchedule: getEnv("RATE_LIMIT_PRUNE_SCHEDULE", "@every 5m"),

		// AI provider defaults
		AIProvider:       getEnv("AI_PROVIDER", "mock"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", ""),
		AIMaxRetries:     getEnvInt("AI_MAX_RETRIES", 3),
		AIRetryBaseDelay: getEnvDuration("AI_RETRY_BASE_DELAY", 1*time.Second),
		AIRequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 30*time.Second),

		// Stripe billing (optional)
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		StripeStarterMonthlyPriceID: getEnv("STRIPE_STARTER_MONTHLY_PRICE_ID", ""),
		StripeStarterYearlyPriceID:  getEnv("STRIPE_STARTER_YEARLY_PRICE_ID", ""),
		StripeProMonthlyPriceID:     getEnv("STRIPE_PRO_MONTHLY_PRICE_ID", ""),
		StripeProYearlyPriceID:      getEnv("STRIPE_PRO_YEARLY_PRICE_ID", ""),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	// Validate store configuration
	switch cfg.Store {
	case "postgres":
		if cfg.DatabaseUrl == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE is 'postgres'")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE must be either 'memory' or 'postgres', got: %s", cfg.Store)
	}

	// Validate identity configuration
	if cfg.AuthDevUser != "" && !cfg.IsDevelopment() {
		return fmt.Errorf("AUTH_DEV_USER is only allowed when ENV is 'development'")
	}
	if cfg.JWTSecret == "" && cfg.AuthDevUser == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE is not a valid IANA zone: %s", cfg.DefaultTimezone)
	}
	cfg.Location = loc

	if cfg.RatingRateLimit < 1 {
		return fmt.Errorf("RATING_RATE_LIMIT must be at least 1, got %d", cfg.RatingRateLimit)
	}
	if cfg.RatingRateWindow < time.Second {
		return fmt.Errorf("RATING_RATE_WINDOW must be at least 1s, got %v", cfg.RatingRateWindow)
	}
	if cfg.AutosaveQuietPeriod <= 0 {
		return fmt.Errorf("AUTOSAVE_QUIET_PERIOD must be positive, got %v", cfg.AutosaveQuietPeriod)
	}

	// Validate AI provider configuration
	if cfg.AIProvider == "anthropic" {
		if cfg.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is 'anthropic'")
		}
	} else if cfg.AIProvider != "mock" {
		return fmt.Errorf("AI_PROVIDER must be either 'anthropic' or 'mock', got: %s", cfg.AIProvider)
	}

	// Validate billing configuration
	if cfg.BillingEnabled() {
		if cfg.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
		}
		if cfg.StripeStarterMonthlyPriceID == "" || cfg.StripeProMonthlyPriceID == "" {
			return fmt.Errorf("STRIPE_STARTER_MONTHLY_PRICE_ID and STRIPE_PRO_MONTHLY_PRICE_ID are required when STRIPE_SECRET_KEY is set")
		}
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
