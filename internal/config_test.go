package internal

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "time/tzdata"
)

var configKeys = []string{
	"ENV", "PORT", "LOG_LEVEL", "BASE_URL", "STORE", "DATABASE_URL",
	"JWT_SECRET", "JWT_ISSUER", "AUTH_DEV_USER", "DEFAULT_TIMEZONE",
	"RATING_ATOMIC", "RATING_RATE_LIMIT", "RATING_RATE_WINDOW",
	"AUTOSAVE_QUIET_PERIOD", "WORKER_ENABLED", "WORKER_JOB_TIMEOUT",
	"OVERDUE_SWEEP_SCHEDULE", "RATE_LIMIT_PRUNE_SCHEDULE",
	"AI_PROVIDER", "ANTHROPIC_API_KEY", "ANTHROPIC_MODEL",
	"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET",
	"STRIPE_STARTER_MONTHLY_PRICE_ID", "STRIPE_STARTER_YEARLY_PRICE_ID",
	"STRIPE_PRO_MONTHLY_PRICE_ID", "STRIPE_PRO_YEARLY_PRICE_ID",
	"METRICS_USERNAME", "METRICS_PASSWORD",
}

// setEnv clears every config key, then applies vars.
func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	setEnv(t, map[string]string{"JWT_SECRET": "s3cret"})

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, "*/15 * * * *", cfg.OverdueSweepSchedule)
	assert.Equal(t, 2*time.Second, cfg.AutosaveQuietPeriod)
	assert.Equal(t, "mock", cfg.AIProvider)
	assert.False(t, cfg.RatingAtomic)
	assert.False(t, cfg.BillingEnabled())
	assert.True(t, cfg.WorkerEnabled)
}

func TestNewConfig_Overrides(t *testing.T) {
	setEnv(t, map[string]string{
		"ENV":                   "production",
		"PORT":                  "9000",
		"STORE":                 "postgres",
		"DATABASE_URL":          "postgres://localhost/quill",
		"JWT_SECRET":            "s3cret",
		"DEFAULT_TIMEZONE":      "Europe/Berlin",
		"RATING_ATOMIC":         "true",
		"AUTOSAVE_QUIET_PERIOD": "500ms",
		"RATING_RATE_LIMIT":     "not-a-number",
	})

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "Europe/Berlin", cfg.Location.String())
	assert.True(t, cfg.RatingAtomic)
	assert.Equal(t, 500*time.Millisecond, cfg.AutosaveQuietPeriod)
	assert.Equal(t, 10, cfg.RatingRateLimit, "unparseable values fall back")
	assert.False(t, cfg.IsDevelopment())
}

func TestNewConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		wantErr string
	}{
		{
			name:    "postgres without url",
			vars:    map[string]string{"JWT_SECRET": "x", "STORE": "postgres"},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "unknown store",
			vars:    map[string]string{"JWT_SECRET": "x", "STORE": "sqlite"},
			wantErr: "STORE",
		},
		{
			name:    "no secret and no dev user",
			vars:    map[string]string{},
			wantErr: "JWT_SECRET",
		},
		{
			name:    "dev user outside development",
			vars:    map[string]string{"ENV": "production", "AUTH_DEV_USER": "me", "JWT_SECRET": "x"},
			wantErr: "AUTH_DEV_USER",
		},
		{
			name:    "bad timezone",
			vars:    map[string]string{"JWT_SECRET": "x", "DEFAULT_TIMEZONE": "Mars/Olympus"},
			wantErr: "DEFAULT_TIMEZONE",
		},
		{
			name:    "anthropic without key",
			vars:    map[string]string{"JWT_SECRET": "x", "AI_PROVIDER": "anthropic"},
			wantErr: "ANTHROPIC_API_KEY",
		},
		{
			name:    "unknown ai provider",
			vars:    map[string]string{"JWT_SECRET": "x", "AI_PROVIDER": "openai"},
			wantErr: "AI_PROVIDER",
		},
		{
			name:    "stripe without webhook secret",
			vars:    map[string]string{"JWT_SECRET": "x", "STRIPE_SECRET_KEY": "sk_test_1"},
			wantErr: "STRIPE_WEBHOOK_SECRET",
		},
		{
			name: "stripe without prices",
			vars: map[string]string{
				"JWT_SECRET":            "x",
				"STRIPE_SECRET_KEY":     "sk_test_1",
				"STRIPE_WEBHOOK_SECRET": "whsec_1",
			},
			wantErr: "PRICE_ID",
		},
		{
			name:    "zero quiet period",
			vars:    map[string]string{"JWT_SECRET": "x", "AUTOSAVE_QUIET_PERIOD": "0s"},
			wantErr: "AUTOSAVE_QUIET_PERIOD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.vars)
			_, err := NewConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewConfig_DevUserWithoutSecret(t *testing.T) {
	setEnv(t, map[string]string{"AUTH_DEV_USER": "local-dev"})

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, "local-dev", cfg.AuthDevUser)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "production", "warn")

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "quill", entry["app"])
	assert.Equal(t, "value", entry["key"])

	buf.Reset()
	NewLogger(&buf, "development", "bogus").Info("text")
	assert.Contains(t, buf.String(), "level=INFO")
	assert.Contains(t, buf.String(), "app=quill")
}
