package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("SessionDuration converts hours", func(t *testing.T) {
		cfg := &Config{SessionDurationHours: 168}
		assert.Equal(t, 7*24*time.Hour, cfg.SessionDuration())
	})

	t.Run("WarningThreshold converts minutes", func(t *testing.T) {
		cfg := &Config{WarningThresholdMinutes: 30}
		assert.Equal(t, 30*time.Minute, cfg.WarningThreshold())
	})

	t.Run("MonitorInterval converts minutes", func(t *testing.T) {
		cfg := &Config{MonitorIntervalMinutes: 5}
		assert.Equal(t, 5*time.Minute, cfg.MonitorInterval())
	})

	t.Run("BaseDelay converts milliseconds", func(t *testing.T) {
		cfg := &Config{BaseDelayMS: 1000}
		assert.Equal(t, time.Second, cfg.BaseDelay())
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":                   os.Getenv("PORT"),
		"DATABASE_URL":           os.Getenv("DATABASE_URL"),
		"REDIS_URL":              os.Getenv("REDIS_URL"),
		"TOKEN_SECRET":           os.Getenv("TOKEN_SECRET"),
		"SESSION_DURATION_HOURS": os.Getenv("SESSION_DURATION_HOURS"),
		"MAX_RETRIES":            os.Getenv("MAX_RETRIES"),
		"LOG_LEVEL":              os.Getenv("LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("TOKEN_SECRET", "test-secret")
		os.Unsetenv("PORT")
		os.Unsetenv("SESSION_DURATION_HOURS")
		os.Unsetenv("MAX_RETRIES")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, 168, cfg.SessionDurationHours)
		assert.Equal(t, 30, cfg.WarningThresholdMinutes)
		assert.Equal(t, 5, cfg.MonitorIntervalMinutes)
		assert.Equal(t, 5, cfg.RefreshThresholdMinutes)
		assert.Equal(t, 3, cfg.MaxRetries)
		assert.Equal(t, 1000, cfg.BaseDelayMS)
		assert.Equal(t, "auth:state:default", cfg.AuthStateKey)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("TOKEN_SECRET", "test-secret")
		os.Setenv("PORT", "3000")
		os.Setenv("SESSION_DURATION_HOURS", "24")
		os.Setenv("MAX_RETRIES", "2")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, 24*time.Hour, cfg.SessionDuration())
		assert.Equal(t, 2, cfg.MaxRetries)
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("TOKEN_SECRET", "test-secret")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails without required TOKEN_SECRET", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("TOKEN_SECRET")

		_, err := Load()
		assert.Error(t, err)
	})
}
