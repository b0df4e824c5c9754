package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	TokenSecret string `env:"TOKEN_SECRET,required"`

	SessionDurationHours    int `env:"SESSION_DURATION_HOURS" envDefault:"168"`
	WarningThresholdMinutes int `env:"WARNING_THRESHOLD_MINUTES" envDefault:"30"`
	MonitorIntervalMinutes  int `env:"MONITOR_INTERVAL_MINUTES" envDefault:"5"`
	RefreshThresholdMinutes int `env:"REFRESH_THRESHOLD_MINUTES" envDefault:"5"`

	MaxRetries   int    `env:"MAX_RETRIES" envDefault:"3"`
	BaseDelayMS  int    `env:"BASE_DELAY_MS" envDefault:"1000"`
	AuthStateKey string `env:"AUTH_STATE_KEY" envDefault:"auth:state:default"`
}

// SessionDuration is the absolute lifetime of an authenticated session.
func (c *Config) SessionDuration() time.Duration {
	return time.Duration(c.SessionDurationHours) * time.Hour
}

// WarningThreshold is how close to expiry the one-shot warning fires.
func (c *Config) WarningThreshold() time.Duration {
	return time.Duration(c.WarningThresholdMinutes) * time.Minute
}

// MonitorInterval is the periodic revalidation cadence.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalMinutes) * time.Minute
}

// RefreshThreshold is the remaining token lifetime below which the
// gateway refreshes proactively.
func (c *Config) RefreshThreshold() time.Duration {
	return time.Duration(c.RefreshThresholdMinutes) * time.Minute
}

func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
