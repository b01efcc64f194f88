package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Desk state backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Decision submitter backends.
const (
	SubmitterMock  = "mock"
	SubmitterQueue = "queue"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`
	AppRateLimit      int           `envconfig:"APP_RATE_LIMIT" default:"120"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	RedisAddr  string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"12h"`

	CSRFSecret string `envconfig:"CSRF_SECRET" required:"true"`

	DeskStore          string        `envconfig:"DESK_STORE" default:"redis"`
	DeskStateTTL       time.Duration `envconfig:"DESK_STATE_TTL" default:"12h"`
	DeskSubmitter      string        `envconfig:"DESK_SUBMITTER" default:"mock"`
	DeskMockLatency    time.Duration `envconfig:"DESK_MOCK_LATENCY" default:"1s"`
	DeskLoadingTimeout time.Duration `envconfig:"DESK_LOADING_TIMEOUT" default:"2m"`
	DeskOptionsFile    string        `envconfig:"DESK_OPTIONS_FILE"`

	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"5"`
	WorkerMetricsAddr string `envconfig:"WORKER_METRICS_ADDR" default:":9091"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	if c.CSRFSecret == "" {
		return errors.New("csrf secret must be provided")
	}
	switch c.DeskStore {
	case StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("unsupported DESK_STORE %q", c.DeskStore)
	}
	switch c.DeskSubmitter {
	case SubmitterMock, SubmitterQueue:
	default:
		return fmt.Errorf("unsupported DESK_SUBMITTER %q", c.DeskSubmitter)
	}
	if c.DeskMockLatency < 0 {
		return errors.New("DESK_MOCK_LATENCY must not be negative")
	}
	if c.DeskLoadingTimeout <= c.DeskMockLatency {
		return errors.New("DESK_LOADING_TIMEOUT must exceed DESK_MOCK_LATENCY")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
