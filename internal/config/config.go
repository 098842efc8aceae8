package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment variables.
type Config struct {
	// Mode selects the runtime mode: "api" or "reaper".
	Mode string `env:"DIOGENES_MODE" envDefault:"api"`

	// Server
	Host string `env:"DIOGENES_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"DIOGENES_PORT" envDefault:"8080"`

	// Redis backs the StateStore — the only correctness-critical dependency.
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Postgres is optional: when DatabaseURL is empty the events log
	// degrades to a no-op sink.
	DatabaseURL         string `env:"DATABASE_URL"`
	EventsMigrationsDir string `env:"EVENTS_MIGRATIONS_DIR" envDefault:"migrations/events"`

	// Compute backend selects how instances are provisioned: "mock" or "http".
	ComputeBackend string `env:"COMPUTE_BACKEND" envDefault:"mock"`
	ComputeBaseURL string `env:"COMPUTE_BASE_URL"`

	// Worker inference server
	WorkerPort          int `env:"WORKER_PORT" envDefault:"8000"`
	HealthPollTimeout   int `env:"HEALTH_POLL_TIMEOUT_SECONDS" envDefault:"800"`
	HealthPollInterval  int `env:"HEALTH_POLL_INTERVAL_SECONDS" envDefault:"10"`
	HealthProbeTimeout  int `env:"HEALTH_PROBE_TIMEOUT_SECONDS" envDefault:"5"`
	ProxyTimeoutSeconds int `env:"PROXY_TIMEOUT_SECONDS" envDefault:"120"`

	// Reaping
	DefaultIdleTimeout int `env:"DEFAULT_IDLE_TIMEOUT_SECONDS" envDefault:"300"`
	ReapInterval       int `env:"REAP_INTERVAL_SECONDS" envDefault:"30"`

	// Auth
	APIKeyPrefix string `env:"API_KEY_PREFIX" envDefault:"dio-"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Slack (optional — if not set, lifecycle notifications are disabled)
	SlackBotToken     string `env:"SLACK_BOT_TOKEN"`
	SlackAlertChannel string `env:"SLACK_ALERT_CHANNEL"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
