// Package config loads the service configuration from an optional YAML file
// and environment variables. Environment values win over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the whole service configuration. One document drives the router,
// the worker, and the migrator.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Worker    WorkerConfig    `yaml:"worker"`
	Brain     BrainConfig     `yaml:"brain"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Providers ProvidersConfig `yaml:"providers"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr is the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type WorkerConfig struct {
	PollIntervalMS  int `yaml:"poll_interval_ms"`
	SweepIntervalMS int `yaml:"sweep_interval_ms"`
}

func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c WorkerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

type BrainConfig struct {
	// AnthropicAPIKey enables the LLM planner fallback. Empty disables it;
	// the rule table still works.
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	Model           string `yaml:"model"`
}

type WebhooksConfig struct {
	// Secrets maps a webhook source name to its shared HMAC secret. Sources
	// without a secret accept unsigned deliveries.
	Secrets map[string]string `yaml:"secrets"`
}

type ProvidersConfig struct {
	SMS   SMSProviderConfig   `yaml:"sms"`
	Email EmailProviderConfig `yaml:"email"`
}

type SMSProviderConfig struct {
	APIKey string `yaml:"api_key"`
	From   string `yaml:"from"`
}

type EmailProviderConfig struct {
	APIKey      string `yaml:"api_key"`
	FromAddress string `yaml:"from_address"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the config file at path (optional; "" checks GEM_CONFIG and then
// gem.yaml), expands ${VAR} references, applies environment overrides, then
// defaults, then validates.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("GEM_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat("gem.yaml"); err == nil {
			path = "gem.yaml"
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := envInt("PORT"); v != 0 {
		cfg.Server.Port = v
	}
	if v := envInt("POLL_INTERVAL_MS"); v != 0 {
		cfg.Worker.PollIntervalMS = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Brain.AnthropicAPIKey = v
	}
	if v := os.Getenv("GHL_WEBHOOK_SECRET"); v != "" {
		if cfg.Webhooks.Secrets == nil {
			cfg.Webhooks.Secrets = map[string]string{}
		}
		cfg.Webhooks.Secrets["ghl"] = v
	}
	if v := os.Getenv("SMS_PROVIDER_API_KEY"); v != "" {
		cfg.Providers.SMS.APIKey = v
	}
	if v := os.Getenv("SMS_PROVIDER_FROM"); v != "" {
		cfg.Providers.SMS.From = v
	}
	if v := os.Getenv("EMAIL_PROVIDER_API_KEY"); v != "" {
		cfg.Providers.Email.APIKey = v
	}
	if v := os.Getenv("EMAIL_FROM_ADDRESS"); v != "" {
		cfg.Providers.Email.FromAddress = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func envInt(name string) int {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Worker.PollIntervalMS == 0 {
		cfg.Worker.PollIntervalMS = 5000
	}
	if cfg.Worker.SweepIntervalMS == 0 {
		cfg.Worker.SweepIntervalMS = 60000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the invariants a running service needs.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required (set DATABASE_URL or database.url)")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Worker.PollIntervalMS < 0 || c.Worker.SweepIntervalMS < 0 {
		return fmt.Errorf("worker intervals must be non-negative")
	}
	return nil
}
