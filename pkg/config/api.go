package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// APIConfig holds runtime configuration for the API service. Values come from
// code defaults, then an optional YAML file, then the environment.
type APIConfig struct {
	Environment               string   `yaml:"environment" env:"APP_ENV"`
	LogLevel                  string   `yaml:"log_level" env:"LOG_LEVEL"`
	Addr                      string   `yaml:"addr" env:"API_ADDR"`
	DatabaseURL               string   `yaml:"database_url" env:"DATABASE_URL"`
	MigrationsDir             string   `yaml:"migrations_dir" env:"DB_MIGRATIONS_DIR"`
	StoreDriver               string   `yaml:"store_driver" env:"STORE_DRIVER"`
	JWTSecret                 string   `yaml:"jwt_secret" env:"JWT_SECRET"`
	InviteLinkSecret          string   `yaml:"invite_link_secret" env:"INVITE_LINK_SECRET"`
	InviteTTLHours            int      `yaml:"invite_ttl_hours" env:"INVITE_TTL_HOURS"`
	PublicBaseURL             string   `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
	RedisAddr                 string   `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword             string   `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB                   int      `yaml:"redis_db" env:"REDIS_DB"`
	RateLimitPerMinute        int      `yaml:"rate_limit_per_minute" env:"RATE_LIMIT_PER_MINUTE"`
	NotifyWebhookURL          string   `yaml:"notify_webhook_url" env:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookToken        string   `yaml:"notify_webhook_token" env:"NOTIFY_WEBHOOK_TOKEN"`
	NotifyKafkaBrokers        []string `yaml:"notify_kafka_brokers" env:"NOTIFY_KAFKA_BROKERS" envSeparator:","`
	NotifyKafkaTopic          string   `yaml:"notify_kafka_topic" env:"NOTIFY_KAFKA_TOPIC"`
	NotifyTimeoutSeconds      int      `yaml:"notify_timeout_seconds" env:"NOTIFY_TIMEOUT_SECONDS"`
	ConsensusReconcileSeconds int      `yaml:"consensus_reconcile_seconds" env:"CONSENSUS_RECONCILE_SECONDS"`
	ConsensusSignalBuffer     int      `yaml:"consensus_signal_buffer" env:"CONSENSUS_SIGNAL_BUFFER"`
	InviteSweepSeconds        int      `yaml:"invite_sweep_seconds" env:"INVITE_SWEEP_SECONDS"`
	LockTTLSeconds            int      `yaml:"lock_ttl_seconds" env:"LOCK_TTL_SECONDS"`
	OTelEndpoint              string   `yaml:"otel_endpoint" env:"OTEL_ENDPOINT"`
	CatalogFile               string   `yaml:"catalog_file" env:"CATALOG_FILE"`
}

// DefaultAPIConfig returns the configuration used when nothing overrides it.
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		Environment:               "development",
		LogLevel:                  "info",
		Addr:                      ":4000",
		DatabaseURL:               "postgres://teamforge:teamforge@db:5432/teamforge?sslmode=disable",
		MigrationsDir:             "db/migrations",
		StoreDriver:               StoreDriverPostgres,
		JWTSecret:                 "supersecuresecret",
		InviteTTLHours:            7 * 24,
		PublicBaseURL:             "http://localhost:4000",
		RateLimitPerMinute:        120,
		NotifyKafkaTopic:          "teamforge.notifications",
		NotifyTimeoutSeconds:      10,
		ConsensusReconcileSeconds: 60,
		ConsensusSignalBuffer:     64,
		InviteSweepSeconds:        300,
		LockTTLSeconds:            30,
	}
}

// LoadAPIConfig builds an APIConfig. When path is empty TEAMFORGE_CONFIG is
// consulted; with neither set only defaults and the environment apply.
func LoadAPIConfig(path string) (APIConfig, error) {
	cfg := DefaultAPIConfig()
	if path == "" {
		path = GetString("TEAMFORGE_CONFIG", "")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return APIConfig{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return APIConfig{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return APIConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.InviteLinkSecret == "" {
		cfg.InviteLinkSecret = cfg.JWTSecret
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return APIConfig{}, err
	}
	return cfg, nil
}

// Validate reports configuration the API cannot start with.
func (c APIConfig) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.InviteTTLHours <= 0 {
		errs = append(errs, errors.New("INVITE_TTL_HOURS must be positive"))
	}
	return errors.Join(errs...)
}

// InviteTTL is how long an invitation stays pending.
func (c APIConfig) InviteTTL() time.Duration {
	return time.Duration(c.InviteTTLHours) * time.Hour
}

// NotifyTimeout bounds a single notification delivery.
func (c APIConfig) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutSeconds) * time.Second
}

// ReconcileInterval is the period of the assignment reconcile loop.
func (c APIConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ConsensusReconcileSeconds) * time.Second
}

// SweepInterval is the period of the invitation expiry sweeper.
func (c APIConfig) SweepInterval() time.Duration {
	return time.Duration(c.InviteSweepSeconds) * time.Second
}

// LockTTL bounds how long a Redis assignment lock survives a crashed holder.
func (c APIConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}
