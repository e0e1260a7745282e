package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for telemetry-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (the database password) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3880"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Authentication configuration for the privileged surface
	Auth AuthConfig `yaml:"auth"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Retention reaper configuration
	Retention RetentionConfig `yaml:"retention"`

	// Stats aggregator windows
	Stats StatsConfig `yaml:"stats"`

	// Ingestion path tuning
	Ingest IngestConfig `yaml:"ingest"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT signatures are validated
	// against JWKS. Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`

	// AdminRole is the role claim that marks a token as privileged.
	AdminRole string `yaml:"admin_role" env:"AUTH_ADMIN_ROLE" env-default:"telemetry:admin"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"telemetry"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"telemetry_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// URL builds the pgx connection URL.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RetentionConfig holds the retention reaper settings.
type RetentionConfig struct {
	// Months is the retention horizon. Rows older than this are eligible for
	// deletion by the reaper. 24 months matches the published privacy policy.
	Months int `yaml:"months" env:"RETENTION_MONTHS" env-default:"24"`
}

// StatsConfig holds the stats aggregator's window defaults.
type StatsConfig struct {
	// DefaultWindowDays is the trailing window used when callers omit a range.
	DefaultWindowDays int `yaml:"default_window_days" env:"STATS_DEFAULT_WINDOW_DAYS" env-default:"30"`
	// ActivityDays is the length of the daily activity series.
	ActivityDays int `yaml:"activity_days" env:"STATS_ACTIVITY_DAYS" env-default:"90"`
}

// IngestConfig holds ingestion path tuning.
type IngestConfig struct {
	// MaxRetries bounds internal retries of transient storage failures before
	// the insert surfaces a storage error to the caller.
	MaxRetries int `yaml:"max_retries" env:"INGEST_MAX_RETRIES" env-default:"3"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseComplexFields parses fields that cleanenv cannot express directly.
func (c *Config) parseComplexFields() error {
	c.Auth.JWKSEndpoints = make(map[string]string)
	if c.Auth.JWKSEndpointsStr == "" {
		return nil
	}
	for _, pair := range strings.Split(c.Auth.JWKSEndpointsStr, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		issuer, url, found := strings.Cut(pair, "=")
		if !found || issuer == "" || url == "" {
			return fmt.Errorf("invalid jwks_endpoints entry %q (want issuer=url)", pair)
		}
		c.Auth.JWKSEndpoints[issuer] = url
	}
	return nil
}

func (c *Config) validate() error {
	if c.Auth.EnableVerification && len(c.Auth.JWKSEndpoints) == 0 {
		return fmt.Errorf("auth verification enabled but no jwks_endpoints configured")
	}
	if c.Retention.Months <= 0 {
		return fmt.Errorf("retention months must be positive, got %d", c.Retention.Months)
	}
	if c.Stats.DefaultWindowDays <= 0 || c.Stats.ActivityDays <= 0 {
		return fmt.Errorf("stats windows must be positive")
	}
	return nil
}
