// Package config loads service configuration from files, .env, and
// environment variables.
//
// Configuration is loaded in the following order (later sources override
// earlier ones):
//  1. Default values
//  2. Configuration file (./config.yaml, ./configs/config.yaml,
//     /etc/edgesync/config.yaml)
//  3. .env file
//  4. Environment variables (EDGESYNC_ prefix, underscores for nesting:
//     EDGESYNC_SERVER_PORT=8080, EDGESYNC_REDIS_URL=redis://localhost:6379)
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServiceConfig contains service metadata.
type ServiceConfig struct {
	// Name is the service name
	Name string `mapstructure:"name"`

	// Environment is the deployment environment (development, staging, production)
	Environment string `mapstructure:"environment"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host"`

	// Port is the server listen port (default: 8080)
	Port int `mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// BodyLimit is the maximum accepted request body size (e.g. "2M")
	BodyLimit string `mapstructure:"body_limit"`
}

// RedisConfig contains cache store connection settings.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db)
	URL string `mapstructure:"url"`
}

// ERPConfig contains upstream ERPNext connection settings.
type ERPConfig struct {
	// BaseURL is the ERPNext instance URL
	BaseURL string `mapstructure:"base_url"`

	// APIKey for token authentication
	APIKey string `mapstructure:"api_key"`

	// APISecret for token authentication
	APISecret string `mapstructure:"api_secret"`

	// Timeout for upstream requests
	Timeout time.Duration `mapstructure:"timeout"`

	// Retries is the number of retry attempts for transient failures
	Retries int `mapstructure:"retries"`
}

// RefreshConfig controls the scheduled full refresh.
type RefreshConfig struct {
	// Enabled turns the weekly refresh scheduler on
	Enabled bool `mapstructure:"enabled"`

	// Weekday is the day the refresh runs (0 = Sunday)
	Weekday int `mapstructure:"weekday"`

	// Hour is the UTC hour the refresh runs
	Hour int `mapstructure:"hour"`

	// BatchSize is the number of items fetched concurrently per batch
	BatchSize int `mapstructure:"batch_size"`
}

// CacheConfig contains per-family TTL overrides. A zero duration means the
// family's entries persist until overwritten.
type CacheConfig struct {
	TTL map[string]time.Duration `mapstructure:"ttl"`
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	// JWTSecret is the secret key for signing access tokens
	JWTSecret string `mapstructure:"jwt_secret"`

	// JWTExpiration is the access token expiration duration (default: 24h)
	JWTExpiration time.Duration `mapstructure:"jwt_expiration"`

	// WebhookToken authenticates upstream webhook calls when set
	WebhookToken string `mapstructure:"webhook_token"`

	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// CertFingerprint is the pinned upstream certificate fingerprint
	// reported by the certificate-info endpoint
	CertFingerprint string `mapstructure:"cert_fingerprint"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format"`
}

// AnalyticsConfig controls optional operational metrics.
type AnalyticsConfig struct {
	// Enabled exposes stream-depth gauges alongside the request metrics
	Enabled bool `mapstructure:"enabled"`
}

// Config is the full service configuration.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	ERP       ERPConfig       `mapstructure:"erp"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
}

// Loader provides configuration loading functionality.
type Loader struct {
	v      *viper.Viper
	prefix string
}

// NewLoader creates a configuration loader with the given environment prefix.
func NewLoader(envPrefix string) *Loader {
	return &Loader{
		v:      viper.New(),
		prefix: envPrefix,
	}
}

// SetConfigDefaults sets the standard service defaults.
func (l *Loader) SetConfigDefaults() {
	l.v.SetDefault("service.name", "edgesync")
	l.v.SetDefault("service.environment", "development")

	l.v.SetDefault("server.host", "0.0.0.0")
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.read_timeout", "30s")
	l.v.SetDefault("server.write_timeout", "30s")
	l.v.SetDefault("server.shutdown_timeout", "10s")
	l.v.SetDefault("server.body_limit", "2M")

	l.v.SetDefault("redis.url", "redis://localhost:6379/0")

	l.v.SetDefault("erp.base_url", "")
	l.v.SetDefault("erp.timeout", "10s")
	l.v.SetDefault("erp.retries", 2)

	l.v.SetDefault("refresh.enabled", true)
	l.v.SetDefault("refresh.weekday", 5) // Friday
	l.v.SetDefault("refresh.hour", 2)
	l.v.SetDefault("refresh.batch_size", 10)

	l.v.SetDefault("security.jwt_expiration", "24h")
	l.v.SetDefault("security.rate_limit", 100)
	l.v.SetDefault("security.allowed_origins", []string{"*"})

	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.format", "json")

	l.v.SetDefault("analytics.enabled", false)
}

// Load reads configuration from file, .env, and environment variables.
// If cfgFile is empty, config.yaml is searched in standard locations.
func (l *Loader) Load(cfgFile string, target interface{}) error {
	if cfgFile != "" {
		l.v.SetConfigFile(cfgFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("./configs")
		l.v.AddConfigPath("/etc/edgesync")
	}

	if err := l.v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Merge .env file if present
	l.v.SetConfigFile(".env")
	l.v.SetConfigType("env")
	_ = l.v.MergeInConfig()

	if l.prefix != "" {
		l.v.SetEnvPrefix(l.prefix)
	}
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.v.Unmarshal(target); err != nil {
		return fmt.Errorf("unable to decode config: %w", err)
	}
	return nil
}

// LoadConfig loads and validates configuration with standard defaults.
func LoadConfig(cfgFile string) (*Config, error) {
	loader := NewLoader("EDGESYNC")
	loader.SetConfigDefaults()

	cfg := &Config{}
	if err := loader.Load(cfgFile, cfg); err != nil {
		return nil, err
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ValidateConfig validates the loaded configuration.
func ValidateConfig(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Redis.URL == "" {
		return fmt.Errorf("redis url is required")
	}
	if cfg.Refresh.Weekday < 0 || cfg.Refresh.Weekday > 6 {
		return fmt.Errorf("invalid refresh weekday: %d", cfg.Refresh.Weekday)
	}
	if cfg.Refresh.Hour < 0 || cfg.Refresh.Hour > 23 {
		return fmt.Errorf("invalid refresh hour: %d", cfg.Refresh.Hour)
	}
	if cfg.Security.JWTSecret == "" && cfg.Service.Environment == "production" {
		return fmt.Errorf("jwt secret is required in production")
	}
	return nil
}
