// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	StatusLog     StatusLogConfig     `yaml:"status_log"`
	Reference     ReferenceConfig     `yaml:"reference"`
	Progression   ProgressionConfig   `yaml:"progression"`
	Notify        NotifyConfig        `yaml:"notify"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"DRILL_SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"DRILL_CORS_ALLOWED_ORIGINS" envSeparator:","`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes how bearer tokens are verified. Exactly one of
// JWKSURL and HMACSecretEnv must be set.
type IdentityConfig struct {
	Issuer        string        `yaml:"issuer" env:"DRILL_IDENTITY_ISSUER"`
	Audience      string        `yaml:"audience" env:"DRILL_IDENTITY_AUDIENCE"`
	JWKSURL       string        `yaml:"jwks_url" env:"DRILL_IDENTITY_JWKS_URL"`
	JWKSCacheTTL  time.Duration `yaml:"jwks_cache_ttl"`
	HMACSecretEnv string        `yaml:"hmac_secret_env"`
	Algorithms    []string      `yaml:"algorithms"`
}

// StatusLogConfig describes status log persistence.
type StatusLogConfig struct {
	// Driver is one of memory, sqlite or postgres.
	Driver   string `yaml:"driver" env:"DRILL_STATUS_LOG_DRIVER"`
	Path     string `yaml:"path" env:"DRILL_STATUS_LOG_PATH"`
	DSNEnv   string `yaml:"dsn_env"`
	MaxConns int32  `yaml:"max_conns"`
}

// ReferenceConfig describes where to find reference table YAML files.
type ReferenceConfig struct {
	Directories []string `yaml:"directories" env:"DRILL_REFERENCE_DIRECTORIES" envSeparator:","`
}

// ProgressionConfig describes engine settings.
type ProgressionConfig struct {
	DiscoveryDuration   time.Duration `yaml:"discovery_duration" env:"DRILL_DISCOVERY_DURATION"`
	ExpiryCheckInterval time.Duration `yaml:"expiry_check_interval" env:"DRILL_EXPIRY_CHECK_INTERVAL"`
}

// NotifyConfig describes the live-update publisher.
type NotifyConfig struct {
	// Driver is one of none, memory or redis.
	Driver  string        `yaml:"driver" env:"DRILL_NOTIFY_DRIVER"`
	AddrEnv string        `yaml:"addr_env"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`

	// Publishing stops after BreakerFailures consecutive failures and
	// resumes with a trial publish once BreakerCooldown has passed.
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level" env:"DRILL_LOG_LEVEL"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" env:"DRILL_TRACING_ENABLED"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint" env:"DRILL_TRACING_ENDPOINT"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
		},
		StatusLog: StatusLogConfig{
			Driver:   "memory",
			DSNEnv:   "DRILL_DATABASE_URL",
			MaxConns: 25,
		},
		Reference: ReferenceConfig{
			Directories: []string{"/reference"},
		},
		Progression: ProgressionConfig{
			DiscoveryDuration:   30 * time.Minute,
			ExpiryCheckInterval: 30 * time.Second,
		},
		Notify: NotifyConfig{
			Driver:          "none",
			AddrEnv:         "DRILL_REDIS_ADDR",
			TTL:             10 * time.Minute,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies DRILL_* environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}
	if (c.Identity.JWKSURL == "") == (c.Identity.HMACSecretEnv == "") {
		errs = append(errs, "exactly one of identity.jwks_url and identity.hmac_secret_env is required")
	}

	switch c.StatusLog.Driver {
	case "memory":
	case "sqlite":
		if c.StatusLog.Path == "" {
			errs = append(errs, "status_log.path is required for the sqlite driver")
		}
	case "postgres":
		if c.StatusLog.DSNEnv == "" {
			errs = append(errs, "status_log.dsn_env is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("status_log.driver %q is not one of memory, sqlite, postgres", c.StatusLog.Driver))
	}

	if len(c.Reference.Directories) == 0 {
		errs = append(errs, "reference.directories must not be empty")
	}
	if c.Progression.DiscoveryDuration <= 0 {
		errs = append(errs, "progression.discovery_duration must be positive")
	}

	switch c.Notify.Driver {
	case "none", "memory":
	case "redis":
		if c.Notify.AddrEnv == "" {
			errs = append(errs, "notify.addr_env is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.driver %q is not one of none, memory, redis", c.Notify.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
