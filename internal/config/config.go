// Package config loads and validates the alert engine configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the PHS_ prefix (e.g., PHS_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// Channel credentials (Slack webhook URL, PagerDuty routing key, SMTP password,
// generic webhook signing secret) are deliberately optional: a rule that names a
// channel whose credential is absent simply skips that channel at dispatch time.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the optional Redis connection used for distributed API
// rate limiting. When Addr is empty the service falls back to the in-process
// token-bucket limiter, so single-instance deployments need no Redis at all.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EngineConfig holds rule evaluation settings.
type EngineConfig struct {
	// DefaultWindowMinutes is the lookback window applied when a rule does
	// not specify time_window_minutes (threshold and immediate rules alike).
	DefaultWindowMinutes int `mapstructure:"default_window_minutes"`
	// RecencyWindow bounds the "new since last tick" dedup filter for
	// immediate-trigger rules.
	RecencyWindow time.Duration `mapstructure:"recency_window"`
	// Timezone is the IANA zone name used by the after-hours predicate.
	Timezone string `mapstructure:"timezone"`
	// AfterHoursStartHour / AfterHoursEndHour bound the business day: hours
	// at/after StartHour or before EndHour count as after-hours.
	AfterHoursStartHour int `mapstructure:"after_hours_start_hour"`
	AfterHoursEndHour   int `mapstructure:"after_hours_end_hour"`
	// QueryTimeout bounds each audit-store read issued during a tick.
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	// DispatchTimeout bounds each individual channel send.
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	// RulesFile optionally points at a YAML rule catalog that overrides the
	// database rule store. Changes are picked up between ticks.
	RulesFile string `mapstructure:"rules_file"`
	// TickInterval, when non-zero, starts the internal tick runner. Zero
	// (the default) leaves evaluation entirely to external triggers.
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// ChannelsConfig holds outbound notification channel credentials.
type ChannelsConfig struct {
	Slack     SlackConfig     `mapstructure:"slack"`
	PagerDuty PagerDutyConfig `mapstructure:"pagerduty"`
	Email     EmailConfig     `mapstructure:"email"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
}

// SlackConfig holds Slack incoming-webhook settings.
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
	Username   string `mapstructure:"username"`
}

// PagerDutyConfig holds PagerDuty Events API v2 settings.
type PagerDutyConfig struct {
	RoutingKey string `mapstructure:"routing_key"`
	// APIURL overrides the Events API endpoint (tests, EU region).
	APIURL string `mapstructure:"api_url"`
}

// EmailConfig holds SMTP settings for the security officer channel. An empty
// OfficerEmail makes the email channel a no-op rather than an error.
type EmailConfig struct {
	OfficerEmail string     `mapstructure:"officer_email"`
	SMTP         SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig holds outbound mail server configuration
type SMTPConfig struct {
	// Host is the SMTP server hostname (e.g. smtp.sendgrid.net)
	Host string `mapstructure:"host"`
	// Port is the SMTP server port (587 for STARTTLS, 465 for SMTPS, 25 for plain)
	Port int `mapstructure:"port"`
	// Username for SMTP authentication
	Username string `mapstructure:"username"`
	// Password for SMTP authentication
	Password string `mapstructure:"password"`
	// From is the sender address shown in alert emails
	From string `mapstructure:"from"`
	// UseTLS enables STARTTLS (port 587) or implicit TLS (port 465); false = plain SMTP
	UseTLS bool `mapstructure:"use_tls"`
}

// WebhookConfig holds the generic security-alert webhook settings.
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	// SigningSecret, when set, adds an X-Sentinel-Signature HMAC-SHA256
	// header over the request body.
	SigningSecret string `mapstructure:"signing_secret"`
}

// AuthConfig holds API authentication configuration. Both mechanisms are
// optional; when neither is configured the check/configure actions are open
// (suitable only for network-isolated deployments, and logged as a warning).
type AuthConfig struct {
	// APITokenHash is the bcrypt hash of the static operator token.
	APITokenHash string `mapstructure:"api_token_hash"`
	// JWTEnabled accepts HS256 service tokens signed with PHS_JWT_SECRET.
	JWTEnabled bool `mapstructure:"jwt_enabled"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool            `mapstructure:"enabled"`
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",

		// Engine
		"engine.default_window_minutes",
		"engine.recency_window",
		"engine.timezone",
		"engine.after_hours_start_hour",
		"engine.after_hours_end_hour",
		"engine.query_timeout",
		"engine.dispatch_timeout",
		"engine.rules_file",
		"engine.tick_interval",

		// Channels
		"channels.slack.webhook_url",
		"channels.slack.channel",
		"channels.slack.username",
		"channels.pagerduty.routing_key",
		"channels.pagerduty.api_url",
		"channels.email.officer_email",
		"channels.email.smtp.host",
		"channels.email.smtp.port",
		"channels.email.smtp.username",
		"channels.email.smtp.password",
		"channels.email.smtp.from",
		"channels.email.smtp.use_tls",
		"channels.webhook.url",
		"channels.webhook.signing_secret",

		// Auth
		"auth.api_token_hash",
		"auth.jwt_enabled",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/phi-sentinel")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("PHS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Channels.Slack.WebhookURL = expandEnv(cfg.Channels.Slack.WebhookURL)
	cfg.Channels.PagerDuty.RoutingKey = expandEnv(cfg.Channels.PagerDuty.RoutingKey)
	cfg.Channels.Email.SMTP.Password = expandEnv(cfg.Channels.Email.SMTP.Password)
	cfg.Channels.Webhook.SigningSecret = expandEnv(cfg.Channels.Webhook.SigningSecret)
	cfg.Auth.APITokenHash = expandEnv(cfg.Auth.APITokenHash)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "phi_sentinel")
	v.SetDefault("database.user", "sentinel")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Engine defaults
	v.SetDefault("engine.default_window_minutes", 60)
	v.SetDefault("engine.recency_window", "60s")
	v.SetDefault("engine.timezone", "UTC")
	v.SetDefault("engine.after_hours_start_hour", 23)
	v.SetDefault("engine.after_hours_end_hour", 13)
	v.SetDefault("engine.query_timeout", "5s")
	v.SetDefault("engine.dispatch_timeout", "5s")
	v.SetDefault("engine.tick_interval", "0s")

	// Channel defaults
	v.SetDefault("channels.slack.username", "phi-sentinel")
	v.SetDefault("channels.pagerduty.api_url", "https://events.pagerduty.com/v2/enqueue")
	v.SetDefault("channels.email.smtp.port", 587)
	v.SetDefault("channels.email.smtp.use_tls", true)

	// Auth defaults
	v.SetDefault("auth.jwt_enabled", false)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "phi-sentinel")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// Validate engine windows
	if c.Engine.DefaultWindowMinutes <= 0 {
		return fmt.Errorf("engine.default_window_minutes must be positive, got %d", c.Engine.DefaultWindowMinutes)
	}
	if c.Engine.RecencyWindow <= 0 {
		return fmt.Errorf("engine.recency_window must be positive, got %v", c.Engine.RecencyWindow)
	}
	if c.Engine.AfterHoursStartHour < 0 || c.Engine.AfterHoursStartHour > 23 {
		return fmt.Errorf("engine.after_hours_start_hour must be 0-23, got %d", c.Engine.AfterHoursStartHour)
	}
	if c.Engine.AfterHoursEndHour < 0 || c.Engine.AfterHoursEndHour > 23 {
		return fmt.Errorf("engine.after_hours_end_hour must be 0-23, got %d", c.Engine.AfterHoursEndHour)
	}
	if c.Engine.QueryTimeout <= 0 {
		return fmt.Errorf("engine.query_timeout must be positive, got %v", c.Engine.QueryTimeout)
	}
	if c.Engine.DispatchTimeout <= 0 {
		return fmt.Errorf("engine.dispatch_timeout must be positive, got %v", c.Engine.DispatchTimeout)
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
