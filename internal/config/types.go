package config

import (
	"maps"
	"time"

	"querycanvas/internal/naming"
	"querycanvas/internal/schemafilter"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Server        ServerConfig        `mapstructure:"server"`
	Preview       PreviewConfig       `mapstructure:"preview"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	SchemaFilters schemafilter.Config `mapstructure:"schema_filters"`
	Naming        naming.Config       `mapstructure:"naming"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig holds TLS settings for mysql and postgres connections.
type DatabaseTLSConfig struct {
	// Mode is one of off, skip-verify, verify-ca, verify-full.
	Mode string `mapstructure:"mode"`
	// CAFile is required for verify-ca and verify-full.
	CAFile   string `mapstructure:"ca_file"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	// ServerName overrides the host name used for verification.
	ServerName string `mapstructure:"server_name"`
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	// Driver selects the engine: mysql, postgres or sqlite.
	Driver string `mapstructure:"driver"`

	// ConnectionString is a complete driver DSN. It overrides the discrete fields.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile is a path to a file containing the DSN. "@-" reads stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	// Database is the schema name, or the file path for sqlite.
	Database string `mapstructure:"database"`

	TLS  DatabaseTLSConfig `mapstructure:"tls"`
	Pool PoolConfig        `mapstructure:"pool"`

	// ConnectionTimeout is the max time to wait for the database on startup.
	ConnectionTimeout       time.Duration `mapstructure:"connection_timeout"`
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// AuthConfig holds OIDC bearer token settings.
type AuthConfig struct {
	OIDCEnabled   bool          `mapstructure:"oidc_enabled"`
	OIDCIssuerURL string        `mapstructure:"oidc_issuer_url"`
	OIDCAudience  string        `mapstructure:"oidc_audience"`
	OIDCClockSkew time.Duration `mapstructure:"oidc_clock_skew"`
	OIDCCAFile    string        `mapstructure:"oidc_ca_file"`
}

// AdminConfig controls administrative endpoint exposure and authentication.
type AdminConfig struct {
	SchemaReloadEnabled bool   `mapstructure:"schema_reload_enabled"`
	AuthToken           string `mapstructure:"auth_token"`
	AuthTokenFile       string `mapstructure:"auth_token_file"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port                     int           `mapstructure:"port"`
	GraphiQLEnabled          bool          `mapstructure:"graphiql_enabled"`
	SchemaRefreshEnabled     bool          `mapstructure:"schema_refresh_enabled"`
	SchemaRefreshMinInterval time.Duration `mapstructure:"schema_refresh_min_interval"`
	SchemaRefreshMaxInterval time.Duration `mapstructure:"schema_refresh_max_interval"`
	ReadTimeout              time.Duration `mapstructure:"read_timeout"`
	WriteTimeout             time.Duration `mapstructure:"write_timeout"`
	IdleTimeout              time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout          time.Duration `mapstructure:"shutdown_timeout"`
	HealthCheckTimeout       time.Duration `mapstructure:"health_check_timeout"`

	Auth  AuthConfig  `mapstructure:"auth"`
	Admin AdminConfig `mapstructure:"admin"`

	// The rate limit and CORS keys stay flat under server.
	RateLimit RateLimitConfig `mapstructure:",squash"`
	CORS      CORSConfig      `mapstructure:",squash"`

	// TLSMode is off or file.
	TLSMode     string `mapstructure:"tls_mode"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`
}

// RateLimitConfig throttles API requests with a token bucket.
type RateLimitConfig struct {
	Enabled   bool    `mapstructure:"rate_limit_enabled"`
	RPS       float64 `mapstructure:"rate_limit_rps"`
	Burst     int     `mapstructure:"rate_limit_burst"`
	PerClient bool    `mapstructure:"rate_limit_per_client"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"cors_enabled"`
	AllowedOrigins   []string `mapstructure:"cors_allowed_origins"`
	AllowedMethods   []string `mapstructure:"cors_allowed_methods"`
	AllowedHeaders   []string `mapstructure:"cors_allowed_headers"`
	ExposeHeaders    []string `mapstructure:"cors_expose_headers"`
	AllowCredentials bool     `mapstructure:"cors_allow_credentials"`
	MaxAge           int      `mapstructure:"cors_max_age"`
}

// PreviewConfig bounds how generated SQL is executed for previews.
type PreviewConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// ReadOnly runs every preview in a read-only transaction on its own
	// connection. When false the timeout is enforced through the context only.
	ReadOnly bool `mapstructure:"read_only"`
	// MaxRows caps unpaginated results.
	MaxRows int `mapstructure:"max_rows"`
	// DefaultPageSize applies when a request does not specify one. Zero disables paging.
	DefaultPageSize  int           `mapstructure:"default_page_size"`
	MaxPageSize      int           `mapstructure:"max_page_size"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName         string        `mapstructure:"service_name"`
	ServiceVersion      string        `mapstructure:"service_version"`
	Environment         string        `mapstructure:"environment"`
	MetricsEnabled      bool          `mapstructure:"metrics_enabled"`
	TracingEnabled      bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio    float64       `mapstructure:"trace_sample_ratio"`
	SQLCommenterEnabled bool          `mapstructure:"sqlcommenter_enabled"`
	Logging             LoggingConfig `mapstructure:"logging"`

	// OTLP holds defaults for every signal.
	OTLP OTLPConfig `mapstructure:"otlp"`

	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the trace exporter settings layered over the
// shared OTLP defaults.
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	return c.OTLP.overlay(c.Traces)
}

// GetLogsConfig returns the log exporter settings layered over the shared
// OTLP defaults.
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	return c.OTLP.overlay(c.Logs)
}

// overlay returns c with every non-zero field of signal applied. Insecure
// always comes from signal since false cannot be told apart from unset.
// Headers merge key by key.
func (c OTLPConfig) overlay(signal *OTLPConfig) OTLPConfig {
	if signal == nil {
		return c
	}
	out := c
	out.Endpoint = orDefault(signal.Endpoint, c.Endpoint)
	out.Protocol = orDefault(signal.Protocol, c.Protocol)
	out.Insecure = signal.Insecure
	out.TLSCertFile = orDefault(signal.TLSCertFile, c.TLSCertFile)
	out.TLSClientCertFile = orDefault(signal.TLSClientCertFile, c.TLSClientCertFile)
	out.TLSClientKeyFile = orDefault(signal.TLSClientKeyFile, c.TLSClientKeyFile)
	out.Timeout = orDefault(signal.Timeout, c.Timeout)
	out.Compression = orDefault(signal.Compression, c.Compression)
	if signal.RetryMaxAttempts != 0 {
		out.RetryEnabled = signal.RetryEnabled
		out.RetryMaxAttempts = signal.RetryMaxAttempts
	}
	if signal.Headers != nil {
		out.Headers = make(map[string]string, len(c.Headers)+len(signal.Headers))
		maps.Copy(out.Headers, c.Headers)
		maps.Copy(out.Headers, signal.Headers)
	}
	return out
}

func orDefault[T comparable](value, fallback T) T {
	var zero T
	if value == zero {
		return fallback
	}
	return value
}
