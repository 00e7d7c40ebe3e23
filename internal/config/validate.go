package config

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"regexp"
	"strings"

	"querycanvas/internal/naming"
	"querycanvas/internal/schemafilter"
	"querycanvas/internal/sqlutil"
)

// ValidationError is a fatal configuration problem tied to a config key.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning is a configuration smell that does not stop startup.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult collects everything Validate found.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors reports whether startup must be refused.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error joins every error message, or returns "" when there are none.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) fail(field, hint, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Hint: hint})
}

func (r *ValidationResult) warn(field, hint, message string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// oneOf fails field unless value is one of allowed. The empty string is
// accepted when allowEmpty is set.
func (r *ValidationResult) oneOf(field, what, value string, allowEmpty bool, allowed ...string) {
	if value == "" && allowEmpty {
		return
	}
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	r.fail(field, "valid values are: "+strings.Join(allowed, ", "), "invalid %s %q", what, value)
}

func (r *ValidationResult) nonNegative(field string, value int64, name string) {
	if value < 0 {
		r.fail(field, "", "%s cannot be negative", name)
	}
}

// Validate checks every section of the configuration.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Database.validate(result)
	c.Server.validate(result)
	c.Preview.validate(result)
	c.Observability.validate(result)
	validateSchemaFilters(result, c.SchemaFilters)
	validateNamingConfig(result, c.Naming)

	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	dialect, err := d.Dialect()
	if err != nil {
		result.fail("database.driver", "valid values are: mysql, postgres, sqlite", "%s", err.Error())
		return
	}
	dsn := strings.TrimSpace(d.ConnectionString)
	database := strings.TrimSpace(d.Database)

	switch dialect {
	case sqlutil.SQLite:
		if dsn == "" && database == "" {
			result.fail("database.database", "set database.database to a file path or database.dsn to a sqlite URI",
				"sqlite requires a database file path")
		}
		if d.TLS.Mode != "" && d.TLS.Mode != "off" {
			result.warn("database.tls.mode", "", "TLS settings are ignored for sqlite")
		}
	default:
		if dsn == "" {
			if d.Port < 0 || d.Port > 65535 {
				result.fail("database.port", "", "port %d is out of valid range (1-65535)", d.Port)
			}
			if database == "" {
				result.fail("database.database", "set database.database or provide a full database.dsn",
					"no database name configured")
			}
		} else if dialect == sqlutil.MySQL {
			if _, err := d.DSN(); err != nil {
				result.fail("database.dsn", "use the go-sql-driver/mysql DSN format user:pass@tcp(host:port)/db", "%s", err.Error())
			}
		}
		d.TLS.validate(result)
	}

	result.nonNegative("database.pool.max_open", int64(d.Pool.MaxOpen), "max_open")
	result.nonNegative("database.pool.max_idle", int64(d.Pool.MaxIdle), "max_idle")
	if d.Pool.MaxOpen > 0 && d.Pool.MaxIdle > d.Pool.MaxOpen {
		result.warn("database.pool.max_idle", "idle connections will be limited to max_open",
			"max_idle is greater than max_open")
	}

	result.nonNegative("database.connection_timeout", int64(d.ConnectionTimeout), "connection_timeout")
	result.nonNegative("database.connection_retry_interval", int64(d.ConnectionRetryInterval), "connection_retry_interval")
	if d.ConnectionTimeout > 0 {
		switch {
		case d.ConnectionRetryInterval == 0:
			result.fail("database.connection_retry_interval",
				"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries",
				"connection_retry_interval must be greater than 0 when connection_timeout is set")
		case d.ConnectionRetryInterval > d.ConnectionTimeout:
			result.warn("database.connection_retry_interval", "only one connection attempt will be made",
				"connection_retry_interval is greater than connection_timeout")
		}
	}
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	result.oneOf("database.tls.mode", "TLS mode", t.Mode, true, "off", "skip-verify", "verify-ca", "verify-full")

	switch t.Mode {
	case "verify-ca", "verify-full":
		if t.CAFile == "" {
			result.fail("database.tls.ca_file", "set ca_file to specify the CA certificate",
				"CA file is required for verify-ca and verify-full modes")
		}
	case "skip-verify":
		result.warn("database.tls.mode", "use verify-ca or verify-full in production",
			"skip-verify mode does not verify server certificates")
	}

	if (t.CertFile == "") != (t.KeyFile == "") {
		result.fail("database.tls.cert_file", "provide both cert_file and key_file, or neither",
			"both cert_file and key_file must be specified for client certificate authentication")
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.fail("server.port", "", "port %d is out of valid range (1-65535)", s.Port)
	}

	if s.RateLimit.Enabled {
		if s.RateLimit.RPS <= 0 {
			result.fail("server.rate_limit_rps", "", "rate_limit_rps must be greater than 0 when rate limiting is enabled")
		}
		if s.RateLimit.Burst <= 0 {
			result.fail("server.rate_limit_burst", "", "rate_limit_burst must be greater than 0 when rate limiting is enabled")
		}
	} else if s.RateLimit.RPS > 0 || s.RateLimit.Burst > 0 {
		result.warn("server.rate_limit_enabled", "enable server.rate_limit_enabled to apply rate limits",
			"rate limit values are set but rate limiting is disabled")
	}

	if s.SchemaRefreshEnabled && s.SchemaRefreshMinInterval > s.SchemaRefreshMaxInterval {
		result.fail("server.schema_refresh_min_interval", "",
			"schema_refresh_min_interval cannot exceed schema_refresh_max_interval")
	}

	s.validateCORS(result)
	s.validateAuth(result)

	result.oneOf("server.tls_mode", "TLS mode", s.TLSMode, true, "off", "file")
	if s.TLSMode == "file" {
		if s.TLSCertFile == "" {
			result.fail("server.tls_cert_file", "", "TLS cert file required when tls_mode is 'file'")
		}
		if s.TLSKeyFile == "" {
			result.fail("server.tls_key_file", "", "TLS key file required when tls_mode is 'file'")
		}
	}
}

func (s *ServerConfig) validateCORS(result *ValidationResult) {
	if !s.CORS.Enabled {
		return
	}
	const field = "server.cors_allowed_origins"
	if len(s.CORS.AllowedOrigins) == 0 {
		result.fail(field, "set cors_allowed_origins or disable CORS", "CORS enabled but no allowed origins configured")
		return
	}

	wildcard := false
	plainHTTPOnly := true
	for _, origin := range s.CORS.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		switch {
		case origin == "*":
			wildcard = true
		case strings.Contains(origin, "*") && (!strings.HasSuffix(origin, ":*") || strings.Count(origin, "*") > 1):
			result.fail(field, `use "*" alone or a port wildcard such as http://localhost:*`,
				"unsupported wildcard in origin %q", origin)
		}
		if !strings.HasPrefix(origin, "http://") {
			plainHTTPOnly = false
		}
	}

	if wildcard {
		if s.CORS.AllowCredentials {
			result.fail(field, "use specific origins with credentials, or wildcard without credentials",
				"wildcard origin (*) cannot be used with credentials")
		}
		result.warn(field, "use specific origins in production for better security", "CORS wildcard origin enabled")
	}
	if plainHTTPOnly && s.TLSMode == "file" {
		result.warn(field, "use https:// origins when serving over TLS",
			"CORS allowed origins are http:// only while TLS is enabled")
	}
}

func (s *ServerConfig) validateAuth(result *ValidationResult) {
	if s.Auth.OIDCEnabled {
		if s.Auth.OIDCIssuerURL == "" {
			result.fail("server.auth.oidc_issuer_url", "", "issuer URL is required when OIDC is enabled")
		}
		if s.Auth.OIDCAudience == "" {
			result.fail("server.auth.oidc_audience", "", "audience is required when OIDC is enabled")
		}
	}

	if s.Admin.SchemaReloadEnabled && !s.Auth.OIDCEnabled && strings.TrimSpace(s.Admin.AuthToken) == "" {
		result.fail("server.admin.auth_token", "enable server.auth.oidc_enabled or set server.admin.auth_token",
			"schema reload endpoint requires OIDC or an admin auth token")
	}
}

func (p *PreviewConfig) validate(result *ValidationResult) {
	result.nonNegative("preview.max_rows", int64(p.MaxRows), "max_rows")
	result.nonNegative("preview.default_page_size", int64(p.DefaultPageSize), "default_page_size")
	result.nonNegative("preview.max_page_size", int64(p.MaxPageSize), "max_page_size")
	result.nonNegative("preview.statement_timeout", int64(p.StatementTimeout), "statement_timeout")
	if p.MaxPageSize > 0 && p.DefaultPageSize > p.MaxPageSize {
		result.fail("preview.default_page_size", "", "default_page_size %d exceeds max_page_size %d", p.DefaultPageSize, p.MaxPageSize)
	}

	if !p.Enabled {
		return
	}
	if !p.ReadOnly {
		result.warn("preview.read_only", "connect with a user that only has SELECT privileges",
			"previews run outside a read-only transaction")
	}
	if p.StatementTimeout == 0 {
		result.warn("preview.statement_timeout", "set preview.statement_timeout such as 30s",
			"previews run without a statement timeout")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	result.oneOf("observability.logging.level", "log level", o.Logging.Level, false, "debug", "info", "warn", "error")
	result.oneOf("observability.logging.format", "log format", o.Logging.Format, false, "json", "text")

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.fail("observability.trace_sample_ratio", "", "trace_sample_ratio %v must be between 0.0 and 1.0", o.TraceSampleRatio)
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	result.oneOf(prefix+".protocol", "OTLP protocol", o.Protocol, true, "grpc", "http/protobuf")
	result.oneOf(prefix+".compression", "OTLP compression", o.Compression, true, "none", "gzip")
	result.nonNegative(prefix+".retry_max_attempts", int64(o.RetryMaxAttempts), "retry_max_attempts")

	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.fail(prefix+".endpoint", "use host:port or a full URL", "invalid OTLP endpoint %q for http/protobuf", o.Endpoint)
	}
}

// validOTLPEndpoint accepts host:port or an absolute URL with a host.
func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		return err == nil && parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}

func validateSchemaFilters(result *ValidationResult, filters schemafilter.Config) {
	validateGlobList(result, "schema_filters.allow_tables", filters.AllowTables)
	validateGlobList(result, "schema_filters.deny_tables", filters.DenyTables)
	validatePatternMap(result, "schema_filters.allow_columns", filters.AllowColumns)
	validatePatternMap(result, "schema_filters.deny_columns", filters.DenyColumns)
}

// checkGlob reports an empty or malformed pattern. Patterns are matched
// lowercased at runtime, so they are checked that way too.
func checkGlob(result *ValidationResult, field, kind, pattern string) bool {
	if strings.TrimSpace(pattern) == "" {
		result.fail(field, "", "%s cannot be empty", kind)
		return false
	}
	if _, err := path.Match(strings.ToLower(pattern), "probe"); err != nil {
		result.fail(field, "", "invalid %s %q: %v", kind, pattern, err)
		return false
	}
	return true
}

func validateGlobList(result *ValidationResult, field string, patterns []string) {
	for _, pattern := range patterns {
		checkGlob(result, field, "glob pattern", pattern)
	}
}

func validatePatternMap(result *ValidationResult, field string, patternMap map[string][]string) {
	for tablePattern, columnPatterns := range patternMap {
		if !checkGlob(result, field, "table pattern", tablePattern) {
			continue
		}
		for _, columnPattern := range columnPatterns {
			checkGlob(result, field, fmt.Sprintf("column pattern for %q", tablePattern), columnPattern)
		}
	}
}

var lowerWordPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func validateNamingConfig(result *ValidationResult, cfg naming.Config) {
	validateWordOverrides(result, "naming.plural_overrides", cfg.PluralOverrides)
	validateWordOverrides(result, "naming.singular_overrides", cfg.SingularOverrides)
}

// validateWordOverrides requires lowercase keys since lookups lowercase the
// word being inflected.
func validateWordOverrides(result *ValidationResult, field string, overrides map[string]string) {
	for from, to := range overrides {
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		switch {
		case from == "" || to == "":
			result.fail(field, "", "override words cannot be empty")
		case !lowerWordPattern.MatchString(from) || !lowerWordPattern.MatchString(to):
			result.fail(field, "", "override %q -> %q must use lowercase snake_case words", from, to)
		}
	}
}
