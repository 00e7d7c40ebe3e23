package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// setting is one configuration key. Its default also fixes the flag type.
// A setting without usage text has no flag; a flagOnly setting has no
// default, so the section it belongs to stays unset unless asked for.
type setting struct {
	key      string
	def      any
	usage    string
	flagOnly bool
}

var settings = []setting{
	{key: "database.driver", def: "mysql", usage: "Database driver (mysql, postgres, sqlite)"},
	{key: "database.dsn", def: "", usage: "Complete driver DSN"},
	{key: "database.dsn_file", def: "", usage: "Path to file containing database DSN (use @- for stdin)"},
	{key: "database.host", def: "localhost", usage: "Database host"},
	{key: "database.port", def: 0, usage: "Database port (0 picks the driver default)"},
	{key: "database.user", def: "", usage: "Database user"},
	{key: "database.password", def: "", usage: "Database password"},
	{key: "database.password_file", def: "", usage: "Path to file containing database password (use @- for stdin)"},
	{key: "database.password_prompt", def: false, usage: "Prompt for the database password on the terminal"},
	{key: "database.database", def: "", usage: "Database name, or file path for sqlite"},
	{key: "database.tls.mode", def: "", usage: "TLS mode (off, skip-verify, verify-ca, verify-full)"},
	{key: "database.tls.ca_file", def: "", usage: "CA certificate used to verify the server"},
	{key: "database.tls.cert_file", def: "", usage: "Client certificate for mTLS"},
	{key: "database.tls.key_file", def: "", usage: "Client private key for mTLS"},
	{key: "database.tls.server_name", def: "", usage: "Server name expected in the certificate"},
	{key: "database.pool.max_open", def: 10, usage: "Maximum open database connections"},
	{key: "database.pool.max_idle", def: 5, usage: "Maximum idle connections in pool"},
	{key: "database.pool.max_lifetime", def: 5 * time.Minute, usage: "Connection max lifetime"},
	{key: "database.connection_timeout", def: 30 * time.Second, usage: "How long to wait for the database on startup (0 = ping once)"},
	{key: "database.connection_retry_interval", def: 2 * time.Second, usage: "First pause between connection attempts"},

	{key: "server.port", def: 8080, usage: "HTTP server port"},
	{key: "server.graphiql_enabled", def: false, usage: "Serve GraphiQL on GET /graphql"},
	{key: "server.schema_refresh_enabled", def: true, usage: "Poll the database for schema changes"},
	{key: "server.schema_refresh_min_interval", def: 30 * time.Second, usage: "Poll interval after a change"},
	{key: "server.schema_refresh_max_interval", def: 5 * time.Minute, usage: "Longest poll interval while nothing changes"},
	{key: "server.auth.oidc_enabled", def: false, usage: "Require OIDC bearer tokens"},
	{key: "server.auth.oidc_issuer_url", def: "", usage: "OIDC issuer URL used for discovery"},
	{key: "server.auth.oidc_audience", def: "", usage: "Expected token audience"},
	{key: "server.auth.oidc_clock_skew", def: 2 * time.Minute, usage: "Leeway for exp, nbf and iat"},
	{key: "server.auth.oidc_ca_file", def: "", usage: "CA bundle used to trust the OIDC issuer"},
	{key: "server.admin.schema_reload_enabled", def: false, usage: "Serve POST /admin/reload-schema"},
	{key: "server.admin.auth_token", def: "", usage: "Admin token accepted when OIDC is off"},
	{key: "server.admin.auth_token_file", def: "", usage: "Path to file containing the admin token (use @- for stdin)"},
	{key: "server.rate_limit_enabled", def: false, usage: "Rate limit every HTTP endpoint"},
	{key: "server.rate_limit_rps", def: 0.0, usage: "Requests per second"},
	{key: "server.rate_limit_burst", def: 0, usage: "Burst size"},
	{key: "server.rate_limit_per_client", def: false, usage: "Keep one bucket per client address"},
	{key: "server.cors_enabled", def: false, usage: "Answer CORS requests"},
	{key: "server.cors_allowed_origins", def: []string{}, usage: "Allowed origins (comma-separated or repeated)"},
	{key: "server.cors_allowed_methods", def: []string{"GET", "POST", "OPTIONS"}, usage: "Allowed methods"},
	{key: "server.cors_allowed_headers", def: []string{"Content-Type", "Authorization"}, usage: "Allowed request headers"},
	{key: "server.cors_expose_headers", def: []string{}, usage: "Response headers exposed to the browser"},
	{key: "server.cors_allow_credentials", def: false, usage: "Allow credentialed requests"},
	{key: "server.cors_max_age", def: 86400, usage: "Preflight cache duration in seconds"},
	{key: "server.read_timeout", def: 15 * time.Second, usage: "HTTP read timeout"},
	{key: "server.write_timeout", def: 60 * time.Second, usage: "HTTP write timeout"},
	{key: "server.idle_timeout", def: 60 * time.Second, usage: "HTTP idle timeout"},
	{key: "server.shutdown_timeout", def: 30 * time.Second, usage: "Graceful shutdown timeout"},
	{key: "server.health_check_timeout", def: 2 * time.Second, usage: "Database ping timeout for /health"},
	{key: "server.tls_mode", def: "off", usage: "TLS mode (off, file)"},
	{key: "server.tls_cert_file", def: "", usage: "TLS certificate for file mode"},
	{key: "server.tls_key_file", def: "", usage: "TLS private key for file mode"},

	{key: "preview.enabled", def: true, usage: "Allow generated SQL to be executed for previews"},
	{key: "preview.read_only", def: true, usage: "Run previews inside read-only transactions"},
	{key: "preview.max_rows", def: 1000, usage: "Row cap for an unpaginated preview"},
	{key: "preview.default_page_size", def: 100, usage: "Page size when a request gives none (0 = no paging)"},
	{key: "preview.max_page_size", def: 1000, usage: "Largest page size a request may ask for"},
	{key: "preview.statement_timeout", def: 30 * time.Second, usage: "Per-statement timeout for previews"},

	{key: "observability.service_name", def: "querycanvas", usage: "Service name on exported signals"},
	{key: "observability.service_version", def: "", usage: "Service version on exported signals"},
	{key: "observability.environment", def: "development", usage: "Deployment environment"},
	{key: "observability.metrics_enabled", def: true, usage: "Serve Prometheus metrics"},
	{key: "observability.tracing_enabled", def: false, usage: "Export traces over OTLP"},
	{key: "observability.trace_sample_ratio", def: 1.0, usage: "Trace sampling ratio from 0.0 to 1.0"},
	{key: "observability.sqlcommenter_enabled", def: false, usage: "Inject trace context into SQL comments"},
	{key: "observability.logging.level", def: "info", usage: "Log level (debug, info, warn, error)"},
	{key: "observability.logging.format", def: "json", usage: "Log format (json, text)"},
	{key: "observability.logging.exports_enabled", def: false, usage: "Export logs over OTLP"},
	{key: "observability.otlp.endpoint", def: "localhost:4317", usage: "OTLP endpoint for every signal"},
	{key: "observability.otlp.protocol", def: "grpc", usage: "OTLP protocol (grpc, http/protobuf)"},
	{key: "observability.otlp.insecure", def: false, usage: "Connect to the collector without TLS"},
	{key: "observability.otlp.tls_cert_file", def: "", usage: "CA certificate for the collector"},
	{key: "observability.otlp.tls_client_cert_file", def: "", usage: "Client certificate for mTLS"},
	{key: "observability.otlp.tls_client_key_file", def: "", usage: "Client key for mTLS"},
	{key: "observability.otlp.timeout", def: 10 * time.Second, usage: "OTLP export timeout"},
	{key: "observability.otlp.compression", def: "gzip", usage: "OTLP compression (none, gzip)"},
	{key: "observability.otlp.retry_enabled", def: true, usage: "Retry transient export failures"},
	{key: "observability.otlp.retry_max_attempts", def: 3, usage: "Export retry budget"},
	{key: "observability.traces.endpoint", def: "", usage: "OTLP endpoint for traces only", flagOnly: true},
	{key: "observability.traces.protocol", def: "", usage: "OTLP protocol for traces only", flagOnly: true},
	{key: "observability.traces.insecure", def: false, usage: "Send traces without TLS", flagOnly: true},
	{key: "observability.logs.endpoint", def: "", usage: "OTLP endpoint for logs only", flagOnly: true},
	{key: "observability.logs.protocol", def: "", usage: "OTLP protocol for logs only", flagOnly: true},
	{key: "observability.logs.insecure", def: false, usage: "Send logs without TLS", flagOnly: true},

	{key: "schema_filters.allow_tables", def: []string{}},
	{key: "schema_filters.deny_tables", def: []string{}},
	{key: "schema_filters.hide_views", def: false},
	{key: "schema_filters.allow_columns", def: map[string][]string{}},
	{key: "schema_filters.deny_columns", def: map[string][]string{}},

	{key: "naming.plural_overrides", def: map[string]string{}},
	{key: "naming.singular_overrides", def: map[string]string{}},
}

// setDefaults installs the lowest-precedence layer.
func setDefaults(v *viper.Viper) {
	for _, s := range settings {
		if !s.flagOnly {
			v.SetDefault(s.key, s.def)
		}
	}
}

// DefineFlags registers a flag named after each configuration key. It is
// safe to call more than once.
func DefineFlags(fs *pflag.FlagSet) {
	if fs.Lookup("database.driver") != nil {
		return
	}
	for _, s := range settings {
		if s.usage == "" {
			continue
		}
		switch def := s.def.(type) {
		case string:
			fs.String(s.key, def, s.usage)
		case int:
			fs.Int(s.key, def, s.usage)
		case bool:
			fs.Bool(s.key, def, s.usage)
		case float64:
			fs.Float64(s.key, def, s.usage)
		case time.Duration:
			fs.Duration(s.key, def, s.usage)
		case []string:
			fs.StringSlice(s.key, def, s.usage)
		default:
			panic(fmt.Sprintf("config: no flag type for %s (%T)", s.key, s.def))
		}
	}
	fs.StringP("config", "c", "", "Config file path")
}

// bindChangedFlags copies only the flags given on the command line into
// v, so an untouched flag never masks the environment or the config file.
func bindChangedFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		var (
			val any
			err error
		)
		switch f.Value.Type() {
		case "string":
			val, err = fs.GetString(f.Name)
		case "int":
			val, err = fs.GetInt(f.Name)
		case "bool":
			val, err = fs.GetBool(f.Name)
		case "float64":
			val, err = fs.GetFloat64(f.Name)
		case "duration":
			val, err = fs.GetDuration(f.Name)
		case "stringSlice":
			val, err = fs.GetStringSlice(f.Name)
		default:
			val = f.Value.String()
		}
		if err == nil && f.Name != "config" && f.Name != "version" {
			v.Set(f.Name, val)
		}
	})
}
