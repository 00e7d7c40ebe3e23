package serverapp

import (
	"context"
	"crypto/tls"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/graphql-go/handler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"querycanvas/internal/api"
	"querycanvas/internal/config"
	"querycanvas/internal/dbexec"
	"querycanvas/internal/logging"
	"querycanvas/internal/middleware"
	"querycanvas/internal/naming"
	"querycanvas/internal/observability"
	"querycanvas/internal/schemacache"
	"querycanvas/internal/sqlutil"
)

const (
	graphqlPath      = "/graphql"
	compilePath      = "/api/compile"
	healthPath       = "/health"
	metricsPath      = "/metrics"
	reloadSchemaPath = "/admin/reload-schema"

	schemaReloadTimeout = 15 * time.Second
)

func startSchemaManager(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, dialect sqlutil.Dialect, metrics *observability.SchemaRefreshMetrics) (*schemacache.Manager, context.CancelFunc, error) {
	loader, err := schemacache.NewLoader(schemacache.LoaderConfig{
		Queryer: db,
		Dialect: dialect,
		Filters: cfg.SchemaFilters,
	})
	if err != nil {
		return nil, nil, err
	}

	manager, err := schemacache.NewManager(ctx, schemacache.Config{
		Loader:      loader,
		Logger:      logger,
		Metrics:     metrics,
		MinInterval: cfg.Server.SchemaRefreshMinInterval,
		MaxInterval: cfg.Server.SchemaRefreshMaxInterval,
		Disabled:    !cfg.Server.SchemaRefreshEnabled,
	})
	if err != nil {
		return nil, nil, err
	}

	schemaCtx, schemaCancel := context.WithCancel(context.Background())
	manager.Start(schemaCtx)
	return manager, schemaCancel, nil
}

func buildService(cfg *config.Config, logger *logging.Logger, db *sql.DB, dialect sqlutil.Dialect, schema api.SchemaSource, metrics *observability.CompilerMetrics) (*api.Service, error) {
	var previewer *dbexec.Previewer
	if cfg.Preview.Enabled {
		var exec dbexec.QueryExecutor = dbexec.NewStandardExecutor(db, cfg.Preview.StatementTimeout)
		if cfg.Preview.ReadOnly {
			exec = dbexec.NewReadOnlyExecutor(dbexec.ReadOnlyExecutorConfig{
				DB:               db,
				Dialect:          dialect,
				StatementTimeout: cfg.Preview.StatementTimeout,
			})
		}
		previewer = dbexec.NewPreviewer(exec, cfg.Preview.MaxRows)
		logger.Info("query preview enabled",
			slog.Bool("read_only", cfg.Preview.ReadOnly),
			slog.Int("max_rows", cfg.Preview.MaxRows),
			slog.Int("default_page_size", cfg.Preview.DefaultPageSize),
			slog.Duration("statement_timeout", cfg.Preview.StatementTimeout),
		)
	}

	return api.New(api.Config{
		Schema:          schema,
		DB:              db,
		Dialect:         dialect,
		Previewer:       previewer,
		DefaultPageSize: cfg.Preview.DefaultPageSize,
		MaxPageSize:     cfg.Preview.MaxPageSize,
		Namer:           naming.New(cfg.Naming, logger.Logger),
		Metrics:         metrics,
	})
}

func oidcAuthConfig(cfg *config.Config) middleware.OIDCAuthConfig {
	return middleware.OIDCAuthConfig{
		Enabled:   cfg.Server.Auth.OIDCEnabled,
		IssuerURL: cfg.Server.Auth.OIDCIssuerURL,
		Audience:  cfg.Server.Auth.OIDCAudience,
		ClockSkew: cfg.Server.Auth.OIDCClockSkew,
		CAFile:    cfg.Server.Auth.OIDCCAFile,
	}
}

// withOIDC wraps next in bearer token validation when OIDC is enabled.
func withOIDC(cfg *config.Config, logger *logging.Logger, securityMetrics *observability.SecurityMetrics, next http.Handler) (http.Handler, error) {
	if !cfg.Server.Auth.OIDCEnabled {
		return next, nil
	}
	authMiddleware, err := middleware.OIDCAuthMiddleware(oidcAuthConfig(cfg), logger, securityMetrics)
	if err != nil {
		return nil, err
	}
	return authMiddleware(next), nil
}

// buildGraphQLHandler serves the canvas schema. The chain is:
//
//	request -> OIDC auth -> metrics -> graphql
func buildGraphQLHandler(cfg *config.Config, logger *logging.Logger, service *api.Service, graphqlMetrics *observability.GraphQLMetrics, securityMetrics *observability.SecurityMetrics) (http.Handler, error) {
	schema, err := api.BuildSchema(service)
	if err != nil {
		return nil, fmt.Errorf("failed to build GraphQL schema: %w", err)
	}

	var h http.Handler = handler.New(&handler.Config{
		Schema:   &schema,
		Pretty:   true,
		GraphiQL: cfg.Server.GraphiQLEnabled,
	})

	if graphqlMetrics != nil {
		h = middleware.GraphQLMetricsMiddleware(graphqlMetrics)(h)
		logger.Info("GraphQL metrics middleware enabled")
	}

	h, err = withOIDC(cfg, logger, securityMetrics, h)
	if err != nil {
		return nil, err
	}
	if cfg.Server.Auth.OIDCEnabled {
		logger.Info("OIDC auth middleware enabled")
	}
	return h, nil
}

// buildAdminHandler protects the schema reload endpoint with OIDC when it is
// enabled and with the shared admin token otherwise.
func buildAdminHandler(cfg *config.Config, logger *logging.Logger, manager *schemacache.Manager, securityMetrics *observability.SecurityMetrics) (http.Handler, error) {
	if !cfg.Server.Admin.SchemaReloadEnabled {
		return nil, nil
	}

	reload := http.HandlerFunc(schemaReloadHandler(manager))
	if cfg.Server.Auth.OIDCEnabled {
		logger.Info("admin endpoints require OIDC authentication")
		return withOIDC(cfg, logger, securityMetrics, reload)
	}

	tokenMiddleware, err := middleware.AdminTokenAuthMiddleware(middleware.AdminTokenAuthConfig{
		Token:   cfg.Server.Admin.AuthToken,
		Metrics: securityMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("schema reload endpoint requires OIDC or an admin auth token: %w", err)
	}
	logger.Info("admin endpoints require an admin token")
	return tokenMiddleware(reload), nil
}

func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, graphqlHandler, compileHandler, adminHandler http.Handler, meterProvider *observability.MeterProvider) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(graphqlPath, graphqlHandler)
	mux.Handle(compilePath, compileHandler)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, graphqlPath, http.StatusFound)
			return
		}
		http.NotFound(w, r)
	})

	mux.HandleFunc(healthPath, healthHandler(db, cfg.Server.HealthCheckTimeout))
	if adminHandler != nil {
		mux.Handle(reloadSchemaPath, adminHandler)
	}

	if meterProvider != nil {
		mux.Handle(metricsPath, promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", metricsPath))
	}

	return mux
}

// wrapHTTPHandler applies the outer middleware. From the outside in:
//
//	rate limit -> CORS -> otelhttp -> logging -> mux
func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, h http.Handler) http.Handler {
	h = middleware.LoggingMiddleware(logger, healthPath, metricsPath)(h)

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		h = otelhttp.NewHandler(h, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	// The config and middleware option structs share a field layout.
	if cors := cfg.Server.CORS; cors.Enabled {
		h = middleware.CORSMiddleware(middleware.CORSConfig(cors))(h)
	}
	if limit := cfg.Server.RateLimit; limit.Enabled {
		h = middleware.RateLimitMiddleware(middleware.RateLimitConfig(limit))(h)
	}

	return h
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}
	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}
	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case "/", graphqlPath, compilePath, healthPath, metricsPath, reloadSchemaPath:
		return rawPath
	default:
		return "/*"
	}
}

func tlsEnabled(cfg *config.Config) bool {
	return cfg.Server.TLSMode == "file"
}

func buildServer(cfg *config.Config, h http.Handler, serverAddr string) *http.Server {
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if tlsEnabled(cfg) {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return srv
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, serverAddr string) chan error {
	serverErrors := make(chan error, 1)
	useTLS := tlsEnabled(cfg)
	go func() {
		protocol := "http"
		if useTLS {
			protocol = "https"
		}

		logAttrs := []any{
			slog.String("protocol", protocol),
			slog.String("address", serverAddr),
			slog.String("graphql_endpoint", graphqlPath),
			slog.String("compile_endpoint", compilePath),
			slog.String("health_endpoint", healthPath),
			slog.Bool("preview_enabled", cfg.Preview.Enabled),
			slog.String("log_level", cfg.Observability.Logging.Level),
		}
		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", metricsPath))
		}
		if cfg.Server.RateLimit.Enabled {
			logAttrs = append(logAttrs,
				slog.Float64("rate_limit_rps", cfg.Server.RateLimit.RPS),
				slog.Int("rate_limit_burst", cfg.Server.RateLimit.Burst),
				slog.Bool("rate_limit_per_client", cfg.Server.RateLimit.PerClient),
			)
		}
		logger.Info("server starting", logAttrs...)

		var err error
		if useTLS {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	return serverErrors
}

func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"failed"}`)
			return
		}

		reqLogger.Debug("health check passed")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"healthy","database":"ok"}`)
	}
}

type schemaRefresher interface {
	RefreshNow(ctx context.Context) (bool, error)
}

func schemaReloadHandler(manager schemaRefresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = fmt.Fprint(w, `{"error":"method not allowed"}`)
			return
		}

		authCtx, authenticated := middleware.AuthFromContext(r.Context())
		logAttrs := []any{
			slog.String("operation", "schema_reload"),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Bool("authenticated", authenticated),
		}
		if authenticated {
			logAttrs = append(logAttrs,
				slog.String("authenticated_user", authCtx.Subject),
				slog.String("issuer", authCtx.Issuer),
			)
		}
		reqLogger.Info("admin endpoint accessed", logAttrs...)

		refreshCtx, refreshCancel := context.WithTimeout(r.Context(), schemaReloadTimeout)
		defer refreshCancel()

		changed, err := manager.RefreshNow(refreshCtx)
		if err != nil {
			reqLogger.Error("schema reload failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = fmt.Fprint(w, `{"status":"error","message":"schema reload failed"}`)
			return
		}

		reqLogger.Info("schema reloaded", slog.Bool("changed", changed))
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "changed": changed})
	}
}
