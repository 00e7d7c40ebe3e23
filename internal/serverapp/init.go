package serverapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"querycanvas/internal/schemacache"
)

// assembly is what a successful Init leaves behind.
type assembly struct {
	manager *schemacache.Manager
	handler http.Handler
	srv     *http.Server
	addr    string
}

// Init acquires every runtime resource and builds the HTTP handler. A
// failure releases whatever was already acquired. Calling Init again after
// it succeeded does nothing.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	done := a.initialized
	a.stateMu.Unlock()
	if done {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var stack cleanupStack
	built, err := a.assemble(ctx, &stack)
	if err != nil {
		_ = stack.run(context.Background(), a.logger)
		return err
	}

	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.manager = built.manager
	a.handler = built.handler
	a.srv = built.srv
	a.serverAddr = built.addr
	a.cleanup = stack
	a.initialized = true
	return nil
}

// assemble pushes a releaser onto stack for each resource right after it is
// acquired, so the stack always mirrors what needs undoing.
func (a *App) assemble(ctx context.Context, stack *cleanupStack) (*assembly, error) {
	if p := a.loggerProvider; p != nil {
		stack.push("logger provider", func(ctx context.Context) error {
			return p.Shutdown(ctx, a.logger.Logger)
		})
	}

	metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if p := metrics.provider; p != nil {
		stack.push("meter provider", func(ctx context.Context) error {
			return p.Shutdown(ctx, a.logger.Logger)
		})
	}

	tracer, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracer != nil {
		stack.push("tracer provider", func(ctx context.Context) error {
			return tracer.Shutdown(ctx, a.logger.Logger)
		})
	}

	dbCfg := a.cfg.Database
	a.logger.Info("connecting to database",
		slog.String("driver", string(a.dialect)),
		slog.String("host", dbCfg.Host),
		slog.Int("port", dbCfg.EffectivePort()),
		slog.String("database", dbCfg.Database),
		slog.Bool("dsn_present", strings.TrimSpace(dbCfg.ConnectionString) != ""),
	)
	db, stats, err := connectDB(a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	stack.push("database", func(context.Context) error {
		if stats != nil {
			if err := stats.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})
	if err := configureDatabase(ctx, a.cfg, a.logger, db); err != nil {
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	manager, stopRefresh, err := startSchemaManager(ctx, a.cfg, a.logger, db, a.dialect, metrics.schemaRefresh)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize schema cache: %w", err)
	}
	stack.push("schema cache", func(ctx context.Context) error {
		stopRefresh()
		return manager.Wait(ctx)
	})

	service, err := buildService(a.cfg, a.logger, db, a.dialect, manager, metrics.compiler)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize query service: %w", err)
	}
	graphqlHandler, err := buildGraphQLHandler(a.cfg, a.logger, service, metrics.graphql, metrics.security)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GraphQL handler: %w", err)
	}
	compileHandler, err := withOIDC(a.cfg, a.logger, metrics.security, service.CompileHandler())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize compile handler: %w", err)
	}
	adminHandler, err := buildAdminHandler(a.cfg, a.logger, manager, metrics.security)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize admin handler: %w", err)
	}

	router := buildRouter(a.cfg, a.logger, db, graphqlHandler, compileHandler, adminHandler, metrics.provider)
	handler := wrapHTTPHandler(a.cfg, a.logger, router)

	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := buildServer(a.cfg, handler, addr)
	stack.push("HTTP server", srv.Shutdown)

	return &assembly{manager: manager, handler: handler, srv: srv, addr: addr}, nil
}
