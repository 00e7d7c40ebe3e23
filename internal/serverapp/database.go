package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite"

	"querycanvas/internal/config"
	"querycanvas/internal/logging"
)

const maxConnectRetryInterval = 30 * time.Second

type statsRegistration interface{ Unregister() error }

var dbSystems = map[string]attribute.KeyValue{
	"mysql":  semconv.DBSystemMySQL,
	"pgx":    semconv.DBSystemPostgreSQL,
	"sqlite": semconv.DBSystemSqlite,
}

func dbSystemAttribute(driverName string) attribute.KeyValue {
	if kv, ok := dbSystems[driverName]; ok {
		return kv
	}
	return semconv.DBSystemMySQL
}

// connectDB opens the pool without pinging it. With metrics or tracing on,
// the driver is wrapped by otelsql and the returned registration must be
// released on shutdown.
func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, statsRegistration, error) {
	dbCfg := cfg.Database
	if err := dbCfg.RegisterTLS(); err != nil {
		return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}
	driverName, err := dbCfg.DriverName()
	if err != nil {
		return nil, nil, err
	}
	dsn, err := dbCfg.DSN()
	if err != nil {
		return nil, nil, err
	}

	obs := cfg.Observability
	if !obs.MetricsEnabled && !obs.TracingEnabled {
		db, err := sql.Open(driverName, dsn)
		return db, nil, err
	}

	system := otelsql.WithAttributes(dbSystemAttribute(driverName))
	opts := []otelsql.Option{system}
	if obs.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
	}
	switch {
	case obs.SQLCommenterEnabled && obs.TracingEnabled:
		opts = append(opts, otelsql.WithSQLCommenter(true))
	case obs.SQLCommenterEnabled:
		logger.Warn("sql commenter needs tracing; leaving it off")
	}

	db, err := otelsql.Open(driverName, dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var stats statsRegistration
	if obs.MetricsEnabled {
		if stats, err = otelsql.RegisterDBStatsMetrics(db, system); err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
			stats = nil
		}
	}

	logger.Info("database instrumentation enabled",
		slog.String("driver", driverName),
		slog.Bool("metrics", obs.MetricsEnabled),
		slog.Bool("tracing", obs.TracingEnabled),
		slog.Bool("sqlcommenter", obs.SQLCommenterEnabled && obs.TracingEnabled),
	)
	return db, stats, nil
}

// configureDatabase sizes the pool and waits for the first successful ping.
func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	pool := cfg.Database.Pool
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}
	logger.Info("connected to database",
		slog.String("database", cfg.Database.Database),
		slog.Int("pool_max_open", pool.MaxOpen),
		slog.Int("pool_max_idle", pool.MaxIdle),
		slog.Duration("pool_max_lifetime", pool.MaxLifetime),
	)
	return nil
}

// waitForDatabase pings until the database answers or ConnectionTimeout
// passes, doubling the pause between attempts up to
// maxConnectRetryInterval. A zero timeout pings once.
func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	timeout := cfg.Database.ConnectionTimeout
	if timeout == 0 {
		return db.PingContext(ctx)
	}
	pause := cfg.Database.ConnectionRetryInterval
	if pause <= 0 {
		pause = time.Second
	}

	deadline := time.Now().Add(timeout)
	attempt := 1
	for {
		err := db.PingContext(ctx)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}
		logger.Warn("database not ready",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", pause),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		pause = min(2*pause, maxConnectRetryInterval)
		attempt++
	}

	if attempt > 1 {
		logger.Info("database connection established", slog.Int("attempts", attempt))
	}
	return nil
}
