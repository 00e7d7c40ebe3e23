package dbexec

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"querycanvas/internal/sqlutil"
)

// ReadOnlyExecutor runs each query inside a read-only transaction on a
// dedicated connection. The transaction is rolled back when the rows close.
type ReadOnlyExecutor struct {
	db               *sql.DB
	dialect          sqlutil.Dialect
	statementTimeout time.Duration
}

// ReadOnlyExecutorConfig controls read-only execution behavior.
type ReadOnlyExecutorConfig struct {
	DB      *sql.DB
	Dialect sqlutil.Dialect
	// StatementTimeout bounds server-side execution where the dialect
	// supports a session setting for it. Zero leaves the server default.
	StatementTimeout time.Duration
}

// NewReadOnlyExecutor creates an executor that never commits.
func NewReadOnlyExecutor(cfg ReadOnlyExecutorConfig) *ReadOnlyExecutor {
	return &ReadOnlyExecutor{
		db:               cfg.DB,
		dialect:          cfg.Dialect,
		statementTimeout: cfg.StatementTimeout,
	}
}

func (e *ReadOnlyExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}

	cleanup := func() {
		_ = tx.Rollback()
		_ = conn.Close()
	}

	if stmt := e.timeoutStatement(); stmt != "" {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to set statement timeout: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		cleanup()
		return nil, err
	}

	return &closingRows{Rows: rows, release: cleanup}, nil
}

func (e *ReadOnlyExecutor) timeoutStatement() string {
	ms := e.statementTimeout.Milliseconds()
	if ms <= 0 {
		return ""
	}
	switch e.dialect {
	case sqlutil.MySQL:
		return fmt.Sprintf("SET SESSION MAX_EXECUTION_TIME = %d", ms)
	case sqlutil.Postgres:
		return fmt.Sprintf("SET LOCAL statement_timeout = %d", ms)
	default:
		return ""
	}
}
