// Package dbexec runs queries for the preview surface. Every statement goes
// through a QueryExecutor so callers can choose between a plain pool and a
// read-only transaction on a dedicated connection.
package dbexec

import (
	"context"
	"database/sql"
	"time"
)

// Rows is the subset of *sql.Rows the previewer reads.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryExecutor runs one statement and hands back its rows.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

// SQLQueryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type SQLQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// StandardExecutor runs statements directly on a pool or connection.
type StandardExecutor struct {
	q       SQLQueryer
	timeout time.Duration
}

// NewStandardExecutor wraps q. A positive timeout bounds each statement
// through its context, from the query until the rows are closed.
func NewStandardExecutor(q SQLQueryer, timeout time.Duration) *StandardExecutor {
	return &StandardExecutor{q: q, timeout: timeout}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.q == nil {
		return nil, sql.ErrConnDone
	}
	if e.timeout <= 0 {
		return e.q.QueryContext(ctx, query, args...)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		cancel()
		return nil, err
	}
	return &closingRows{Rows: rows, release: cancel}, nil
}

// closingRows runs release after the underlying rows are closed.
type closingRows struct {
	*sql.Rows
	release func()
}

func (r *closingRows) Close() error {
	defer r.release()
	return r.Rows.Close()
}
