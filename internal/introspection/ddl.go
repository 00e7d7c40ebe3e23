package introspection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"querycanvas/internal/sqlutil"
)

var (
	// ErrTableNotFound is returned when DDL is requested for an unknown table.
	ErrTableNotFound = errors.New("table not found")
	// ErrDDLUnsupported is returned for dialects without a DDL source.
	ErrDDLUnsupported = errors.New("table DDL not supported for this dialect")
)

// TableDDL returns the CREATE statement of a table or view, terminated by a
// semicolon.
func TableDDL(ctx context.Context, db Queryer, dialect sqlutil.Dialect, table string) (string, error) {
	ctx, span := startSpan(ctx, "introspection.table_ddl",
		attribute.String("db.system", string(dialect)),
		attribute.String("db.table", table),
	)
	defer span.End()

	var (
		ddl string
		err error
	)
	switch dialect {
	case sqlutil.MySQL:
		ddl, err = mysqlCreateStatement(ctx, db, table)
	case sqlutil.SQLite:
		ddl, err = sqliteCreateStatement(ctx, db, table)
	default:
		err = fmt.Errorf("%w: %s", ErrDDLUnsupported, dialect)
	}
	if err != nil {
		recordSpanError(span, err)
		return "", err
	}

	ddl = strings.TrimRight(strings.TrimSpace(ddl), ";")
	return ddl + ";", nil
}

// mysqlCreateStatement reads SHOW CREATE TABLE. The statement is the second
// column for both tables and views; views return extra charset columns.
func mysqlCreateStatement(ctx context.Context, db Queryer, table string) (string, error) {
	rows, err := db.QueryContext(ctx, "SHOW CREATE TABLE "+sqlutil.MySQL.QuoteIdentifier(table))
	if err != nil {
		return "", fmt.Errorf("show create table %s: %w", table, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}
	if len(cols) < 2 {
		return "", fmt.Errorf("show create table %s: unexpected %d columns", table, len(cols))
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	values := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return "", err
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if values[1].String == "" {
		return "", fmt.Errorf("empty create table statement for %s", table)
	}
	return values[1].String, nil
}

func sqliteCreateStatement(ctx context.Context, db Queryer, table string) (string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT sql FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?", table)
	if err != nil {
		return "", fmt.Errorf("read sqlite_master for %s: %w", table, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	var ddl sql.NullString
	if err := rows.Scan(&ddl); err != nil {
		return "", err
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if !ddl.Valid || ddl.String == "" {
		return "", fmt.Errorf("empty create table statement for %s", table)
	}
	return ddl.String, nil
}
