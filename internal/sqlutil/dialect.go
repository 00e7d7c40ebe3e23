// Package sqlutil provides SQL dialect helpers shared by introspection and
// query execution.
package sqlutil

import (
	"fmt"
	"strings"
)

// Dialect names a supported database engine.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Dialects lists supported dialects.
var Dialects = []Dialect{MySQL, Postgres, SQLite}

var dialectAliases = map[string]Dialect{
	"mysql":      MySQL,
	"mariadb":    MySQL,
	"tidb":       MySQL,
	"postgres":   Postgres,
	"postgresql": Postgres,
	"pgx":        Postgres,
	"sqlite":     SQLite,
	"sqlite3":    SQLite,
}

// ParseDialect normalizes a driver name, accepting common aliases such as
// "postgresql", "pgx", "mariadb" and "sqlite3".
func ParseDialect(name string) (Dialect, error) {
	if d, ok := dialectAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return d, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", name)
}

// DriverName is the database/sql driver registered for d.
func (d Dialect) DriverName() string {
	if d == Postgres {
		return "pgx"
	}
	return string(d)
}

// DefaultPort is the engine's usual TCP port. SQLite has none.
func (d Dialect) DefaultPort() int {
	switch d {
	case MySQL:
		return 3306
	case Postgres:
		return 5432
	}
	return 0
}

// QuoteIdentifier wraps name in the dialect's identifier quotes, doubling
// any quote characters inside it: backticks for MySQL, double quotes
// otherwise.
func (d Dialect) QuoteIdentifier(name string) string {
	q := `"`
	if d == MySQL {
		q = "`"
	}
	return q + strings.ReplaceAll(name, q, q+q) + q
}
