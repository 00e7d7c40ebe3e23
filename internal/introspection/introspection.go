// Package introspection reads table, column and foreign key metadata from a
// live database so the query canvas can offer tables, columns and joins.
// MySQL, PostgreSQL and SQLite are supported; each is read with a fixed
// number of batch queries regardless of table count.
package introspection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"querycanvas/internal/sqlutil"
)

// Column represents a database column
type Column struct {
	Name            string `json:"name"`
	DataType        string `json:"dataType"`
	IsPrimaryKey    bool   `json:"isPrimaryKey"`
	IsNullable      bool   `json:"isNullable"`
	IsAutoIncrement bool   `json:"isAutoIncrement"`
	HasDefault      bool   `json:"hasDefault"`
	ColumnDefault   string `json:"columnDefault,omitempty"`
}

// ForeignKey represents one column of a foreign key constraint
type ForeignKey struct {
	ColumnName       string `json:"columnName"`       // e.g., "author_id"
	ReferencedTable  string `json:"referencedTable"`  // e.g., "users"
	ReferencedColumn string `json:"referencedColumn"` // e.g., "id"
	ConstraintName   string `json:"constraintName"`   // e.g., "posts_ibfk_1"
	OrdinalPosition  int    `json:"ordinalPosition"`  // Column position within the FK constraint
	OnUpdate         string `json:"onUpdate,omitempty"`
	OnDelete         string `json:"onDelete,omitempty"`
}

// Table represents a database table or view
type Table struct {
	Name        string       `json:"name"`
	IsView      bool         `json:"isView"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreignKeys"`
}

// Schema is a point-in-time snapshot of a database's tables.
type Schema struct {
	Dialect sqlutil.Dialect `json:"dialect"`
	Tables  []Table         `json:"tables"`
}

// Table returns the table with the given name, matched case-insensitively.
func (s *Schema) Table(name string) (*Table, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Tables {
		if strings.EqualFold(s.Tables[i].Name, name) {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// Queryer provides query access for schema introspection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Snapshot reads every table of the connection's current database or schema.
func Snapshot(ctx context.Context, db Queryer, dialect sqlutil.Dialect) (*Schema, error) {
	ctx, span := startSpan(ctx, "introspection.snapshot",
		attribute.String("db.system", string(dialect)),
	)
	defer span.End()

	queries, err := queriesFor(dialect)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	tables, err := getTables(ctx, db, queries.tables)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}

	columns, err := getColumns(ctx, db, queries.columns)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	foreignKeys, err := getForeignKeys(ctx, db, queries.foreignKeys)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get foreign keys: %w", err)
	}

	schema := &Schema{Dialect: dialect, Tables: make([]Table, 0, len(tables))}
	for _, info := range tables {
		table := Table{
			Name:        info.Name,
			IsView:      info.IsView,
			Columns:     columns[info.Name],
			ForeignKeys: foreignKeys[info.Name],
		}
		if table.Columns == nil {
			table.Columns = []Column{}
		}
		if table.ForeignKeys == nil {
			table.ForeignKeys = []ForeignKey{}
		}
		schema.Tables = append(schema.Tables, table)
	}

	resolveImplicitReferences(schema)
	span.SetAttributes(attribute.Int("db.table_count", len(schema.Tables)))
	return schema, nil
}

type tableInfo struct {
	Name   string
	IsView bool
}

func getTables(ctx context.Context, db Queryer, query string) ([]tableInfo, error) {
	ctx, span := startSpan(ctx, "introspection.get_tables")
	defer span.End()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var tables []tableInfo
	for rows.Next() {
		var name, tableType string
		if err := rows.Scan(&name, &tableType); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		tables = append(tables, tableInfo{
			Name:   name,
			IsView: strings.EqualFold(tableType, "VIEW"),
		})
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return tables, nil
}

// getColumns expects rows of (table, column, data type, nullable, default,
// primary key, auto increment) with the flags as 0/1 integers.
func getColumns(ctx context.Context, db Queryer, query string) (map[string][]Column, error) {
	ctx, span := startSpan(ctx, "introspection.get_columns")
	defer span.End()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	columns := make(map[string][]Column)
	for rows.Next() {
		var (
			tableName     string
			col           Column
			nullable      int64
			columnDefault sql.NullString
			primaryKey    int64
			autoIncrement int64
		)
		if err := rows.Scan(&tableName, &col.Name, &col.DataType, &nullable, &columnDefault, &primaryKey, &autoIncrement); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		col.IsNullable = nullable != 0
		col.IsPrimaryKey = primaryKey != 0
		col.IsAutoIncrement = autoIncrement != 0
		col.ColumnDefault, col.HasDefault = normalizeDefault(columnDefault, col.IsAutoIncrement)
		columns[tableName] = append(columns[tableName], col)
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return columns, nil
}

// normalizeDefault drops defaults that carry no information: generated
// sequence values, empty strings and a literal NULL.
func normalizeDefault(value sql.NullString, autoIncrement bool) (string, bool) {
	if autoIncrement || !value.Valid {
		return "", false
	}
	trimmed := strings.TrimSpace(value.String)
	if trimmed == "" || strings.EqualFold(trimmed, "null") {
		return "", false
	}
	return value.String, true
}

// getForeignKeys expects rows of (table, constraint, column, referenced
// table, referenced column, update rule, delete rule, ordinal position).
func getForeignKeys(ctx context.Context, db Queryer, query string) (map[string][]ForeignKey, error) {
	ctx, span := startSpan(ctx, "introspection.get_foreign_keys")
	defer span.End()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	foreignKeys := make(map[string][]ForeignKey)
	for rows.Next() {
		var (
			tableName string
			fk        ForeignKey
			onUpdate  sql.NullString
			onDelete  sql.NullString
		)
		if err := rows.Scan(&tableName, &fk.ConstraintName, &fk.ColumnName, &fk.ReferencedTable,
			&fk.ReferencedColumn, &onUpdate, &onDelete, &fk.OrdinalPosition); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		fk.OnUpdate = onUpdate.String
		fk.OnDelete = onDelete.String
		foreignKeys[tableName] = append(foreignKeys[tableName], fk)
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return foreignKeys, nil
}

// resolveImplicitReferences fills in referenced columns that the database
// left blank because the constraint targets the parent's primary key.
func resolveImplicitReferences(schema *Schema) {
	for i := range schema.Tables {
		for j := range schema.Tables[i].ForeignKeys {
			fk := &schema.Tables[i].ForeignKeys[j]
			if fk.ReferencedColumn != "" {
				continue
			}
			parent, ok := schema.Table(fk.ReferencedTable)
			if !ok {
				continue
			}
			pkCols := PrimaryKeyColumns(*parent)
			pos := fk.OrdinalPosition - 1
			if pos >= 0 && pos < len(pkCols) {
				fk.ReferencedColumn = pkCols[pos].Name
			}
		}
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("querycanvas/introspection")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
