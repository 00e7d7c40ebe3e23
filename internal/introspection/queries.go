package introspection

import (
	"fmt"

	"querycanvas/internal/sqlutil"
)

// dialectQueries holds the three batch queries for a dialect. Every dialect
// returns the same column shapes so scanning is shared.
type dialectQueries struct {
	tables      string
	columns     string
	foreignKeys string
}

func queriesFor(dialect sqlutil.Dialect) (dialectQueries, error) {
	switch dialect {
	case sqlutil.MySQL:
		return mysqlQueries, nil
	case sqlutil.Postgres:
		return postgresQueries, nil
	case sqlutil.SQLite:
		return sqliteQueries, nil
	default:
		return dialectQueries{}, fmt.Errorf("introspection not supported for dialect %q", dialect)
	}
}

var mysqlQueries = dialectQueries{
	tables: `
		SELECT TABLE_NAME, TABLE_TYPE
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE()
		AND TABLE_TYPE IN ('BASE TABLE', 'VIEW')
		ORDER BY TABLE_NAME
	`,
	columns: `
		SELECT
			TABLE_NAME,
			COLUMN_NAME,
			DATA_TYPE,
			CASE WHEN IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
			COLUMN_DEFAULT,
			CASE WHEN COLUMN_KEY = 'PRI' THEN 1 ELSE 0 END,
			CASE WHEN EXTRA LIKE '%auto_increment%' THEN 1 ELSE 0 END
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE()
		ORDER BY TABLE_NAME, ORDINAL_POSITION
	`,
	foreignKeys: `
		SELECT
			kcu.TABLE_NAME,
			kcu.CONSTRAINT_NAME,
			kcu.COLUMN_NAME,
			kcu.REFERENCED_TABLE_NAME,
			kcu.REFERENCED_COLUMN_NAME,
			rc.UPDATE_RULE,
			rc.DELETE_RULE,
			kcu.ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		JOIN INFORMATION_SCHEMA.REFERENTIAL_CONSTRAINTS rc
			ON kcu.CONSTRAINT_NAME = rc.CONSTRAINT_NAME
			AND kcu.CONSTRAINT_SCHEMA = rc.CONSTRAINT_SCHEMA
		WHERE kcu.TABLE_SCHEMA = DATABASE()
			AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY kcu.TABLE_NAME, kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION
	`,
}

var postgresQueries = dialectQueries{
	tables: `
		SELECT table_name, table_type
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		AND table_type IN ('BASE TABLE', 'VIEW')
		ORDER BY table_name
	`,
	columns: `
		SELECT
			c.table_name,
			c.column_name,
			c.data_type,
			CASE WHEN c.is_nullable = 'YES' THEN 1 ELSE 0 END,
			c.column_default,
			CASE WHEN EXISTS (
				SELECT 1
				FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage k
					ON tc.constraint_name = k.constraint_name
					AND tc.table_schema = k.table_schema
					AND tc.table_name = k.table_name
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = c.table_schema
					AND tc.table_name = c.table_name
					AND k.column_name = c.column_name
			) THEN 1 ELSE 0 END,
			CASE WHEN c.is_identity = 'YES' OR c.column_default LIKE 'nextval(%' THEN 1 ELSE 0 END
		FROM information_schema.columns c
		WHERE c.table_schema = current_schema()
		ORDER BY c.table_name, c.ordinal_position
	`,
	foreignKeys: `
		SELECT
			kcu.table_name,
			kcu.constraint_name,
			kcu.column_name,
			ccu.table_name,
			ccu.column_name,
			rc.update_rule,
			rc.delete_rule,
			kcu.ordinal_position
		FROM information_schema.key_column_usage kcu
		JOIN information_schema.referential_constraints rc
			ON kcu.constraint_name = rc.constraint_name
			AND kcu.constraint_schema = rc.constraint_schema
		JOIN information_schema.key_column_usage ccu
			ON ccu.constraint_name = rc.unique_constraint_name
			AND ccu.constraint_schema = rc.unique_constraint_schema
			AND ccu.ordinal_position = kcu.position_in_unique_constraint
		WHERE kcu.table_schema = current_schema()
		ORDER BY kcu.table_name, kcu.constraint_name, kcu.ordinal_position
	`,
}

// SQLite exposes per-table pragmas as table-valued functions, so joining them
// against sqlite_master reads every table in one statement.
var sqliteQueries = dialectQueries{
	tables: `
		SELECT name, type
		FROM sqlite_master
		WHERE type IN ('table', 'view')
		AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`,
	columns: `
		SELECT
			m.name,
			p.name,
			p.type,
			CASE WHEN p."notnull" = 0 AND p.pk = 0 THEN 1 ELSE 0 END,
			p.dflt_value,
			CASE WHEN p.pk > 0 THEN 1 ELSE 0 END,
			CASE WHEN p.pk = 1 AND UPPER(p.type) = 'INTEGER'
				AND (SELECT COUNT(*) FROM pragma_table_info(m.name) WHERE pk > 0) = 1
				THEN 1 ELSE 0 END
		FROM sqlite_master m
		JOIN pragma_table_info(m.name) p
		WHERE m.type IN ('table', 'view')
		AND m.name NOT LIKE 'sqlite_%'
		ORDER BY m.name, p.cid
	`,
	foreignKeys: `
		SELECT
			m.name,
			'fk_' || p.id || '_' || p."table",
			p."from",
			p."table",
			COALESCE(p."to", ''),
			p.on_update,
			p.on_delete,
			p.seq + 1
		FROM sqlite_master m
		JOIN pragma_foreign_key_list(m.name) p
		WHERE m.type = 'table'
		AND m.name NOT LIKE 'sqlite_%'
		ORDER BY m.name, p.id, p.seq
	`,
}
