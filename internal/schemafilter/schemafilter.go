// Package schemafilter hides tables and columns from schema snapshots before
// they reach the canvas.
package schemafilter

import (
	"path"
	"strings"

	"querycanvas/internal/introspection"
)

// Config controls allow/deny filters for tables and columns. Patterns use
// path.Match syntax and match case-insensitively. Column pattern maps are
// keyed by table name, with "*" applying to every table.
type Config struct {
	AllowTables  []string            `mapstructure:"allow_tables"`
	DenyTables   []string            `mapstructure:"deny_tables"`
	HideViews    bool                `mapstructure:"hide_views"`
	AllowColumns map[string][]string `mapstructure:"allow_columns"`
	DenyColumns  map[string][]string `mapstructure:"deny_columns"`
}

// IsZero reports whether cfg filters nothing.
func (cfg Config) IsZero() bool {
	return len(cfg.AllowTables) == 0 && len(cfg.DenyTables) == 0 && !cfg.HideViews &&
		len(cfg.AllowColumns) == 0 && len(cfg.DenyColumns) == 0
}

// rule is an allow list and a deny list. An empty allow list admits
// everything; a deny match always rejects.
type rule struct {
	allow []string
	deny  []string
}

func (r rule) admits(name string) bool {
	name = strings.ToLower(name)
	if anyMatch(r.deny, name) {
		return false
	}
	return len(r.allow) == 0 || anyMatch(r.allow, name)
}

func anyMatch(patterns []string, name string) bool {
	for _, p := range patterns {
		// Malformed patterns never match.
		if ok, err := path.Match(strings.ToLower(p), name); p != "" && err == nil && ok {
			return true
		}
	}
	return false
}

func (cfg Config) tableRule() rule {
	return rule{allow: cfg.AllowTables, deny: cfg.DenyTables}
}

func (cfg Config) columnRule(table string) rule {
	return rule{
		allow: append(append([]string(nil), cfg.AllowColumns["*"]...), cfg.AllowColumns[table]...),
		deny:  append(append([]string(nil), cfg.DenyColumns["*"]...), cfg.DenyColumns[table]...),
	}
}

// TableAllowed reports whether a table passes the table filters.
func TableAllowed(table string, cfg Config) bool {
	return cfg.tableRule().admits(table)
}

// ColumnAllowed reports whether a column passes the column filters.
func ColumnAllowed(table, column string, cfg Config) bool {
	return cfg.columnRule(table).admits(column)
}

// Apply filters tables, columns, and foreign keys in place. Tables left
// without columns are removed, as are foreign keys that point at a hidden
// table or column.
func Apply(schema *introspection.Schema, cfg Config) {
	if schema == nil {
		return
	}

	tables := cfg.tableRule()
	visible := map[string]map[string]bool{}
	kept := schema.Tables[:0]
	for _, table := range schema.Tables {
		if (table.IsView && cfg.HideViews) || !tables.admits(table.Name) {
			continue
		}
		columns := cfg.columnRule(table.Name)
		shown := map[string]bool{}
		var cols []introspection.Column
		for _, col := range table.Columns {
			if columns.admits(col.Name) {
				cols = append(cols, col)
				shown[col.Name] = true
			}
		}
		if len(cols) == 0 {
			continue
		}
		table.Columns = cols
		visible[table.Name] = shown
		kept = append(kept, table)
	}

	for i := range kept {
		own := visible[kept[i].Name]
		var fks []introspection.ForeignKey
		for _, fk := range kept[i].ForeignKeys {
			if own[fk.ColumnName] && visible[fk.ReferencedTable][fk.ReferencedColumn] {
				fks = append(fks, fk)
			}
		}
		kept[i].ForeignKeys = fks
	}
	schema.Tables = kept
}
