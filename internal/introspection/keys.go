package introspection

import (
	"sort"
)

// PrimaryKeyColumn returns the first primary key column of table, or nil.
func PrimaryKeyColumn(table Table) *Column {
	for i := range table.Columns {
		if table.Columns[i].IsPrimaryKey {
			return &table.Columns[i]
		}
	}
	return nil
}

// PrimaryKeyColumns returns every primary key column in column order.
func PrimaryKeyColumns(table Table) []Column {
	var cols []Column
	for _, col := range table.Columns {
		if col.IsPrimaryKey {
			cols = append(cols, col)
		}
	}
	return cols
}

// ForeignKeyConstraint is one foreign key with its columns in constraint order.
type ForeignKeyConstraint struct {
	ConstraintName    string
	ReferencedTable   string
	ColumnNames       []string
	ReferencedColumns []string
	OnUpdate          string
	OnDelete          string
}

// Composite reports whether the constraint spans more than one column.
func (c ForeignKeyConstraint) Composite() bool {
	return len(c.ColumnNames) > 1
}

// ForeignKeyConstraints folds the per-column rows of table.ForeignKeys into
// constraints. Named constraints come first, sorted by name, with columns in
// ordinal order. Rows without a constraint name each form their own
// constraint and follow in their original order.
func ForeignKeyConstraints(table Table) []ForeignKeyConstraint {
	if len(table.ForeignKeys) == 0 {
		return nil
	}

	named := map[string][]ForeignKey{}
	var names []string
	var unnamed []ForeignKeyConstraint
	for _, fk := range table.ForeignKeys {
		if fk.ConstraintName == "" {
			unnamed = append(unnamed, constraintOf(fk.ConstraintName, []ForeignKey{fk}))
			continue
		}
		if _, ok := named[fk.ConstraintName]; !ok {
			names = append(names, fk.ConstraintName)
		}
		named[fk.ConstraintName] = append(named[fk.ConstraintName], fk)
	}
	sort.Strings(names)

	out := make([]ForeignKeyConstraint, 0, len(names)+len(unnamed))
	for _, name := range names {
		rows := named[name]
		// A zero ordinal means the driver did not report one; keep those last.
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := rows[i].OrdinalPosition, rows[j].OrdinalPosition
			if a == 0 || b == 0 {
				return a != 0 && b == 0
			}
			return a < b
		})
		out = append(out, constraintOf(name, rows))
	}
	return append(out, unnamed...)
}

func constraintOf(name string, rows []ForeignKey) ForeignKeyConstraint {
	c := ForeignKeyConstraint{
		ConstraintName:  name,
		ReferencedTable: rows[0].ReferencedTable,
		OnUpdate:        rows[0].OnUpdate,
		OnDelete:        rows[0].OnDelete,
	}
	for _, row := range rows {
		c.ColumnNames = append(c.ColumnNames, row.ColumnName)
		c.ReferencedColumns = append(c.ReferencedColumns, row.ReferencedColumn)
	}
	return c
}
