package introspection

import (
	"fmt"
	"strings"

	"querycanvas/internal/naming"
	"querycanvas/internal/querygraph"
)

// SuggestionSource says where a join suggestion came from.
type SuggestionSource string

const (
	// FromForeignKey marks a join backed by a declared constraint.
	FromForeignKey SuggestionSource = "foreign_key"
	// FromNaming marks a join guessed from a column name such as user_id.
	FromNaming SuggestionSource = "naming"
)

// JoinSuggestion is a candidate edge between two canvas nodes.
type JoinSuggestion struct {
	Edge       querygraph.JoinEdge
	Source     SuggestionSource
	Constraint string
}

// SuggestJoins proposes edges between nodes already on the canvas. Declared
// foreign keys are used first; node pairs without one fall back to naming
// conventions (posts.user_id -> users.id). Edges already present in existing
// are not suggested again. Output order follows node order.
func SuggestJoins(schema *Schema, nodes []querygraph.TableNode, existing []querygraph.JoinEdge, namer *naming.Namer) []JoinSuggestion {
	if schema == nil || len(nodes) < 2 {
		return nil
	}
	if namer == nil {
		namer = naming.Default()
	}

	known := make(map[string]struct{}, len(existing))
	for _, edge := range existing {
		known[edgeKey(edge.Source, edge.SourceHandle, edge.Target, edge.TargetHandle)] = struct{}{}
		known[edgeKey(edge.Target, edge.TargetHandle, edge.Source, edge.SourceHandle)] = struct{}{}
	}

	var out []JoinSuggestion
	add := func(child, parent querygraph.TableNode, childCol, parentCol string, source SuggestionSource, constraint string) {
		key := edgeKey(child.ID, childCol, parent.ID, parentCol)
		if _, dup := known[key]; dup {
			return
		}
		known[key] = struct{}{}
		known[edgeKey(parent.ID, parentCol, child.ID, childCol)] = struct{}{}
		out = append(out, JoinSuggestion{
			Edge: querygraph.JoinEdge{
				ID:           fmt.Sprintf("suggested-%d", len(out)+1),
				Source:       child.ID,
				Target:       parent.ID,
				SourceHandle: childCol,
				TargetHandle: parentCol,
				JoinType:     querygraph.JoinInner,
			},
			Source:     source,
			Constraint: constraint,
		})
	}

	for i, child := range nodes {
		childTable, ok := schema.Table(child.Label)
		if !ok {
			continue
		}
		for j, parent := range nodes {
			if i == j {
				continue
			}
			parentTable, ok := schema.Table(parent.Label)
			if !ok {
				continue
			}

			declared := false
			for _, fk := range ForeignKeyConstraints(*childTable) {
				if !strings.EqualFold(fk.ReferencedTable, parentTable.Name) {
					continue
				}
				declared = true
				for k := range fk.ColumnNames {
					add(child, parent, fk.ColumnNames[k], fk.ReferencedColumns[k], FromForeignKey, fk.ConstraintName)
				}
			}
			if declared {
				continue
			}

			pk := PrimaryKeyColumn(*parentTable)
			if pk == nil || len(PrimaryKeyColumns(*parentTable)) != 1 {
				continue
			}
			for _, col := range childTable.Columns {
				if namer.MatchesTable(col.Name, parentTable.Name) {
					add(child, parent, col.Name, pk.Name, FromNaming, "")
				}
			}
		}
	}
	return out
}

func edgeKey(source, sourceCol, target, targetCol string) string {
	return source + "\x00" + sourceCol + "\x00" + target + "\x00" + targetCol
}
