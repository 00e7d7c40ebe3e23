// Package querybuilder compiles a visual query graph into SQL text.
//
// Compilation is a pure function of its inputs: it performs no I/O, keeps no
// state between calls and never fails. Incomplete input (blank filters, edges
// to unknown nodes, unreachable tables) is skipped rather than rejected; Build
// reports what was skipped so callers can surface it.
package querybuilder

import (
	"strings"

	"querycanvas/internal/querygraph"
)

// Result is the compiled SQL plus what the compiler decided along the way.
type Result struct {
	SQL     string
	Aliases map[string]string
	// HasAggregation is true when any selected column is aggregated.
	HasAggregation bool
	// JoinCount is the number of JOIN keywords emitted.
	JoinCount int
	// DroppedEdges lists edges that produced no JOIN, in discovery order.
	DroppedEdges []DroppedEdge
	// DisconnectedNodes are node ids appended to FROM with a comma.
	DisconnectedNodes []string
}

// Compile returns the SQL text for a graph given as separate collections.
// Zero nodes produce "".
func Compile(
	nodes []querygraph.TableNode,
	edges []querygraph.JoinEdge,
	filters []querygraph.FilterCondition,
	orders []querygraph.OrderSpec,
	groupBy []string,
	limit string,
) string {
	return Build(querygraph.Graph{
		Nodes:   nodes,
		Edges:   edges,
		Filters: filters,
		OrderBy: orders,
		GroupBy: groupBy,
		Limit:   querygraph.LimitText(limit),
	}).SQL
}

// Build compiles graph and returns the SQL with diagnostics.
func Build(graph querygraph.Graph) Result {
	if len(graph.Nodes) == 0 {
		return Result{Aliases: map[string]string{}}
	}

	aliases := AssignAliases(graph.Nodes)
	columns := CollectColumns(graph.Nodes, aliases)
	from := planFrom(graph.Nodes, graph.Edges, aliases)

	clauses := []string{
		"SELECT\n" + clauseIndent + BuildSelect(columns.Items),
		from.text,
		BuildWhere(graph.Filters),
		BuildGroupBy(columns.HasAggregation, columns.NonAggregated, graph.GroupBy),
		BuildHaving(graph.Filters),
		BuildOrderBy(graph.OrderBy),
		BuildLimit(string(graph.Limit)),
	}

	parts := make([]string, 0, len(clauses))
	for _, clause := range clauses {
		if clause != "" {
			parts = append(parts, clause)
		}
	}

	return Result{
		SQL:               strings.Join(parts, "\n"),
		Aliases:           aliases,
		HasAggregation:    columns.HasAggregation,
		JoinCount:         from.joins,
		DroppedEdges:      from.dropped,
		DisconnectedNodes: from.disconnected,
	}
}
