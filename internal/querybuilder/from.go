package querybuilder

import (
	"fmt"
	"strings"

	"querycanvas/internal/querygraph"
)

// DropReason explains why an edge produced no JOIN.
type DropReason string

const (
	// DropRedundant marks an edge whose endpoints were both already joined,
	// such as a second predicate between the same pair or a cycle.
	DropRedundant DropReason = "redundant"
	// DropUnresolved marks an edge naming a node id that is not on the canvas.
	DropUnresolved DropReason = "unresolved"
	// DropUnreachable marks an edge left over when traversal stopped because
	// neither endpoint is connected to the first node.
	DropUnreachable DropReason = "unreachable"
)

// DroppedEdge records an edge that did not contribute a JOIN.
type DroppedEdge struct {
	Edge   querygraph.JoinEdge
	Reason DropReason
}

// fromPlan is the traversal outcome. Only text reaches the SQL; the rest is
// reported alongside it.
type fromPlan struct {
	text         string
	joins        int
	dropped      []DroppedEdge
	disconnected []string
}

// BuildFrom renders the FROM clause, including JOINs, for nodes connected by
// edges. It returns "" for zero nodes.
func BuildFrom(nodes []querygraph.TableNode, edges []querygraph.JoinEdge, aliases map[string]string) string {
	return planFrom(nodes, edges, aliases).text
}

func planFrom(nodes []querygraph.TableNode, edges []querygraph.JoinEdge, aliases map[string]string) fromPlan {
	var plan fromPlan
	if len(nodes) == 0 {
		return plan
	}

	labels := make(map[string]string, len(nodes))
	for _, node := range nodes {
		if _, seen := labels[node.ID]; !seen {
			labels[node.ID] = node.Label
		}
	}
	tableRef := func(id string) string {
		return labels[id] + " " + aliases[id]
	}

	if len(edges) == 0 {
		refs := make([]string, len(nodes))
		for i, node := range nodes {
			refs[i] = tableRef(node.ID)
		}
		for _, node := range nodes[1:] {
			plan.disconnected = append(plan.disconnected, node.ID)
		}
		plan.text = "FROM\n" + clauseIndent + strings.Join(refs, ", ")
		return plan
	}

	pool := make([]querygraph.JoinEdge, 0, len(edges))
	for _, edge := range edges {
		_, hasSource := labels[edge.Source]
		_, hasTarget := labels[edge.Target]
		if !hasSource || !hasTarget {
			plan.dropped = append(plan.dropped, DroppedEdge{Edge: edge, Reason: DropUnresolved})
			continue
		}
		pool = append(pool, edge)
	}

	processed := map[string]bool{nodes[0].ID: true}
	lines := []string{clauseIndent + tableRef(nodes[0].ID)}

	// Every productive pass consumes one edge, so len(edges) passes suffice.
	for pass := 0; pass < len(edges) && len(pool) > 0; pass++ {
		progressed := false
		remaining := make([]querygraph.JoinEdge, 0, len(pool))
		for i, edge := range pool {
			sourceDone := processed[edge.Source]
			targetDone := processed[edge.Target]

			if sourceDone && targetDone {
				plan.dropped = append(plan.dropped, DroppedEdge{Edge: edge, Reason: DropRedundant})
				continue
			}
			if !sourceDone && !targetDone {
				remaining = append(remaining, edge)
				continue
			}

			joined := edge.Target
			if targetDone {
				joined = edge.Source
			}
			lines = append(lines, clauseIndent+joinLine(edge, labels[joined], aliases[joined], aliases))
			processed[joined] = true
			plan.joins++
			progressed = true
			remaining = append(remaining, pool[i+1:]...)
			break
		}
		pool = remaining
		if !progressed {
			break
		}
	}

	for _, edge := range pool {
		plan.dropped = append(plan.dropped, DroppedEdge{Edge: edge, Reason: DropUnreachable})
	}

	var loose []string
	for _, node := range nodes {
		if processed[node.ID] {
			continue
		}
		processed[node.ID] = true
		loose = append(loose, tableRef(node.ID))
		plan.disconnected = append(plan.disconnected, node.ID)
	}

	text := "FROM\n" + strings.Join(lines, "\n")
	if len(loose) > 0 {
		text += itemSeparator + strings.Join(loose, itemSeparator)
	}
	plan.text = text
	return plan
}

// joinLine renders one JOIN. The predicate is always written source side
// first, whichever endpoint was already joined.
func joinLine(edge querygraph.JoinEdge, label, alias string, aliases map[string]string) string {
	return fmt.Sprintf("%s JOIN %s %s ON %s.%s = %s.%s",
		edge.JoinType.Keyword(),
		label, alias,
		aliases[edge.Source], edge.SourceHandle,
		aliases[edge.Target], edge.TargetHandle,
	)
}
