package api

import (
	"fmt"

	"querycanvas/internal/querygraph"
)

// graphFromInput converts a QueryGraphInput argument into a Graph. graphql-go
// has already validated the shape, so only type assertions remain.
func graphFromInput(raw interface{}) (querygraph.Graph, error) {
	input, ok := raw.(map[string]interface{})
	if !ok {
		return querygraph.Graph{}, fmt.Errorf("input must be an object")
	}

	nodes, err := nodesFromInput(input["nodes"])
	if err != nil {
		return querygraph.Graph{}, err
	}
	graph := querygraph.Graph{
		Nodes:   nodes,
		Edges:   edgesFromInput(input["edges"]),
		GroupBy: stringList(input["groupBy"]),
		Limit:   querygraph.LimitText(stringField(input, "limit")),
	}

	for _, item := range objectList(input["filters"]) {
		graph.Filters = append(graph.Filters, querygraph.FilterCondition{
			ID:              stringField(item, "id"),
			Column:          stringField(item, "column"),
			Operator:        stringField(item, "operator"),
			Value:           stringField(item, "value"),
			LogicalOperator: querygraph.LogicalOperator(stringField(item, "logicalOperator")),
			IsAggregate:     boolField(item, "isAggregate"),
		})
	}
	for _, item := range objectList(input["orderBy"]) {
		graph.OrderBy = append(graph.OrderBy, querygraph.OrderSpec{
			ID:        stringField(item, "id"),
			Column:    stringField(item, "column"),
			Direction: querygraph.Direction(stringField(item, "direction")),
		})
	}
	return graph, nil
}

func nodesFromInput(raw interface{}) ([]querygraph.TableNode, error) {
	items := objectList(raw)
	nodes := make([]querygraph.TableNode, 0, len(items))
	for _, item := range items {
		node := querygraph.TableNode{
			ID:    stringField(item, "id"),
			Label: stringField(item, "label"),
		}
		for _, col := range objectList(item["columns"]) {
			node.Columns = append(node.Columns, querygraph.Column{
				Name: stringField(col, "name"),
				Type: stringField(col, "type"),
			})
		}
		for _, sel := range objectList(item["selectedColumns"]) {
			node.SelectedColumns = node.SelectedColumns.Set(stringField(sel, "column"), boolField(sel, "selected"))
		}
		for _, agg := range objectList(item["columnAggregations"]) {
			column := stringField(agg, "column")
			if column == "" {
				return nil, fmt.Errorf("node %q: column aggregation is missing a column", node.ID)
			}
			if node.ColumnAggregations == nil {
				node.ColumnAggregations = make(map[string]querygraph.Aggregation)
			}
			node.ColumnAggregations[column] = querygraph.Aggregation{
				Function: stringField(agg, "function"),
				Alias:    stringField(agg, "alias"),
				Order:    intPointer(agg, "order"),
			}
		}
		for _, alias := range objectList(item["columnAliases"]) {
			column := stringField(alias, "column")
			if column == "" {
				return nil, fmt.Errorf("node %q: column alias is missing a column", node.ID)
			}
			if node.ColumnAliases == nil {
				node.ColumnAliases = make(map[string]querygraph.ColumnAlias)
			}
			node.ColumnAliases[column] = querygraph.ColumnAlias{
				Alias: stringField(alias, "alias"),
				Order: intPointer(alias, "order"),
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func edgesFromInput(raw interface{}) []querygraph.JoinEdge {
	var edges []querygraph.JoinEdge
	for _, item := range objectList(raw) {
		edges = append(edges, querygraph.JoinEdge{
			ID:           stringField(item, "id"),
			Source:       stringField(item, "source"),
			Target:       stringField(item, "target"),
			SourceHandle: stringField(item, "sourceHandle"),
			TargetHandle: stringField(item, "targetHandle"),
			JoinType:     querygraph.JoinType(stringField(item, "joinType")),
		})
	}
	return edges
}

func objectList(raw interface{}) []map[string]interface{} {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]interface{}); ok {
			out = append(out, obj)
		}
	}
	return out
}

func stringList(raw interface{}) []string {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringField(obj map[string]interface{}, key string) string {
	s, _ := obj[key].(string)
	return s
}

func boolField(obj map[string]interface{}, key string) bool {
	b, _ := obj[key].(bool)
	return b
}

func intPointer(obj map[string]interface{}, key string) *int {
	n, ok := obj[key].(int)
	if !ok {
		return nil
	}
	return &n
}
