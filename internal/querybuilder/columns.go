package querybuilder

import (
	"fmt"

	"querycanvas/internal/querygraph"
)

// UnorderedKey sorts columns without an explicit order after ordered ones.
const UnorderedKey = 999

// countDistinct is the canvas name for COUNT(DISTINCT ...).
const countDistinct = "COUNT_DISTINCT"

// SelectItem is one expression of the select list before sorting.
type SelectItem struct {
	Expression string
	OrderKey   int
	ColumnName string
}

// ColumnSet is the output of CollectColumns.
type ColumnSet struct {
	Items          []SelectItem
	HasAggregation bool
	// NonAggregated holds the qualified references of plain selected
	// columns, in collection order. It feeds the implicit GROUP BY.
	NonAggregated []string
}

// CollectColumns walks every node's checked columns in node order, then
// selection order, resolving aggregation and alias metadata.
func CollectColumns(nodes []querygraph.TableNode, aliases map[string]string) ColumnSet {
	var set ColumnSet
	for _, node := range nodes {
		alias := aliases[node.ID]
		for _, entry := range node.SelectedColumns {
			if !entry.Selected {
				continue
			}
			ref := alias + "." + entry.Column

			if agg, ok := node.ColumnAggregations[entry.Column]; ok {
				set.HasAggregation = true
				expr := aggregateExpression(agg.Function, ref)
				if agg.Alias != "" {
					expr += " AS " + agg.Alias
				}
				set.Items = append(set.Items, SelectItem{
					Expression: expr,
					OrderKey:   orderKey(agg.Order),
					ColumnName: entry.Column,
				})
				continue
			}

			set.NonAggregated = append(set.NonAggregated, ref)
			expr := ref
			key := UnorderedKey
			if colAlias, ok := node.ColumnAliases[entry.Column]; ok {
				if colAlias.Alias != "" {
					expr += " AS " + colAlias.Alias
				}
				key = orderKey(colAlias.Order)
			}
			set.Items = append(set.Items, SelectItem{
				Expression: expr,
				OrderKey:   key,
				ColumnName: entry.Column,
			})
		}
	}
	return set
}

func aggregateExpression(function, ref string) string {
	if function == countDistinct {
		return fmt.Sprintf("COUNT(DISTINCT %s)", ref)
	}
	return fmt.Sprintf("%s(%s)", function, ref)
}

func orderKey(order *int) int {
	if order == nil {
		return UnorderedKey
	}
	return *order
}
