package querybuilder

import (
	"strings"

	"querycanvas/internal/querygraph"
)

// BuildWhere renders the WHERE clause from non-aggregate conditions.
func BuildWhere(filters []querygraph.FilterCondition) string {
	return buildPredicateClause("WHERE", filters, false)
}

// BuildHaving renders the HAVING clause from aggregate conditions.
func BuildHaving(filters []querygraph.FilterCondition) string {
	return buildPredicateClause("HAVING", filters, true)
}

// buildPredicateClause keeps conditions whose aggregate flag matches and
// whose column and value are filled in. The first kept condition is written
// bare; every later one is prefixed by its own logical operator.
func buildPredicateClause(keyword string, filters []querygraph.FilterCondition, aggregate bool) string {
	var lines []string
	for _, cond := range filters {
		if cond.IsAggregate != aggregate || cond.Column == "" || cond.Value == "" {
			continue
		}
		predicate := cond.Column + " " + cond.Operator + " " + cond.Value
		if len(lines) > 0 {
			predicate = logicalKeyword(cond.LogicalOperator) + " " + predicate
		}
		lines = append(lines, clauseIndent+predicate)
	}
	if len(lines) == 0 {
		return ""
	}
	return keyword + "\n" + strings.Join(lines, "\n")
}

func logicalKeyword(op querygraph.LogicalOperator) string {
	if strings.TrimSpace(string(op)) == "" {
		return string(querygraph.LogicalAnd)
	}
	return string(op)
}
