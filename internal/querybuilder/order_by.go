package querybuilder

import (
	"strings"

	"querycanvas/internal/querygraph"
)

// BuildOrderBy renders ORDER BY terms in the order supplied.
func BuildOrderBy(orders []querygraph.OrderSpec) string {
	if len(orders) == 0 {
		return ""
	}
	terms := make([]string, len(orders))
	for i, order := range orders {
		terms[i] = strings.TrimSpace(order.Column + " " + string(order.Direction))
	}
	return "ORDER BY\n" + clauseIndent + strings.Join(terms, itemSeparator)
}

// BuildLimit renders LIMIT from raw text. Blank input produces no clause;
// anything else is emitted trimmed and unvalidated.
func BuildLimit(limit string) string {
	limit = strings.TrimSpace(limit)
	if limit == "" {
		return ""
	}
	return "LIMIT " + limit
}
