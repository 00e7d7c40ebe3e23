package querybuilder

import (
	"sort"
	"strings"
)

// clauseIndent prefixes every item line inside a clause.
const clauseIndent = "  "

// itemSeparator puts each list item on its own indented line.
const itemSeparator = ",\n" + clauseIndent

// BuildSelect renders the select list. Items are stable-sorted by OrderKey
// so ties keep collection order. An empty list selects *.
func BuildSelect(items []SelectItem) string {
	if len(items) == 0 {
		return "*"
	}
	sorted := make([]SelectItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OrderKey < sorted[j].OrderKey
	})

	exprs := make([]string, len(sorted))
	for i, item := range sorted {
		exprs[i] = item.Expression
	}
	return strings.Join(exprs, itemSeparator)
}
