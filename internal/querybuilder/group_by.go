package querybuilder

import "strings"

// BuildGroupBy renders the GROUP BY clause. When an aggregate is selected
// every plain selected column is grouped, followed by manual additions not
// already present. Without aggregation the manual list is used as given.
func BuildGroupBy(hasAggregation bool, nonAggregated, manual []string) string {
	var columns []string
	switch {
	case hasAggregation && len(nonAggregated) > 0:
		columns = mergeColumns(nonAggregated, manual)
	case len(manual) > 0:
		columns = manual
	default:
		return ""
	}
	return "GROUP BY\n" + clauseIndent + strings.Join(columns, itemSeparator)
}

// mergeColumns returns the union of base and extra, first occurrence wins.
func mergeColumns(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	merged := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, col := range list {
			if _, ok := seen[col]; ok {
				continue
			}
			seen[col] = struct{}{}
			merged = append(merged, col)
		}
	}
	return merged
}
