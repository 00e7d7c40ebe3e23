package querybuilder

import (
	"strconv"

	"querycanvas/internal/querygraph"
)

// AliasPrefix is prepended to the 1-based node position to form a table alias.
const AliasPrefix = "t"

// AssignAliases maps each node id to t1..tN by its position in nodes.
// Reordering nodes reorders aliases.
func AssignAliases(nodes []querygraph.TableNode) map[string]string {
	aliases := make(map[string]string, len(nodes))
	for i, node := range nodes {
		aliases[node.ID] = AliasPrefix + strconv.Itoa(i+1)
	}
	return aliases
}
