package querygraph

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSelectedColumnsJSONPreservesOrder(t *testing.T) {
	var cols SelectedColumns
	require.NoError(t, json.Unmarshal([]byte(`{"zeta": true, "alpha": false, "mid": true}`), &cols))

	assert.Equal(t, SelectedColumns{
		{Column: "zeta", Selected: true},
		{Column: "alpha", Selected: false},
		{Column: "mid", Selected: true},
	}, cols)
	assert.Equal(t, []string{"zeta", "mid"}, cols.Checked())

	out, err := json.Marshal(cols)
	require.NoError(t, err)
	assert.JSONEq(t, `{"zeta":true,"alpha":false,"mid":true}`, string(out))
	assert.Equal(t, `{"zeta":true,"alpha":false,"mid":true}`, string(out))
}

func TestSelectedColumnsJSONListForm(t *testing.T) {
	var cols SelectedColumns
	require.NoError(t, json.Unmarshal([]byte(`[{"column":"b","selected":true},{"column":"a","selected":true}]`), &cols))
	assert.Equal(t, []string{"b", "a"}, cols.Checked())
}

func TestSelectedColumnsAcceptsPlainNames(t *testing.T) {
	want := SelectedColumns{
		{Column: "id", Selected: true},
		{Column: "name", Selected: true},
		{Column: "email", Selected: false},
	}

	t.Run("json", func(t *testing.T) {
		graph, err := Decode([]byte(`{"nodes":[{"id":"a","label":"users","selectedColumns":["id","name",{"column":"email","selected":false}]}]}`), FormatJSON)
		require.NoError(t, err)
		require.Len(t, graph.Nodes, 1)
		assert.Equal(t, want, graph.Nodes[0].SelectedColumns)
	})

	t.Run("yaml", func(t *testing.T) {
		doc := "nodes:\n  - id: a\n    label: users\n    selectedColumns: [id, name, {column: email, selected: false}]\n"
		graph, err := Decode([]byte(doc), FormatYAML)
		require.NoError(t, err)
		require.Len(t, graph.Nodes, 1)
		assert.Equal(t, want, graph.Nodes[0].SelectedColumns)
	})

	t.Run("json rejects other scalars", func(t *testing.T) {
		var cols SelectedColumns
		assert.Error(t, json.Unmarshal([]byte(`[42]`), &cols))
	})
}

func TestSelectedColumnsJSONDuplicateKeyKeepsFirstPosition(t *testing.T) {
	var cols SelectedColumns
	require.NoError(t, json.Unmarshal([]byte(`{"a": true, "b": true, "a": false}`), &cols))
	assert.Equal(t, SelectedColumns{
		{Column: "a", Selected: false},
		{Column: "b", Selected: true},
	}, cols)
}

func TestSelectedColumnsJSONRejectsScalars(t *testing.T) {
	var cols SelectedColumns
	require.Error(t, json.Unmarshal([]byte(`"id"`), &cols))
	require.Error(t, json.Unmarshal([]byte(`{"id": "yes"}`), &cols))
}

func TestSelectedColumnsYAMLPreservesOrder(t *testing.T) {
	var node TableNode
	doc := `
id: n1
label: users
selectedColumns:
  name: true
  id: true
  email: false
`
	require.NoError(t, yaml.Unmarshal([]byte(doc), &node))
	assert.Equal(t, []string{"name", "id"}, node.SelectedColumns.Checked())

	out, err := yaml.Marshal(node.SelectedColumns)
	require.NoError(t, err)
	assert.Equal(t, "name: true\nid: true\nemail: false\n", string(out))
}

func TestSelectedColumnsSetDoesNotMutate(t *testing.T) {
	original := Select("id")
	updated := original.Set("name", true)

	assert.Len(t, original, 1)
	assert.Equal(t, []string{"id", "name"}, updated.Checked())

	toggled := updated.Set("id", false)
	assert.Equal(t, []string{"id", "name"}, updated.Checked())
	assert.Equal(t, []string{"name"}, toggled.Checked())
}

func TestLimitTextAcceptsStringOrNumber(t *testing.T) {
	tests := []struct {
		name string
		json string
		want LimitText
	}{
		{name: "string", json: `{"nodes":[],"limit":" 25 "}`, want: " 25 "},
		{name: "number", json: `{"nodes":[],"limit":10}`, want: "10"},
		{name: "null", json: `{"nodes":[],"limit":null}`, want: ""},
		{name: "missing", json: `{"nodes":[]}`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			graph, err := Decode([]byte(tt.json), FormatJSON)
			require.NoError(t, err)
			assert.Equal(t, tt.want, graph.Limit)
		})
	}
}

func TestJoinTypeKeyword(t *testing.T) {
	assert.Equal(t, "INNER", JoinType("").Keyword())
	assert.Equal(t, "LEFT", JoinLeft.Keyword())
	assert.Equal(t, "FULL OUTER", JoinFullOuter.Keyword())
	assert.True(t, JoinType("").Valid())
	assert.True(t, JoinCross.Valid())
	assert.False(t, JoinType("SIDEWAYS").Valid())
}

func TestDecodeJSONGraph(t *testing.T) {
	doc := `{
		"nodes": [
			{"id": "n1", "label": "orders",
			 "columns": [{"name": "status", "type": "varchar"}, {"name": "total", "type": "decimal"}],
			 "selectedColumns": {"status": true, "total": true},
			 "columnAggregations": {"total": {"function": "SUM", "alias": "total_sum", "order": 2}}}
		],
		"edges": [],
		"filters": [{"id": "f1", "column": "t1.status", "operator": "=", "value": "'completed'", "logicalOperator": "AND"}],
		"orderBy": [{"id": "o1", "column": "total_sum", "direction": "DESC"}],
		"limit": "10"
	}`

	graph, err := Decode([]byte(doc), FormatJSON)
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 1)

	node := graph.Nodes[0]
	assert.Equal(t, []string{"status", "total"}, node.SelectedColumns.Checked())
	agg := node.ColumnAggregations["total"]
	assert.Equal(t, "SUM", agg.Function)
	require.NotNil(t, agg.Order)
	assert.Equal(t, 2, *agg.Order)
	assert.Equal(t, Descending, graph.OrderBy[0].Direction)
	assert.Equal(t, LogicalAnd, graph.Filters[0].LogicalOperator)
	assert.Equal(t, LimitText("10"), graph.Limit)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode([]byte(`{"nodes": [], "bogus": 1}`), FormatJSON)
	require.Error(t, err)

	_, err = Decode([]byte("nodes: []\nbogus: 1\n"), FormatYAML)
	require.Error(t, err)
}

func TestLoadFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.yaml")
	doc := `
nodes:
  - id: a
    label: users
    selectedColumns:
      id: true
  - id: b
    label: posts
    selectedColumns:
      - column: title
        selected: true
edges:
  - id: e1
    source: a
    target: b
    sourceHandle: id
    targetHandle: user_id
    joinType: LEFT
limit: 5
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	graph, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 2)
	assert.Equal(t, []string{"title"}, graph.Nodes[1].SelectedColumns.Checked())
	assert.Equal(t, JoinLeft, graph.Edges[0].JoinType)
	assert.Equal(t, LimitText("5"), graph.Limit)

	node, ok := graph.NodeByID("b")
	require.True(t, ok)
	assert.Equal(t, "posts", node.Label)
	_, ok = graph.NodeByID("missing")
	assert.False(t, ok)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatJSON, FormatFromPath("graph.JSON"))
	assert.Equal(t, FormatYAML, FormatFromPath("graph.yml"))
	assert.Equal(t, FormatYAML, FormatFromPath("graph"))
}
