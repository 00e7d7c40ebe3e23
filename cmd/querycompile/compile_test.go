package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersSQL = `SELECT
  t1.name,
  COUNT(t2.id) AS order_count
FROM
  customers t1
  LEFT JOIN orders t2 ON t1.id = t2.customer_id,
  notes t3
GROUP BY
  t1.name
ORDER BY
  order_count DESC
LIMIT 5`

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCompileYAMLFile(t *testing.T) {
	out, err := runCLI(t, "", "compile", filepath.Join("testdata", "orders.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ordersSQL+"\n", out)
}

func TestCompileJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	doc := `{
		"nodes": [
			{"id": "a", "label": "users", "selectedColumns": ["id", "name"]},
			{"id": "b", "label": "posts"}
		],
		"edges": [
			{"id": "e1", "source": "a", "target": "b", "sourceHandle": "id", "targetHandle": "user_id"}
		],
		"limit": "10"
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	out, err := runCLI(t, "", "compile", path)
	require.NoError(t, err)
	assert.Equal(t, "SELECT\n  t1.id,\n  t1.name\nFROM\n  users t1\n  INNER JOIN posts t2 ON t1.id = t2.user_id\nLIMIT 10\n", out)
}

func TestCompileExplain(t *testing.T) {
	out, err := runCLI(t, "", "compile", filepath.Join("testdata", "orders.yaml"), "--explain")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, ordersSQL+"\n\n-- aliases\n"))
	assert.Contains(t, out, "--   t1 = customers (c)\n--   t2 = orders (o)\n--   t3 = notes (n)\n")
	assert.Contains(t, out, "--   1 emitted\n")
	assert.Contains(t, out, "aggregated, implicit GROUP BY applied")
	assert.Contains(t, out, "-- skipped edge e2 (o -> c): redundant\n")
	assert.Contains(t, out, "-- node n (notes) is not joined; listed with a comma\n")
}

func TestCompileExplainCleanGraph(t *testing.T) {
	out, err := runCLI(t, "nodes:\n  - id: a\n    label: users\n", "compile", "-", "--explain")
	require.NoError(t, err)
	assert.Contains(t, out, "SELECT\n  *\nFROM\n  users t1\n")
	assert.Contains(t, out, "-- every edge produced a join\n")
}

func TestCompileStdinJSONOutput(t *testing.T) {
	stdin := `{"nodes":[{"id":"a","label":"users"},{"id":"b","label":"posts"}],
		"edges":[{"id":"e9","source":"a","target":"zz","sourceHandle":"id","targetHandle":"id"}]}`

	out, err := runCLI(t, stdin, "compile", "-", "--format", "json", "-o", "json")
	require.NoError(t, err)

	var got jsonResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "SELECT\n  *\nFROM\n  users t1,\n  posts t2", got.SQL)
	assert.Equal(t, map[string]string{"a": "t1", "b": "t2"}, got.Aliases)
	assert.Equal(t, []jsonDroppedEdge{{ID: "e9", Reason: "unresolved"}}, got.DroppedEdges)
	assert.Equal(t, []string{"b"}, got.DisconnectedNodes)
	assert.Zero(t, got.JoinCount)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		stdin   string
		args    []string
		wantErr string
	}{
		{name: "missing argument", args: []string{"compile"}, wantErr: "accepts 1 arg"},
		{name: "missing file", args: []string{"compile", filepath.Join("testdata", "nope.yaml")}, wantErr: "nope.yaml"},
		{name: "unknown field", stdin: `{"nodes":[],"zoom":2}`, args: []string{"compile", "-", "--format", "json"}, wantErr: "zoom"},
		{name: "bad output", stdin: "nodes: []\n", args: []string{"compile", "-", "-o", "csv"}, wantErr: "unsupported output"},
		{name: "explain with json output", stdin: "nodes: []\n", args: []string{"compile", "-", "-o", "json", "--explain"}, wantErr: "--explain applies to -o sql only"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, tt.stdin, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
