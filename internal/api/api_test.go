package api

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"querycanvas/internal/dbexec"
	"querycanvas/internal/introspection"
	"querycanvas/internal/querygraph"
	"querycanvas/internal/sqlutil"
)

type staticSchema struct {
	schema *introspection.Schema
}

func (s staticSchema) Schema() *introspection.Schema {
	return s.schema
}

func openCanvasDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	stmts := []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, country TEXT DEFAULT 'NZ')`,
		`CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL REFERENCES users(id), title TEXT)`,
		`INSERT INTO users (id, name) VALUES (1, 'ada'), (2, 'bob')`,
		`INSERT INTO posts (id, user_id, title) VALUES (1, 1, 'hello'), (2, 1, 'again'), (3, 2, 'hi')`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

type testEnv struct {
	db     *sql.DB
	svc    *Service
	schema graphql.Schema
}

func newTestEnv(t *testing.T, withPreview bool) testEnv {
	t.Helper()
	db := openCanvasDB(t)
	snapshot, err := introspection.Snapshot(context.Background(), db, sqlutil.SQLite)
	require.NoError(t, err)

	cfg := Config{
		Schema:          staticSchema{schema: snapshot},
		DB:              db,
		Dialect:         sqlutil.SQLite,
		DefaultPageSize: 0,
		MaxPageSize:     50,
	}
	if withPreview {
		cfg.Previewer = dbexec.NewPreviewer(dbexec.NewStandardExecutor(db, 0), 100)
	}
	svc, err := New(cfg)
	require.NoError(t, err)

	schema, err := BuildSchema(svc)
	require.NoError(t, err)
	return testEnv{db: db, svc: svc, schema: schema}
}

func (e testEnv) do(t *testing.T, query string, vars map[string]interface{}) *graphql.Result {
	t.Helper()
	return graphql.Do(graphql.Params{
		Schema:         e.schema,
		RequestString:  query,
		VariableValues: vars,
		Context:        context.Background(),
	})
}

func dataField(t *testing.T, result *graphql.Result, field string) map[string]interface{} {
	t.Helper()
	require.Empty(t, result.Errors)
	data, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	value, ok := data[field].(map[string]interface{})
	require.True(t, ok, "field %s missing", field)
	return value
}

const usersPostsGraph = `{
	nodes: [
		{id: "u", label: "users", selectedColumns: [{column: "id", selected: true}, {column: "name", selected: true}]},
		{id: "p", label: "posts", selectedColumns: [{column: "title", selected: true}]}
	],
	edges: [
		{id: "e1", source: "u", target: "p", sourceHandle: "id", targetHandle: "user_id"},
		{id: "e2", source: "p", target: "u", sourceHandle: "user_id", targetHandle: "id", joinType: LEFT}
	],
	orderBy: [{column: "t2.title", direction: ASC}]
}`

func TestCompileQuery(t *testing.T) {
	env := newTestEnv(t, false)

	result := env.do(t, `{ compileQuery(input: `+usersPostsGraph+`) {
		sql
		joinCount
		hasAggregation
		aliases { nodeId label alias }
		droppedEdges { reason edge { id joinType } }
		disconnectedNodes
	} }`, nil)
	compiled := dataField(t, result, "compileQuery")

	assert.Equal(t, strings.Join([]string{
		"SELECT",
		"  t1.id,",
		"  t1.name,",
		"  t2.title",
		"FROM",
		"  users t1",
		"  INNER JOIN posts t2 ON t1.id = t2.user_id",
		"ORDER BY",
		"  t2.title ASC",
	}, "\n"), compiled["sql"])
	assert.Equal(t, 1, compiled["joinCount"])
	assert.Equal(t, false, compiled["hasAggregation"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"nodeId": "u", "label": "users", "alias": "t1"},
		map[string]interface{}{"nodeId": "p", "label": "posts", "alias": "t2"},
	}, compiled["aliases"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"reason": "redundant", "edge": map[string]interface{}{"id": "e2", "joinType": "LEFT"}},
	}, compiled["droppedEdges"])
	assert.Equal(t, []interface{}{}, compiled["disconnectedNodes"])
}

func TestCompileQueryWithVariables(t *testing.T) {
	env := newTestEnv(t, false)

	vars := map[string]interface{}{
		"input": map[string]interface{}{
			"nodes": []interface{}{
				map[string]interface{}{
					"id":    "a",
					"label": "users",
					"selectedColumns": []interface{}{
						map[string]interface{}{"column": "name", "selected": true},
						map[string]interface{}{"column": "country", "selected": true},
						map[string]interface{}{"column": "id", "selected": false},
					},
					"columnAliases": []interface{}{
						map[string]interface{}{"column": "country", "alias": "nation", "order": 0},
					},
				},
				map[string]interface{}{
					"id":    "b",
					"label": "posts",
					"selectedColumns": []interface{}{
						map[string]interface{}{"column": "id", "selected": true},
					},
					"columnAggregations": []interface{}{
						map[string]interface{}{"column": "id", "function": "COUNT", "alias": "post_count"},
					},
				},
			},
			"edges": []interface{}{
				map[string]interface{}{"id": "e1", "source": "a", "target": "b", "sourceHandle": "id", "targetHandle": "user_id", "joinType": "FULL_OUTER"},
			},
			"filters": []interface{}{
				map[string]interface{}{"column": "t1.country", "operator": "=", "value": "'NZ'"},
				map[string]interface{}{"column": "t1.name", "operator": "<>", "value": "''", "logicalOperator": "OR"},
				map[string]interface{}{"column": "COUNT(t2.id)", "operator": ">", "value": "1", "isAggregate": true},
			},
			"limit": "5",
		},
	}

	result := env.do(t, `query($input: QueryGraphInput!) { compileQuery(input: $input) { sql } }`, vars)
	compiled := dataField(t, result, "compileQuery")

	assert.Equal(t, strings.Join([]string{
		"SELECT",
		"  t1.country AS nation,",
		"  t1.name,",
		"  COUNT(t2.id) AS post_count",
		"FROM",
		"  users t1",
		"  FULL OUTER JOIN posts t2 ON t1.id = t2.user_id",
		"WHERE",
		"  t1.country = 'NZ'",
		"  OR t1.name <> ''",
		"GROUP BY",
		"  t1.name,",
		"  t1.country",
		"HAVING",
		"  COUNT(t2.id) > 1",
		"LIMIT 5",
	}, "\n"), compiled["sql"])
}

func TestCompileQueryEmptyGraph(t *testing.T) {
	env := newTestEnv(t, false)

	result := env.do(t, `{ compileQuery(input: {nodes: []}) { sql joinCount aliases { alias } } }`, nil)
	compiled := dataField(t, result, "compileQuery")
	assert.Equal(t, "", compiled["sql"])
	assert.Equal(t, 0, compiled["joinCount"])
	assert.Equal(t, []interface{}{}, compiled["aliases"])
}

func TestPreviewQueryPaginates(t *testing.T) {
	env := newTestEnv(t, true)

	result := env.do(t, `{ previewQuery(input: `+usersPostsGraph+`, page: 2, pageSize: 2) {
		sql
		columns
		rows
		truncated
		pagination { page pageSize totalRows }
	} }`, nil)
	preview := dataField(t, result, "previewQuery")

	assert.Contains(t, preview["sql"], "INNER JOIN posts t2")
	assert.Equal(t, []interface{}{"id", "name", "title"}, preview["columns"])
	assert.Equal(t, []interface{}{
		[]interface{}{int64(2), "bob", "hi"},
	}, preview["rows"])
	assert.Equal(t, true, preview["truncated"])
	assert.Equal(t, map[string]interface{}{"page": 2, "pageSize": 2, "totalRows": int64(3)}, preview["pagination"])
}

func TestPreviewQueryStreamsWithoutPageSize(t *testing.T) {
	env := newTestEnv(t, true)

	result := env.do(t, `{ previewQuery(input: {nodes: [{id: "u", label: "users", selectedColumns: [{column: "name", selected: true}]}], orderBy: [{column: "t1.name", direction: DESC}]}) {
		rows
		truncated
		pagination { page }
	} }`, nil)
	preview := dataField(t, result, "previewQuery")

	assert.Equal(t, []interface{}{[]interface{}{"bob"}, []interface{}{"ada"}}, preview["rows"])
	assert.Equal(t, false, preview["truncated"])
	assert.Nil(t, preview["pagination"])
}

func TestPreviewQueryClampsPageSize(t *testing.T) {
	env := newTestEnv(t, true)

	size := 500
	preview, err := env.svc.Preview(context.Background(), querygraph.Graph{
		Nodes: []querygraph.TableNode{{ID: "u", Label: "users", SelectedColumns: querygraph.Select("id")}},
	}, nil, &size)
	require.NoError(t, err)
	require.NotNil(t, preview.Result.Pagination)
	assert.Equal(t, 50, preview.Result.Pagination.PageSize)
	assert.Equal(t, int64(2), preview.Result.Pagination.TotalRows)
}

func TestPreviewQueryErrors(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, false)
		result := env.do(t, `{ previewQuery(input: {nodes: [{id: "u", label: "users"}]}) { sql } }`, nil)
		require.NotEmpty(t, result.Errors)
		assert.Contains(t, result.Errors[0].Message, ErrPreviewDisabled.Error())
	})

	t.Run("empty graph", func(t *testing.T) {
		env := newTestEnv(t, true)
		_, err := env.svc.Preview(context.Background(), querygraph.Graph{}, nil, nil)
		assert.ErrorIs(t, err, ErrEmptyGraph)
	})

	t.Run("database error", func(t *testing.T) {
		env := newTestEnv(t, true)
		result := env.do(t, `{ previewQuery(input: {nodes: [{id: "x", label: "missing_table"}]}) { sql } }`, nil)
		require.NotEmpty(t, result.Errors)
		assert.Contains(t, result.Errors[0].Message, "missing_table")
	})

	t.Run("negative page size", func(t *testing.T) {
		env := newTestEnv(t, true)
		result := env.do(t, `{ previewQuery(input: {nodes: [{id: "u", label: "users"}]}, pageSize: -1) { sql } }`, nil)
		require.NotEmpty(t, result.Errors)
	})
}

func TestSchemaSnapshot(t *testing.T) {
	env := newTestEnv(t, false)

	result := env.do(t, `{ schemaSnapshot {
		name
		isView
		primaryKey
		columns { name dataType isPrimaryKey isNullable hasDefault columnDefault }
		foreignKeys { referencedTable columnNames referencedColumns }
	} }`, nil)
	require.Empty(t, result.Errors)
	tables := result.Data.(map[string]interface{})["schemaSnapshot"].([]interface{})
	require.Len(t, tables, 2)

	posts := tables[0].(map[string]interface{})
	assert.Equal(t, "posts", posts["name"])
	assert.Equal(t, []interface{}{"id"}, posts["primaryKey"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{
			"referencedTable":   "users",
			"columnNames":       []interface{}{"user_id"},
			"referencedColumns": []interface{}{"id"},
		},
	}, posts["foreignKeys"])

	users := tables[1].(map[string]interface{})
	assert.Equal(t, []interface{}{}, users["foreignKeys"])
	columns := users["columns"].([]interface{})
	require.Len(t, columns, 3)
	assert.Nil(t, columns[1].(map[string]interface{})["columnDefault"])
	assert.Equal(t, "'NZ'", columns[2].(map[string]interface{})["columnDefault"])
}

func TestTableLookupAndDDL(t *testing.T) {
	env := newTestEnv(t, false)

	result := env.do(t, `{ table(name: "USERS") { name } tableDDL(name: "users") }`, nil)
	require.Empty(t, result.Errors)
	data := result.Data.(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"name": "users"}, data["table"])
	assert.Equal(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, country TEXT DEFAULT 'NZ');", data["tableDDL"])

	result = env.do(t, `{ table(name: "ghost") { name } }`, nil)
	require.Empty(t, result.Errors)
	assert.Nil(t, result.Data.(map[string]interface{})["table"])

	_, err := env.svc.TableDDL(context.Background(), "ghost")
	assert.ErrorIs(t, err, introspection.ErrTableNotFound)
}

func TestSuggestJoins(t *testing.T) {
	env := newTestEnv(t, false)

	result := env.do(t, `{ suggestJoins(nodes: [{id: "u", label: "users"}, {id: "p", label: "posts"}]) {
		source
		edge { source target sourceHandle targetHandle joinType }
	} }`, nil)
	require.Empty(t, result.Errors)
	suggestions := result.Data.(map[string]interface{})["suggestJoins"].([]interface{})
	require.Len(t, suggestions, 1)
	assert.Equal(t, map[string]interface{}{
		"source": "foreign_key",
		"edge": map[string]interface{}{
			"source":       "p",
			"target":       "u",
			"sourceHandle": "user_id",
			"targetHandle": "id",
			"joinType":     "INNER",
		},
	}, suggestions[0])

	result = env.do(t, `{ suggestJoins(
		nodes: [{id: "u", label: "users"}, {id: "p", label: "posts"}],
		edges: [{id: "e1", source: "u", target: "p", sourceHandle: "id", targetHandle: "user_id"}]
	) { source } }`, nil)
	require.Empty(t, result.Errors)
	assert.Equal(t, []interface{}{}, result.Data.(map[string]interface{})["suggestJoins"])
}

func TestSchemaUnavailable(t *testing.T) {
	svc, err := New(Config{Schema: staticSchema{}})
	require.NoError(t, err)

	_, err = svc.Tables()
	assert.ErrorIs(t, err, ErrSchemaUnavailable)
	_, err = svc.TableDDL(context.Background(), "users")
	assert.ErrorIs(t, err, ErrSchemaUnavailable)
	_, err = svc.SuggestJoins(nil, nil)
	assert.ErrorIs(t, err, ErrSchemaUnavailable)
	assert.False(t, svc.PreviewEnabled())

	_, err = New(Config{})
	assert.Error(t, err)
}

func TestGraphFromInputRejectsAggregationWithoutColumn(t *testing.T) {
	_, err := graphFromInput(map[string]interface{}{
		"nodes": []interface{}{
			map[string]interface{}{
				"id":                 "a",
				"label":              "users",
				"columnAggregations": []interface{}{map[string]interface{}{"function": "SUM"}},
			},
		},
	})
	require.Error(t, err)

	_, err = graphFromInput("not an object")
	require.Error(t, err)
}
