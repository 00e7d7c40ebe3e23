package api

import (
	"fmt"

	"github.com/graphql-go/graphql"

	"querycanvas/internal/introspection"
	"querycanvas/internal/querybuilder"
	"querycanvas/internal/querygraph"
)

// typeSet holds the GraphQL types of one schema.
type typeSet struct {
	scalars scalarSet

	joinType        *graphql.Enum
	logicalOperator *graphql.Enum
	orderDirection  *graphql.Enum

	graphInput   *graphql.InputObject
	nodeRefInput *graphql.InputObject
	edgeInput    *graphql.InputObject

	table          *graphql.Object
	joinEdge       *graphql.Object
	joinSuggestion *graphql.Object
	compiledQuery  *graphql.Object
	queryResult    *graphql.Object
}

// BuildSchema constructs the GraphQL schema served at /graphql. The schema is
// static; table metadata is read from the service on every request.
func BuildSchema(svc *Service) (graphql.Schema, error) {
	if svc == nil {
		return graphql.Schema{}, fmt.Errorf("schema requires a service")
	}
	types := newTypeSet()

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"compileQuery": &graphql.Field{
				Type:        graphql.NewNonNull(types.compiledQuery),
				Description: "Compile a canvas graph into SQL.",
				Args: graphql.FieldConfigArgument{
					"input": &graphql.ArgumentConfig{Type: graphql.NewNonNull(types.graphInput)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					graph, err := graphFromInput(p.Args["input"])
					if err != nil {
						return nil, err
					}
					return newCompiledView(graph, svc.Compile(p.Context, graph)), nil
				},
			},
			"previewQuery": &graphql.Field{
				Type:        graphql.NewNonNull(types.queryResult),
				Description: "Compile a canvas graph and run it against the database.",
				Args: graphql.FieldConfigArgument{
					"input":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(types.graphInput)},
					"page":     &graphql.ArgumentConfig{Type: types.scalars.positiveInt},
					"pageSize": &graphql.ArgumentConfig{Type: types.scalars.nonNegativeInt},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					graph, err := graphFromInput(p.Args["input"])
					if err != nil {
						return nil, err
					}
					return svc.Preview(p.Context, graph, optionalInt(p.Args, "page"), optionalInt(p.Args, "pageSize"))
				},
			},
			"previewEnabled": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return svc.PreviewEnabled(), nil
				},
			},
			"schemaSnapshot": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(types.table))),
				Description: "Tables visible to the canvas.",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return svc.Tables()
				},
			},
			"table": &graphql.Field{
				Type: types.table,
				Args: graphql.FieldConfigArgument{
					"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					tables, err := svc.Tables()
					if err != nil {
						return nil, err
					}
					name, _ := p.Args["name"].(string)
					schema := introspection.Schema{Tables: tables}
					if table, ok := schema.Table(name); ok {
						return table, nil
					}
					return nil, nil
				},
			},
			"tableDDL": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.String),
				Description: "CREATE statement of a table. Not available for postgres.",
				Args: graphql.FieldConfigArgument{
					"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					name, _ := p.Args["name"].(string)
					return svc.TableDDL(p.Context, name)
				},
			},
			"suggestJoins": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(types.joinSuggestion))),
				Description: "Propose join edges between canvas nodes from foreign keys and column names.",
				Args: graphql.FieldConfigArgument{
					"nodes": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(types.nodeRefInput)))},
					"edges": &graphql.ArgumentConfig{Type: graphql.NewList(graphql.NewNonNull(types.edgeInput))},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					nodes, err := nodesFromInput(p.Args["nodes"])
					if err != nil {
						return nil, err
					}
					suggestions, err := svc.SuggestJoins(nodes, edgesFromInput(p.Args["edges"]))
					if err != nil {
						return nil, err
					}
					if suggestions == nil {
						suggestions = []introspection.JoinSuggestion{}
					}
					return suggestions, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: query})
}

func optionalInt(args map[string]interface{}, key string) *int {
	n, ok := args[key].(int)
	if !ok {
		return nil
	}
	return &n
}

// compiledView is the CompiledQuery payload: the compiler result with aliases
// listed in node order.
type compiledView struct {
	SQL               string
	Aliases           []aliasEntry
	HasAggregation    bool
	JoinCount         int
	DroppedEdges      []querybuilder.DroppedEdge
	DisconnectedNodes []string
}

type aliasEntry struct {
	NodeID string
	Label  string
	Alias  string
}

func newCompiledView(graph querygraph.Graph, result querybuilder.Result) compiledView {
	view := compiledView{
		SQL:               result.SQL,
		Aliases:           []aliasEntry{},
		HasAggregation:    result.HasAggregation,
		JoinCount:         result.JoinCount,
		DroppedEdges:      result.DroppedEdges,
		DisconnectedNodes: result.DisconnectedNodes,
	}
	seen := make(map[string]bool, len(graph.Nodes))
	for _, node := range graph.Nodes {
		alias, ok := result.Aliases[node.ID]
		if !ok || seen[node.ID] {
			continue
		}
		seen[node.ID] = true
		view.Aliases = append(view.Aliases, aliasEntry{NodeID: node.ID, Label: node.Label, Alias: alias})
	}
	if view.DroppedEdges == nil {
		view.DroppedEdges = []querybuilder.DroppedEdge{}
	}
	if view.DisconnectedNodes == nil {
		view.DisconnectedNodes = []string{}
	}
	return view
}

func newTypeSet() *typeSet {
	t := &typeSet{scalars: newScalarSet()}

	t.joinType = graphql.NewEnum(graphql.EnumConfig{
		Name: "JoinType",
		Values: graphql.EnumValueConfigMap{
			"INNER":      &graphql.EnumValueConfig{Value: string(querygraph.JoinInner)},
			"LEFT":       &graphql.EnumValueConfig{Value: string(querygraph.JoinLeft)},
			"RIGHT":      &graphql.EnumValueConfig{Value: string(querygraph.JoinRight)},
			"FULL_OUTER": &graphql.EnumValueConfig{Value: string(querygraph.JoinFullOuter)},
			"CROSS":      &graphql.EnumValueConfig{Value: string(querygraph.JoinCross)},
		},
	})
	t.logicalOperator = graphql.NewEnum(graphql.EnumConfig{
		Name: "LogicalOperator",
		Values: graphql.EnumValueConfigMap{
			"AND": &graphql.EnumValueConfig{Value: string(querygraph.LogicalAnd)},
			"OR":  &graphql.EnumValueConfig{Value: string(querygraph.LogicalOr)},
		},
	})
	t.orderDirection = graphql.NewEnum(graphql.EnumConfig{
		Name: "OrderDirection",
		Values: graphql.EnumValueConfigMap{
			"ASC":  &graphql.EnumValueConfig{Value: string(querygraph.Ascending)},
			"DESC": &graphql.EnumValueConfig{Value: string(querygraph.Descending)},
		},
	})

	t.buildInputs()
	t.buildOutputs()
	return t
}

func (t *typeSet) buildInputs() {
	nonNullString := graphql.NewNonNull(graphql.String)

	columnInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "ColumnInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"name": &graphql.InputObjectFieldConfig{Type: nonNullString},
			"type": &graphql.InputObjectFieldConfig{Type: graphql.String},
		},
	})
	selectionInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:        "ColumnSelectionInput",
		Description: "One column checkbox. List order is the select order.",
		Fields: graphql.InputObjectConfigFieldMap{
			"column":   &graphql.InputObjectFieldConfig{Type: nonNullString},
			"selected": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Boolean)},
		},
	})
	aggregationInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "ColumnAggregationInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"column":   &graphql.InputObjectFieldConfig{Type: nonNullString},
			"function": &graphql.InputObjectFieldConfig{Type: nonNullString},
			"alias":    &graphql.InputObjectFieldConfig{Type: graphql.String},
			"order":    &graphql.InputObjectFieldConfig{Type: graphql.Int},
		},
	})
	aliasInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "ColumnAliasInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"column": &graphql.InputObjectFieldConfig{Type: nonNullString},
			"alias":  &graphql.InputObjectFieldConfig{Type: graphql.String},
			"order":  &graphql.InputObjectFieldConfig{Type: graphql.Int},
		},
	})
	nodeInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "TableNodeInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"id":                 &graphql.InputObjectFieldConfig{Type: nonNullString},
			"label":              &graphql.InputObjectFieldConfig{Type: nonNullString},
			"columns":            &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(columnInput))},
			"selectedColumns":    &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(selectionInput))},
			"columnAggregations": &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(aggregationInput))},
			"columnAliases":      &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(aliasInput))},
		},
	})
	t.nodeRefInput = graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "NodeRefInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"id":    &graphql.InputObjectFieldConfig{Type: nonNullString},
			"label": &graphql.InputObjectFieldConfig{Type: nonNullString},
		},
	})
	t.edgeInput = graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "JoinEdgeInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"id":           &graphql.InputObjectFieldConfig{Type: nonNullString},
			"source":       &graphql.InputObjectFieldConfig{Type: nonNullString},
			"target":       &graphql.InputObjectFieldConfig{Type: nonNullString},
			"sourceHandle": &graphql.InputObjectFieldConfig{Type: nonNullString},
			"targetHandle": &graphql.InputObjectFieldConfig{Type: nonNullString},
			"joinType":     &graphql.InputObjectFieldConfig{Type: t.joinType},
		},
	})
	filterInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "FilterConditionInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"id":              &graphql.InputObjectFieldConfig{Type: graphql.String},
			"column":          &graphql.InputObjectFieldConfig{Type: graphql.String},
			"operator":        &graphql.InputObjectFieldConfig{Type: graphql.String},
			"value":           &graphql.InputObjectFieldConfig{Type: graphql.String},
			"logicalOperator": &graphql.InputObjectFieldConfig{Type: t.logicalOperator},
			"isAggregate":     &graphql.InputObjectFieldConfig{Type: graphql.Boolean},
		},
	})
	orderInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "OrderSpecInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"id":        &graphql.InputObjectFieldConfig{Type: graphql.String},
			"column":    &graphql.InputObjectFieldConfig{Type: graphql.String},
			"direction": &graphql.InputObjectFieldConfig{Type: t.orderDirection},
		},
	})
	t.graphInput = graphql.NewInputObject(graphql.InputObjectConfig{
		Name:        "QueryGraphInput",
		Description: "A canvas graph: nodes, join edges, filters and ordering.",
		Fields: graphql.InputObjectConfigFieldMap{
			"nodes":   &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(nodeInput)))},
			"edges":   &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(t.edgeInput))},
			"filters": &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(filterInput))},
			"orderBy": &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(orderInput))},
			"groupBy": &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(graphql.String))},
			"limit":   &graphql.InputObjectFieldConfig{Type: graphql.String},
		},
	})
}

func (t *typeSet) buildOutputs() {
	nonNullString := graphql.NewNonNull(graphql.String)
	nonNullBool := graphql.NewNonNull(graphql.Boolean)
	stringList := graphql.NewNonNull(graphql.NewList(nonNullString))

	column := graphql.NewObject(graphql.ObjectConfig{
		Name: "Column",
		Fields: graphql.Fields{
			"name":            &graphql.Field{Type: nonNullString},
			"dataType":        &graphql.Field{Type: nonNullString},
			"isPrimaryKey":    &graphql.Field{Type: nonNullBool},
			"isNullable":      &graphql.Field{Type: nonNullBool},
			"isAutoIncrement": &graphql.Field{Type: nonNullBool},
			"hasDefault":      &graphql.Field{Type: nonNullBool},
			"columnDefault": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					col, _ := p.Source.(introspection.Column)
					if !col.HasDefault {
						return nil, nil
					}
					return col.ColumnDefault, nil
				},
			},
		},
	})
	foreignKey := graphql.NewObject(graphql.ObjectConfig{
		Name: "ForeignKey",
		Fields: graphql.Fields{
			"constraintName":    &graphql.Field{Type: nonNullString},
			"referencedTable":   &graphql.Field{Type: nonNullString},
			"columnNames":       &graphql.Field{Type: stringList},
			"referencedColumns": &graphql.Field{Type: stringList},
			"onUpdate":          &graphql.Field{Type: graphql.String},
			"onDelete":          &graphql.Field{Type: graphql.String},
		},
	})
	t.table = graphql.NewObject(graphql.ObjectConfig{
		Name: "Table",
		Fields: graphql.Fields{
			"name":   &graphql.Field{Type: nonNullString},
			"isView": &graphql.Field{Type: nonNullBool},
			"columns": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(column))),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					table := tableSource(p.Source)
					if table.Columns == nil {
						return []introspection.Column{}, nil
					}
					return table.Columns, nil
				},
			},
			"primaryKey": &graphql.Field{
				Type: stringList,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					names := []string{}
					for _, col := range introspection.PrimaryKeyColumns(tableSource(p.Source)) {
						names = append(names, col.Name)
					}
					return names, nil
				},
			},
			"foreignKeys": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(foreignKey))),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					constraints := introspection.ForeignKeyConstraints(tableSource(p.Source))
					if constraints == nil {
						constraints = []introspection.ForeignKeyConstraint{}
					}
					return constraints, nil
				},
			},
		},
	})

	t.joinEdge = graphql.NewObject(graphql.ObjectConfig{
		Name: "JoinEdge",
		Fields: graphql.Fields{
			"id":           &graphql.Field{Type: nonNullString},
			"source":       &graphql.Field{Type: nonNullString},
			"target":       &graphql.Field{Type: nonNullString},
			"sourceHandle": &graphql.Field{Type: nonNullString},
			"targetHandle": &graphql.Field{Type: nonNullString},
			"joinType": &graphql.Field{
				Type: graphql.NewNonNull(t.joinType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					edge, _ := p.Source.(querygraph.JoinEdge)
					return edge.JoinType.Keyword(), nil
				},
			},
		},
	})
	t.joinSuggestion = graphql.NewObject(graphql.ObjectConfig{
		Name: "JoinSuggestion",
		Fields: graphql.Fields{
			"edge": &graphql.Field{Type: graphql.NewNonNull(t.joinEdge)},
			"source": &graphql.Field{
				Type:        nonNullString,
				Description: "foreign_key or naming.",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return string(p.Source.(introspection.JoinSuggestion).Source), nil
				},
			},
			"constraint": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if name := p.Source.(introspection.JoinSuggestion).Constraint; name != "" {
						return name, nil
					}
					return nil, nil
				},
			},
		},
	})

	droppedEdge := graphql.NewObject(graphql.ObjectConfig{
		Name: "DroppedEdge",
		Fields: graphql.Fields{
			"edge": &graphql.Field{Type: graphql.NewNonNull(t.joinEdge)},
			"reason": &graphql.Field{
				Type:        nonNullString,
				Description: "redundant, unresolved or unreachable.",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return string(p.Source.(querybuilder.DroppedEdge).Reason), nil
				},
			},
		},
	})
	alias := graphql.NewObject(graphql.ObjectConfig{
		Name: "TableAlias",
		Fields: graphql.Fields{
			"nodeId": &graphql.Field{Type: nonNullString},
			"label":  &graphql.Field{Type: nonNullString},
			"alias":  &graphql.Field{Type: nonNullString},
		},
	})
	t.compiledQuery = graphql.NewObject(graphql.ObjectConfig{
		Name: "CompiledQuery",
		Fields: graphql.Fields{
			"sql":               &graphql.Field{Type: nonNullString},
			"aliases":           &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(alias)))},
			"hasAggregation":    &graphql.Field{Type: nonNullBool},
			"joinCount":         &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"droppedEdges":      &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(droppedEdge)))},
			"disconnectedNodes": &graphql.Field{Type: stringList},
		},
	})

	pagination := graphql.NewObject(graphql.ObjectConfig{
		Name: "Pagination",
		Fields: graphql.Fields{
			"page":      &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"pageSize":  &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"totalRows": &graphql.Field{Type: graphql.NewNonNull(t.scalars.long)},
		},
	})
	t.queryResult = graphql.NewObject(graphql.ObjectConfig{
		Name: "QueryResult",
		Fields: graphql.Fields{
			"sql": &graphql.Field{
				Type: nonNullString,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source.(*PreviewResult).SQL, nil
				},
			},
			"columns": &graphql.Field{
				Type: stringList,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source.(*PreviewResult).Result.Columns, nil
				},
			},
			"rows": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.NewList(t.scalars.cell)))),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source.(*PreviewResult).Result.Rows, nil
				},
			},
			"truncated": &graphql.Field{
				Type: nonNullBool,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source.(*PreviewResult).Result.Truncated, nil
				},
			},
			"pagination": &graphql.Field{
				Type: pagination,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if page := p.Source.(*PreviewResult).Result.Pagination; page != nil {
						return page, nil
					}
					return nil, nil
				},
			},
		},
	})
}

func tableSource(source interface{}) introspection.Table {
	switch v := source.(type) {
	case *introspection.Table:
		return *v
	case introspection.Table:
		return v
	default:
		return introspection.Table{}
	}
}
