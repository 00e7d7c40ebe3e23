// Package querygraph defines the value types a visual query canvas hands to the
// SQL compiler: table nodes, join edges, filter conditions and ordering specs.
//
// All values are snapshots. Nothing in this package or in the compiler mutates
// a Graph once it has been decoded.
package querygraph

import "strings"

// Column describes a column available on a table node.
type Column struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Aggregation is the aggregate function applied to a selected column.
type Aggregation struct {
	Function string `json:"function" yaml:"function"`
	Alias    string `json:"alias,omitempty" yaml:"alias,omitempty"`
	Order    *int   `json:"order,omitempty" yaml:"order,omitempty"`
}

// ColumnAlias is the output alias and display order of a plain selected column.
type ColumnAlias struct {
	Alias string `json:"alias,omitempty" yaml:"alias,omitempty"`
	Order *int   `json:"order,omitempty" yaml:"order,omitempty"`
}

// TableNode is a table placed on the canvas.
type TableNode struct {
	ID                 string                 `json:"id" yaml:"id"`
	Label              string                 `json:"label" yaml:"label"`
	Columns            []Column               `json:"columns,omitempty" yaml:"columns,omitempty"`
	SelectedColumns    SelectedColumns        `json:"selectedColumns,omitempty" yaml:"selectedColumns,omitempty"`
	ColumnAggregations map[string]Aggregation `json:"columnAggregations,omitempty" yaml:"columnAggregations,omitempty"`
	ColumnAliases      map[string]ColumnAlias `json:"columnAliases,omitempty" yaml:"columnAliases,omitempty"`
}

// JoinType is the SQL join keyword prefix of an edge.
type JoinType string

const (
	JoinInner     JoinType = "INNER"
	JoinLeft      JoinType = "LEFT"
	JoinRight     JoinType = "RIGHT"
	JoinFullOuter JoinType = "FULL OUTER"
	JoinCross     JoinType = "CROSS"
)

// JoinTypes lists the join types the canvas offers, in display order.
var JoinTypes = []JoinType{JoinInner, JoinLeft, JoinRight, JoinFullOuter, JoinCross}

// Keyword returns the text emitted before JOIN. An unset type is INNER.
func (j JoinType) Keyword() string {
	if strings.TrimSpace(string(j)) == "" {
		return string(JoinInner)
	}
	return string(j)
}

// Valid reports whether j is one of the known join types or unset.
func (j JoinType) Valid() bool {
	if j == "" {
		return true
	}
	for _, known := range JoinTypes {
		if j == known {
			return true
		}
	}
	return false
}

// JoinEdge connects two nodes through a column on each side.
type JoinEdge struct {
	ID           string   `json:"id" yaml:"id"`
	Source       string   `json:"source" yaml:"source"`
	Target       string   `json:"target" yaml:"target"`
	SourceHandle string   `json:"sourceHandle" yaml:"sourceHandle"`
	TargetHandle string   `json:"targetHandle" yaml:"targetHandle"`
	JoinType     JoinType `json:"joinType,omitempty" yaml:"joinType,omitempty"`
}

// LogicalOperator joins a filter condition to the one before it.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// FilterCondition is a single predicate. Column and Value are already
// formatted SQL text; IsAggregate routes the condition to HAVING.
type FilterCondition struct {
	ID              string          `json:"id" yaml:"id"`
	Column          string          `json:"column" yaml:"column"`
	Operator        string          `json:"operator" yaml:"operator"`
	Value           string          `json:"value" yaml:"value"`
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty" yaml:"logicalOperator,omitempty"`
	IsAggregate     bool            `json:"isAggregate,omitempty" yaml:"isAggregate,omitempty"`
}

// Direction is an ORDER BY direction.
type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

// OrderSpec is one ORDER BY term.
type OrderSpec struct {
	ID        string    `json:"id" yaml:"id"`
	Column    string    `json:"column" yaml:"column"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// Graph is the complete compiler input as saved by the canvas.
type Graph struct {
	Nodes   []TableNode       `json:"nodes" yaml:"nodes"`
	Edges   []JoinEdge        `json:"edges,omitempty" yaml:"edges,omitempty"`
	Filters []FilterCondition `json:"filters,omitempty" yaml:"filters,omitempty"`
	OrderBy []OrderSpec       `json:"orderBy,omitempty" yaml:"orderBy,omitempty"`
	GroupBy []string          `json:"groupBy,omitempty" yaml:"groupBy,omitempty"`
	Limit   LimitText         `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// NodeByID returns the node with the given id. When ids collide the first
// node wins.
func (g Graph) NodeByID(id string) (TableNode, bool) {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return TableNode{}, false
}
