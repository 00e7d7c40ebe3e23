package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
)

const maxInspectedBody = 1 << 20

type graphQLRequest struct {
	Query         string `json:"query"`
	OperationName string `json:"operationName"`
}

// operationInfo summarizes the operation a GraphQL request will execute.
type operationInfo struct {
	operationType string
	name          string
	rootFields    []string
}

// extractGraphQLRequest reads the query text without consuming the body.
func extractGraphQLRequest(r *http.Request) (string, string) {
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("query"), r.URL.Query().Get("operationName")
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return "", ""
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInspectedBody))
	if err != nil {
		return "", ""
	}
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))

	if strings.Contains(r.Header.Get("Content-Type"), "application/graphql") {
		return string(body), ""
	}

	var payload graphQLRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	return payload.Query, payload.OperationName
}

// parseOperation picks the named operation, or the first one when no name
// is given, and lists its top-level fields.
func parseOperation(query, operationName string) (*operationInfo, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{
			Body: []byte(query),
			Name: "graphql",
		}),
	})
	if err != nil {
		return nil, err
	}

	fragments := make(map[string]*ast.FragmentDefinition)
	var target *ast.OperationDefinition
	for _, def := range doc.Definitions {
		switch node := def.(type) {
		case *ast.FragmentDefinition:
			fragments[node.Name.Value] = node
		case *ast.OperationDefinition:
			if target != nil {
				continue
			}
			if operationName == "" || (node.Name != nil && node.Name.Value == operationName) {
				target = node
			}
		}
	}
	if target == nil {
		return nil, nil
	}

	info := &operationInfo{operationType: string(target.Operation)}
	if target.Name != nil {
		info.name = target.Name.Value
	}
	info.rootFields = rootFieldNames(target.SelectionSet, fragments, map[string]bool{})
	return info, nil
}

func rootFieldNames(set *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition, seen map[string]bool) []string {
	if set == nil {
		return nil
	}
	var names []string
	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			names = append(names, sel.Name.Value)
		case *ast.InlineFragment:
			names = append(names, rootFieldNames(sel.SelectionSet, fragments, seen)...)
		case *ast.FragmentSpread:
			name := sel.Name.Value
			if seen[name] {
				continue
			}
			seen[name] = true
			if frag, ok := fragments[name]; ok {
				names = append(names, rootFieldNames(frag.SelectionSet, fragments, seen)...)
			}
		}
	}
	return names
}
