package querygraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ColumnSelection is one checkbox in a node's column list.
type ColumnSelection struct {
	Column   string `json:"column" yaml:"column"`
	Selected bool   `json:"selected" yaml:"selected"`
}

// SelectedColumns keeps column selections in display order. Documents may
// encode it either as an object ({"id": true, "name": false}) or as a list of
// {column, selected} pairs; both decode in document order.
type SelectedColumns []ColumnSelection

// Set returns a copy of s with column marked as selected or not. An existing
// entry keeps its position.
func (s SelectedColumns) Set(column string, selected bool) SelectedColumns {
	out := make(SelectedColumns, len(s), len(s)+1)
	copy(out, s)
	for i := range out {
		if out[i].Column == column {
			out[i].Selected = selected
			return out
		}
	}
	return append(out, ColumnSelection{Column: column, Selected: selected})
}

// Checked returns the selected column names in order.
func (s SelectedColumns) Checked() []string {
	var names []string
	for _, entry := range s {
		if entry.Selected {
			names = append(names, entry.Column)
		}
	}
	return names
}

// Select builds a SelectedColumns with every listed column checked.
func Select(columns ...string) SelectedColumns {
	var out SelectedColumns
	for _, column := range columns {
		out = out.Set(column, true)
	}
	return out
}

// MarshalJSON writes the object form, preserving order.
func (s SelectedColumns) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(entry.Column)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatBool(entry.Selected))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads either the object form or a list whose items are
// column names or {column, selected} pairs.
func (s *SelectedColumns) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = nil
		return nil
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("selectedColumns: %w", err)
		}
		var out SelectedColumns
		for i, item := range items {
			// A bare name means the column is selected.
			var name string
			if err := json.Unmarshal(item, &name); err == nil {
				out = out.Set(name, true)
				continue
			}
			var pair ColumnSelection
			if err := json.Unmarshal(item, &pair); err != nil {
				return fmt.Errorf("selectedColumns[%d]: %w", i, err)
			}
			out = out.Set(pair.Column, pair.Selected)
		}
		*s = out
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("selectedColumns: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("selectedColumns: expected object or array, got %v", tok)
	}

	var out SelectedColumns
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("selectedColumns: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("selectedColumns: unexpected key %v", keyTok)
		}
		var selected bool
		if err := dec.Decode(&selected); err != nil {
			return fmt.Errorf("selectedColumns[%q]: %w", key, err)
		}
		out = out.Set(key, selected)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("selectedColumns: %w", err)
	}

	*s = out
	return nil
}

// MarshalYAML writes a mapping node so key order survives.
func (s SelectedColumns) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, entry := range s {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: entry.Column},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(entry.Selected)},
		)
	}
	return node, nil
}

// UnmarshalYAML reads either a mapping or a sequence of names and pairs.
func (s *SelectedColumns) UnmarshalYAML(node *yaml.Node) error {
	var out SelectedColumns
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			var key string
			if err := node.Content[i].Decode(&key); err != nil {
				return fmt.Errorf("selectedColumns: line %d: %w", node.Content[i].Line, err)
			}
			var selected bool
			if err := node.Content[i+1].Decode(&selected); err != nil {
				return fmt.Errorf("selectedColumns[%q]: line %d: %w", key, node.Content[i+1].Line, err)
			}
			out = out.Set(key, selected)
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind == yaml.ScalarNode {
				out = out.Set(item.Value, true)
				continue
			}
			var pair ColumnSelection
			if err := item.Decode(&pair); err != nil {
				return fmt.Errorf("selectedColumns: line %d: %w", item.Line, err)
			}
			out = out.Set(pair.Column, pair.Selected)
		}
	case yaml.ScalarNode:
		if node.Tag != "!!null" {
			return fmt.Errorf("selectedColumns: line %d: expected mapping or sequence", node.Line)
		}
	default:
		return fmt.Errorf("selectedColumns: line %d: expected mapping or sequence", node.Line)
	}
	*s = out
	return nil
}

// LimitText is the raw LIMIT input. Documents may carry it as a string or a
// number; it is passed to the compiler as text either way.
type LimitText string

// UnmarshalJSON accepts a JSON string or number.
func (l *LimitText) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = ""
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return fmt.Errorf("limit: %w", err)
		}
		*l = LimitText(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return fmt.Errorf("limit: expected string or number: %w", err)
	}
	*l = LimitText(number.String())
	return nil
}

// UnmarshalYAML keeps the scalar text as written.
func (l *LimitText) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("limit: line %d: expected scalar", node.Line)
	}
	if node.Tag == "!!null" {
		*l = ""
		return nil
	}
	*l = LimitText(node.Value)
	return nil
}
