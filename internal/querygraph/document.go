package querygraph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies a graph document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks a format from a file extension. Unknown extensions
// are treated as YAML, which also accepts JSON input.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Decode parses a graph document.
func Decode(data []byte, format Format) (Graph, error) {
	var graph Graph
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&graph); err != nil {
			return Graph{}, fmt.Errorf("decode json graph: %w", err)
		}
	case FormatYAML, "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&graph); err != nil && !errors.Is(err, io.EOF) {
			return Graph{}, fmt.Errorf("decode yaml graph: %w", err)
		}
	default:
		return Graph{}, fmt.Errorf("unsupported graph format %q", format)
	}
	return graph, nil
}

// LoadFile reads and decodes a graph document from disk.
func LoadFile(path string) (Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Graph{}, fmt.Errorf("read graph file: %w", err)
	}
	return Decode(data, FormatFromPath(path))
}
