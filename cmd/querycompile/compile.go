package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"querycanvas/internal/querybuilder"
	"querycanvas/internal/querygraph"
)

type compileOptions struct {
	explain bool
	format  string
	output  string
	watch   bool
}

func newCompileCmd() *cobra.Command {
	opts := compileOptions{}
	cmd := &cobra.Command{
		Use:   "compile FILE",
		Short: "Print the SQL for a graph document",
		Long: `Compile reads a graph document and prints the generated SQL.

The document format follows the file extension: .json is JSON, anything else
is YAML. Use "-" to read from stdin together with --format.`,
		Example: `  # Compile a saved canvas
  querycompile compile report.yaml

  # Show which edges were skipped and why
  querycompile compile report.json --explain

  # Recompile on every save
  querycompile compile report.yaml --watch

  # Emit SQL and diagnostics as JSON
  cat report.json | querycompile compile - --format json --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.explain && opts.output == "json" {
				return fmt.Errorf("--explain applies to -o sql only; -o json already carries the diagnostics")
			}
			if opts.watch {
				if args[0] == "-" {
					return fmt.Errorf("--watch needs a file, not stdin")
				}
				return watchGraph(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], opts)
			}
			graph, err := loadGraph(cmd.InOrStdin(), args[0], opts.format)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), graph, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Print aliases, joins and skipped edges after the SQL (-o sql only)")
	cmd.Flags().StringVar(&opts.format, "format", "", "Input format for stdin: yaml or json")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "sql", "Output format: sql or json")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Recompile whenever the file changes")
	return cmd
}

func render(out io.Writer, graph querygraph.Graph, opts compileOptions) error {
	result := querybuilder.Build(graph)
	switch opts.output {
	case "json":
		return writeJSONResult(out, result)
	case "sql":
		if _, err := fmt.Fprintln(out, result.SQL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported output %q (use sql or json)", opts.output)
	}
	if opts.explain {
		explain(out, graph, result)
	}
	return nil
}

func loadGraph(stdin io.Reader, path, format string) (querygraph.Graph, error) {
	if path != "-" {
		return querygraph.LoadFile(path)
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return querygraph.Graph{}, fmt.Errorf("read stdin: %w", err)
	}
	f := querygraph.FormatYAML
	if format != "" {
		f = querygraph.Format(format)
	}
	return querygraph.Decode(data, f)
}

type jsonResult struct {
	SQL               string            `json:"sql"`
	Aliases           map[string]string `json:"aliases"`
	HasAggregation    bool              `json:"hasAggregation"`
	JoinCount         int               `json:"joinCount"`
	DroppedEdges      []jsonDroppedEdge `json:"droppedEdges"`
	DisconnectedNodes []string          `json:"disconnectedNodes"`
}

type jsonDroppedEdge struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func writeJSONResult(w io.Writer, result querybuilder.Result) error {
	payload := jsonResult{
		SQL:               result.SQL,
		Aliases:           result.Aliases,
		HasAggregation:    result.HasAggregation,
		JoinCount:         result.JoinCount,
		DroppedEdges:      []jsonDroppedEdge{},
		DisconnectedNodes: result.DisconnectedNodes,
	}
	if payload.DisconnectedNodes == nil {
		payload.DisconnectedNodes = []string{}
	}
	for _, d := range result.DroppedEdges {
		payload.DroppedEdges = append(payload.DroppedEdges, jsonDroppedEdge{ID: d.Edge.ID, Reason: string(d.Reason)})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func explain(w io.Writer, graph querygraph.Graph, result querybuilder.Result) {
	heading := color.New(color.Bold)
	warn := color.New(color.FgYellow)
	ok := color.New(color.FgGreen)

	_, _ = fmt.Fprintln(w)
	_, _ = heading.Fprintln(w, "-- aliases")
	labels := make(map[string]string, len(graph.Nodes))
	for _, node := range graph.Nodes {
		if _, seen := labels[node.ID]; seen {
			continue
		}
		labels[node.ID] = node.Label
		_, _ = fmt.Fprintf(w, "--   %s = %s (%s)\n", result.Aliases[node.ID], node.Label, node.ID)
	}

	_, _ = heading.Fprintln(w, "-- joins")
	_, _ = fmt.Fprintf(w, "--   %d emitted\n", result.JoinCount)
	if result.HasAggregation {
		_, _ = fmt.Fprintln(w, "--   aggregated, implicit GROUP BY applied")
	}

	if len(result.DroppedEdges) == 0 && len(result.DisconnectedNodes) == 0 {
		_, _ = ok.Fprintln(w, "-- every edge produced a join")
		return
	}
	for _, d := range result.DroppedEdges {
		_, _ = warn.Fprintf(w, "-- skipped edge %s (%s -> %s): %s\n", d.Edge.ID, d.Edge.Source, d.Edge.Target, d.Reason)
	}
	for _, id := range result.DisconnectedNodes {
		_, _ = warn.Fprintf(w, "-- node %s (%s) is not joined; listed with a comma\n", id, labels[id])
	}
}
