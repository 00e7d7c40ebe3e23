package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"querycanvas/internal/logging"
	"querycanvas/internal/querybuilder"
	"querycanvas/internal/querygraph"
)

const maxGraphBodyBytes = 1 << 20

type compileResponse struct {
	SQL         string      `json:"sql"`
	Diagnostics diagnostics `json:"diagnostics"`
}

type diagnostics struct {
	Aliases           map[string]string     `json:"aliases"`
	JoinCount         int                   `json:"joinCount"`
	HasAggregation    bool                  `json:"hasAggregation"`
	DroppedEdges      []droppedEdgeResponse `json:"droppedEdges"`
	DisconnectedNodes []string              `json:"disconnectedNodes"`
}

type droppedEdgeResponse struct {
	Edge   querygraph.JoinEdge `json:"edge"`
	Reason string              `json:"reason"`
}

// CompileHandler serves POST /api/compile. The body is a JSON graph document;
// the response carries the SQL text and compiler diagnostics.
func (s *Service) CompileHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxGraphBodyBytes+1))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if len(body) > maxGraphBodyBytes {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "graph document too large")
			return
		}

		graph, err := querygraph.Decode(body, querygraph.FormatJSON)
		if err != nil {
			logging.FromContext(r.Context()).Debug("rejected graph document", slog.String("error", err.Error()))
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		result := s.Compile(r.Context(), graph)
		writeJSON(w, http.StatusOK, newCompileResponse(result))
	})
}

func newCompileResponse(result querybuilder.Result) compileResponse {
	resp := compileResponse{
		SQL: result.SQL,
		Diagnostics: diagnostics{
			Aliases:           result.Aliases,
			JoinCount:         result.JoinCount,
			HasAggregation:    result.HasAggregation,
			DroppedEdges:      []droppedEdgeResponse{},
			DisconnectedNodes: result.DisconnectedNodes,
		},
	}
	if resp.Diagnostics.Aliases == nil {
		resp.Diagnostics.Aliases = map[string]string{}
	}
	if resp.Diagnostics.DisconnectedNodes == nil {
		resp.Diagnostics.DisconnectedNodes = []string{}
	}
	for _, dropped := range result.DroppedEdges {
		resp.Diagnostics.DroppedEdges = append(resp.Diagnostics.DroppedEdges, droppedEdgeResponse{
			Edge:   dropped.Edge,
			Reason: string(dropped.Reason),
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
