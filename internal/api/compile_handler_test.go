package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycanvas/internal/introspection"
)

func newHandlerService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(Config{Schema: staticSchema{schema: &introspection.Schema{}}})
	require.NoError(t, err)
	return svc
}

func TestCompileHandler(t *testing.T) {
	svc := newHandlerService(t)

	body := `{
		"nodes": [
			{"id": "u", "label": "users", "selectedColumns": {"id": true, "name": false}},
			{"id": "p", "label": "posts", "selectedColumns": [{"column": "title", "selected": true}]},
			{"id": "c", "label": "comments"}
		],
		"edges": [
			{"id": "e1", "source": "u", "target": "p", "sourceHandle": "id", "targetHandle": "user_id", "joinType": "LEFT"},
			{"id": "e2", "source": "u", "target": "ghost", "sourceHandle": "id", "targetHandle": "x"}
		],
		"limit": 10
	}`

	rec := httptest.NewRecorder()
	svc.CompileHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/compile", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		SQL         string `json:"sql"`
		Diagnostics struct {
			Aliases      map[string]string `json:"aliases"`
			JoinCount    int               `json:"joinCount"`
			DroppedEdges []struct {
				Edge struct {
					ID string `json:"id"`
				} `json:"edge"`
				Reason string `json:"reason"`
			} `json:"droppedEdges"`
			DisconnectedNodes []string `json:"disconnectedNodes"`
		} `json:"diagnostics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, strings.Join([]string{
		"SELECT",
		"  t1.id,",
		"  t2.title",
		"FROM",
		"  users t1",
		"  LEFT JOIN posts t2 ON t1.id = t2.user_id,",
		"  comments t3",
		"LIMIT 10",
	}, "\n"), resp.SQL)
	assert.Equal(t, map[string]string{"u": "t1", "p": "t2", "c": "t3"}, resp.Diagnostics.Aliases)
	assert.Equal(t, 1, resp.Diagnostics.JoinCount)
	require.Len(t, resp.Diagnostics.DroppedEdges, 1)
	assert.Equal(t, "e2", resp.Diagnostics.DroppedEdges[0].Edge.ID)
	assert.Equal(t, "unresolved", resp.Diagnostics.DroppedEdges[0].Reason)
	assert.Equal(t, []string{"c"}, resp.Diagnostics.DisconnectedNodes)
}

func TestCompileHandlerEmptyCollections(t *testing.T) {
	svc := newHandlerService(t)

	rec := httptest.NewRecorder()
	svc.CompileHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/compile", strings.NewReader(`{"nodes": []}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"sql": "",
		"diagnostics": {
			"aliases": {},
			"joinCount": 0,
			"hasAggregation": false,
			"droppedEdges": [],
			"disconnectedNodes": []
		}
	}`, rec.Body.String())
}

func TestCompileHandlerRejects(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "wrong method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
			wantError:  "method not allowed",
		},
		{
			name:       "malformed json",
			method:     http.MethodPost,
			body:       `{"nodes": [`,
			wantStatus: http.StatusBadRequest,
			wantError:  "decode json graph",
		},
		{
			name:       "unknown field",
			method:     http.MethodPost,
			body:       `{"nodes": [], "zoom": 1.5}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "zoom",
		},
		{
			name:       "oversized body",
			method:     http.MethodPost,
			body:       `{"nodes": [], "limit": "` + strings.Repeat("9", maxGraphBodyBytes) + `"}`,
			wantStatus: http.StatusRequestEntityTooLarge,
			wantError:  "too large",
		},
	}

	svc := newHandlerService(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/api/compile", strings.NewReader(tt.body))
			svc.CompileHandler().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var payload map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
			assert.Contains(t, payload["error"], tt.wantError)
			if tt.method == http.MethodGet {
				assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
			}
		})
	}
}
