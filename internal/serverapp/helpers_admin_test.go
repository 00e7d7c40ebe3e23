package serverapp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycanvas/internal/config"
)

func okHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

func TestBuildRouter_AdminRouteDisabledReturnsNotFound(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{HealthCheckTimeout: time.Second}}

	mux := buildRouter(cfg, testLogger(), nil, okHandler(http.StatusOK), okHandler(http.StatusOK), nil, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reload-schema", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildRouter_Routes(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{HealthCheckTimeout: time.Second}}

	mux := buildRouter(cfg, testLogger(), nil,
		okHandler(http.StatusAccepted),
		okHandler(http.StatusCreated),
		okHandler(http.StatusNoContent),
		nil,
	)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{method: http.MethodPost, path: "/graphql", want: http.StatusAccepted},
		{method: http.MethodPost, path: "/api/compile", want: http.StatusCreated},
		{method: http.MethodPost, path: "/admin/reload-schema", want: http.StatusNoContent},
		{method: http.MethodGet, path: "/", want: http.StatusFound},
		{method: http.MethodGet, path: "/metrics", want: http.StatusNotFound},
		{method: http.MethodGet, path: "/elsewhere", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestBuildAdminHandler_DisabledReturnsNil(t *testing.T) {
	h, err := buildAdminHandler(&config.Config{}, testLogger(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestBuildAdminHandler_TokenModeMissingHeaderUnauthorized(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Admin: config.AdminConfig{
				SchemaReloadEnabled: true,
				AuthToken:           "secret-token",
			},
		},
	}

	adminHandler, err := buildAdminHandler(cfg, testLogger(), nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	adminHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reload-schema", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBuildAdminHandler_TokenModeValidHeaderReachesHandler(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Admin: config.AdminConfig{
				SchemaReloadEnabled: true,
				AuthToken:           "secret-token",
			},
		},
	}

	adminHandler, err := buildAdminHandler(cfg, testLogger(), nil, nil)
	require.NoError(t, err)

	// GET stops at the method check before the manager is touched.
	req := httptest.NewRequest(http.MethodGet, "/admin/reload-schema", nil)
	req.Header.Set("X-Admin-Token", "secret-token")
	rec := httptest.NewRecorder()
	adminHandler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBuildAdminHandler_RequiresTokenWithoutOIDC(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Admin: config.AdminConfig{SchemaReloadEnabled: true},
		},
	}

	_, err := buildAdminHandler(cfg, testLogger(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin auth token")
}

func TestBuildAdminHandler_OIDCModeUsesOIDCMiddlewarePath(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Admin: config.AdminConfig{SchemaReloadEnabled: true},
			Auth:  config.AuthConfig{OIDCEnabled: true},
		},
	}

	_, err := buildAdminHandler(cfg, testLogger(), nil, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "issuer/audience"), "unexpected error: %v", err)
}

type fakeRefresher struct {
	changed bool
	err     error
	calls   int
}

func (f *fakeRefresher) RefreshNow(context.Context) (bool, error) {
	f.calls++
	return f.changed, f.err
}

func TestSchemaReloadHandler(t *testing.T) {
	t.Run("reports change", func(t *testing.T) {
		refresher := &fakeRefresher{changed: true}
		rec := httptest.NewRecorder()
		schemaReloadHandler(refresher)(rec, httptest.NewRequest(http.MethodPost, "/admin/reload-schema", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok","changed":true}`, rec.Body.String())
		assert.Equal(t, 1, refresher.calls)
	})

	t.Run("hides failure details", func(t *testing.T) {
		refresher := &fakeRefresher{err: errors.New("access denied for user 'canvas'")}
		rec := httptest.NewRecorder()
		schemaReloadHandler(refresher)(rec, httptest.NewRequest(http.MethodPost, "/admin/reload-schema", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "access denied")
	})

	t.Run("rejects get", func(t *testing.T) {
		refresher := &fakeRefresher{}
		rec := httptest.NewRecorder()
		schemaReloadHandler(refresher)(rec, httptest.NewRequest(http.MethodGet, "/admin/reload-schema", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
		assert.Zero(t, refresher.calls)
	})
}

func TestDBSystemAttribute(t *testing.T) {
	assert.Equal(t, "postgresql", dbSystemAttribute("pgx").Value.AsString())
	assert.Equal(t, "sqlite", dbSystemAttribute("sqlite").Value.AsString())
	assert.Equal(t, "mysql", dbSystemAttribute("mysql").Value.AsString())
}
