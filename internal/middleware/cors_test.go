package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler(t *testing.T, wantCalled bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !wantCalled {
			t.Fatal("next handler should not run")
		}
		w.WriteHeader(http.StatusOK)
	})
}

func corsRequest(method, origin, requestMethod string) *http.Request {
	req := httptest.NewRequest(method, "/api/compile", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if requestMethod != "" {
		req.Header.Set("Access-Control-Request-Method", requestMethod)
	}
	return req
}

func TestCORSMiddleware_Disabled(t *testing.T) {
	rr := httptest.NewRecorder()
	CORSMiddleware(CORSConfig{})(okHandler(t, true)).ServeHTTP(rr, corsRequest(http.MethodPost, "http://example.com", ""))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_Origins(t *testing.T) {
	cfg := CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://canvas.example.com", " http://localhost:* ", ""},
	}
	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://canvas.example.com", true},
		{"http://localhost:5173", true},
		{"http://localhost:3000", true},
		{"http://localhost", false},
		{"http://localhost:", false},
		{"http://localhost:99999", false},
		{"http://localhost:80/evil", false},
		{"https://localhost:5173", false},
		{"http://evil.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			rr := httptest.NewRecorder()
			CORSMiddleware(cfg)(okHandler(t, true)).ServeHTTP(rr, corsRequest(http.MethodPost, tt.origin, ""))

			assert.Equal(t, http.StatusOK, rr.Code)
			if tt.allowed {
				assert.Equal(t, tt.origin, rr.Header().Get("Access-Control-Allow-Origin"))
				assert.Equal(t, "Origin", rr.Header().Get("Vary"))
			} else {
				assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	cfg := CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"http://localhost:3000"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         3600,
	}

	t.Run("allowed", func(t *testing.T) {
		rr := httptest.NewRecorder()
		CORSMiddleware(cfg)(okHandler(t, false)).ServeHTTP(rr, corsRequest(http.MethodOptions, "http://localhost:3000", "POST"))

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type, Authorization", rr.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "3600", rr.Header().Get("Access-Control-Max-Age"))
	})

	t.Run("disallowed origin", func(t *testing.T) {
		rr := httptest.NewRecorder()
		CORSMiddleware(cfg)(okHandler(t, false)).ServeHTTP(rr, corsRequest(http.MethodOptions, "http://malicious.com", "POST"))

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("plain OPTIONS reaches handler", func(t *testing.T) {
		rr := httptest.NewRecorder()
		CORSMiddleware(cfg)(okHandler(t, true)).ServeHTTP(rr, corsRequest(http.MethodOptions, "http://localhost:3000", ""))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get("Access-Control-Allow-Methods"))
	})
}

func TestCORSMiddleware_Wildcard(t *testing.T) {
	cfg := CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		ExposeHeaders:    []string{"X-Request-ID", "Traceparent"},
	}

	rr := httptest.NewRecorder()
	CORSMiddleware(cfg)(okHandler(t, true)).ServeHTTP(rr, corsRequest(http.MethodPost, "http://any-origin.com", ""))

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rr.Header().Get("Vary"))
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Credentials"), "credentials are never sent with a wildcard origin")
	assert.Equal(t, "X-Request-ID, Traceparent", rr.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORSMiddleware_Credentials(t *testing.T) {
	cfg := CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowCredentials: true,
	}

	rr := httptest.NewRecorder()
	CORSMiddleware(cfg)(okHandler(t, true)).ServeHTTP(rr, corsRequest(http.MethodPost, "http://localhost:3000", ""))

	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSMiddleware_OriginAbsent(t *testing.T) {
	rr := httptest.NewRecorder()
	CORSMiddleware(CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}})(okHandler(t, true)).ServeHTTP(rr, corsRequest(http.MethodPost, "", ""))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
