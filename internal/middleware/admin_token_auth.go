package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"querycanvas/internal/logging"
	"querycanvas/internal/observability"
)

const defaultAdminTokenHeader = "X-Admin-Token"

// AdminTokenAuthConfig guards the admin endpoints with a shared token.
type AdminTokenAuthConfig struct {
	Token string
	// HeaderName defaults to X-Admin-Token. A bearer Authorization header is
	// accepted as well.
	HeaderName string
	Metrics    *observability.SecurityMetrics
}

// AdminTokenAuthMiddleware rejects requests that do not carry the shared
// admin token. Successful requests get an AuthContext with subject
// "admin_token".
func AdminTokenAuthMiddleware(cfg AdminTokenAuthConfig) (func(http.Handler) http.Handler, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("admin auth token is required")
	}
	header := strings.TrimSpace(cfg.HeaderName)
	if header == "" {
		header = defaultAdminTokenHeader
	}
	expected := sha256.Sum256([]byte(token))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided, source := adminTokenFromRequest(r, header)
			got := sha256.Sum256([]byte(provided))
			ok := provided != "" && subtle.ConstantTimeCompare(got[:], expected[:]) == 1

			cfg.Metrics.RecordAdminEndpointAccess(r.Context(), r.URL.Path, ok)
			if !ok {
				logging.FromContext(r.Context()).Warn("admin authentication failed",
					slog.String("endpoint", r.URL.Path),
					slog.String("token_source", source),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := WithAuthContext(r.Context(), AuthContext{
				Subject: "admin_token",
				Issuer:  "admin_token",
				Claims:  map[string]interface{}{"auth_method": "admin_token", "token_source": source},
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

// adminTokenFromRequest prefers the dedicated header over Authorization.
func adminTokenFromRequest(r *http.Request, header string) (token, source string) {
	if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
		return v, "header"
	}
	scheme, rest, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if found && strings.EqualFold(scheme, "Bearer") {
		if v := strings.TrimSpace(rest); v != "" {
			return v, "bearer"
		}
	}
	return "", "none"
}
