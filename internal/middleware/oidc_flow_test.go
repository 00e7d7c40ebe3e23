package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycanvas/internal/logging"
)

const testKeyID = "canvas-test-key"

type testIssuer struct {
	server *httptest.Server
	key    *rsa.PrivateKey
	caFile string
}

// newTestIssuer serves OIDC discovery and a JWKS document over TLS.
func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	issuer := &testIssuer{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                issuer.server.URL,
			"jwks_uri":                              issuer.server.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"use": "sig",
				"alg": "RS256",
				"kid": testKeyID,
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	})
	issuer.server = httptest.NewTLSServer(mux)
	t.Cleanup(issuer.server.Close)

	issuer.caFile = filepath.Join(t.TempDir(), "issuer_ca.crt")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: issuer.server.Certificate().Raw})
	require.NoError(t, os.WriteFile(issuer.caFile, certPEM, 0o600))
	return issuer
}

func (i *testIssuer) mint(t *testing.T, audience string, expiresIn time.Duration) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": i.server.URL,
		"sub": "analyst-7",
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	})
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(i.key)
	require.NoError(t, err)
	return signed
}

func TestOIDCAuthMiddleware_EndToEnd(t *testing.T) {
	issuer := newTestIssuer(t)

	mw, err := OIDCAuthMiddleware(OIDCAuthConfig{
		Enabled:   true,
		IssuerURL: issuer.server.URL,
		Audience:  "querycanvas",
		CAFile:    issuer.caFile,
	}, logging.Discard(), nil)
	require.NoError(t, err)

	var subject string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, ok := AuthFromContext(r.Context())
		require.True(t, ok)
		subject = auth.Subject
		assert.Equal(t, []string{"querycanvas"}, auth.Audience)
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := serve("Bearer " + issuer.mint(t, "querycanvas", time.Hour))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "analyst-7", subject)

	rec = serve("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	assert.JSONEq(t, `{"error":"missing bearer token"}`, rec.Body.String())

	rec = serve("Bearer " + issuer.mint(t, "someone-else", time.Hour))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve("Bearer " + issuer.mint(t, "querycanvas", -time.Hour))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
