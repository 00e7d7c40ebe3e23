package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"querycanvas/internal/logging"
	"querycanvas/internal/observability"
)

const defaultClockSkew = 2 * time.Minute

// OIDCAuthConfig controls OIDC/JWKS validation behavior.
type OIDCAuthConfig struct {
	Enabled   bool
	IssuerURL string
	Audience  string
	ClockSkew time.Duration
	CAFile    string
}

type authContextKey struct{}

// AuthContext carries the identity attached to an authenticated request.
type AuthContext struct {
	Subject  string
	Issuer   string
	Audience []string
	Claims   map[string]any
}

// WithAuthContext stores auth on ctx.
func WithAuthContext(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFromContext returns the auth context from a request context.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(AuthContext)
	return auth, ok
}

// authError is a rejected token. reason labels metrics and logs; message is
// what the client sees.
type authError struct {
	reason  string
	message string
	err     error
}

func (e *authError) Error() string {
	if e.err == nil {
		return e.reason
	}
	return e.reason + ": " + e.err.Error()
}

// bearerVerifier checks signature and audience through the issuer's JWKS and
// then re-checks the time claims with a configurable leeway.
type bearerVerifier struct {
	issuer   string
	verifier *oidc.IDTokenVerifier
	times    *jwt.Validator
}

func (v *bearerVerifier) authenticate(ctx context.Context, header string) (AuthContext, *authError) {
	raw := bearerToken(header)
	if raw == "" {
		return AuthContext{}, &authError{reason: "missing_token", message: "missing bearer token"}
	}

	token, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return AuthContext{}, &authError{reason: "verification_failed", message: "invalid token", err: err}
	}

	var registered jwt.RegisteredClaims
	claims := map[string]any{}
	if err := token.Claims(&registered); err != nil {
		return AuthContext{}, &authError{reason: "claims_parse_failed", message: "invalid token claims", err: err}
	}
	if err := token.Claims(&claims); err != nil {
		return AuthContext{}, &authError{reason: "claims_parse_failed", message: "invalid token claims", err: err}
	}
	if err := v.times.Validate(registered); err != nil {
		return AuthContext{}, &authError{reason: "time_validation_failed", message: "invalid token", err: err}
	}

	return AuthContext{
		Subject:  registered.Subject,
		Issuer:   v.issuer,
		Audience: []string(registered.Audience),
		Claims:   claims,
	}, nil
}

// OIDCAuthMiddleware validates Bearer tokens when enabled. metrics may be nil.
func OIDCAuthMiddleware(cfg OIDCAuthConfig, logger *logging.Logger, metrics *observability.SecurityMetrics) (func(http.Handler) http.Handler, error) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	v, err := newBearerVerifier(cfg)
	if err != nil {
		return nil, err
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			endpoint := r.URL.Path
			metrics.RecordAuthAttempt(ctx, endpoint)

			auth, failure := v.authenticate(ctx, r.Header.Get("Authorization"))
			if failure != nil {
				metrics.RecordAuthFailure(ctx, endpoint, failure.reason)
				attrs := []any{
					slog.String("reason", failure.reason),
					slog.String("endpoint", endpoint),
					slog.String("remote_addr", r.RemoteAddr),
				}
				if failure.err != nil {
					metrics.RecordTokenValidationError(ctx, failure.reason)
					attrs = append(attrs, slog.String("error", failure.err.Error()))
				}
				logging.FromContext(ctx).Warn("authentication failed", attrs...)
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSONError(w, http.StatusUnauthorized, failure.message)
				return
			}

			metrics.RecordAuthSuccess(ctx, endpoint, auth.Issuer)
			logging.FromContext(ctx).Debug("authentication successful",
				slog.String("subject", auth.Subject),
				slog.String("endpoint", endpoint),
			)
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("auth.subject", auth.Subject),
					attribute.String("auth.issuer", auth.Issuer),
					attribute.StringSlice("auth.audience", auth.Audience),
				)
			}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(ctx, auth)))
		})
	}, nil
}

// newBearerVerifier runs OIDC discovery against the issuer, so it fails when
// the issuer is unreachable.
func newBearerVerifier(cfg OIDCAuthConfig) (*bearerVerifier, error) {
	if cfg.IssuerURL == "" || cfg.Audience == "" {
		return nil, errors.New("oidc auth enabled but issuer/audience not configured")
	}
	issuerURL, err := url.Parse(cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid oidc issuer url: %w", err)
	}
	if issuerURL.Scheme != "https" {
		return nil, errors.New("oidc issuer url must use https")
	}
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = defaultClockSkew
	}

	client, err := newOIDCHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize oidc provider: %w", err)
	}

	return &bearerVerifier{
		issuer:   cfg.IssuerURL,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.Audience}),
		times:    jwt.NewValidator(jwt.WithLeeway(skew)),
	}, nil
}

// newOIDCHTTPClient builds the client used for discovery and JWKS fetches.
// A CA file is added to the system pool so private issuers can be trusted.
func newOIDCHTTPClient(cfg OIDCAuthConfig) (*http.Client, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if caFile := strings.TrimSpace(cfg.CAFile); caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read oidc ca file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("oidc ca file %s contains no certificates", caFile)
		}
		tlsConfig.RootCAs = pool
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &http.Client{Transport: transport, Timeout: 10 * time.Second}, nil
}

func bearerToken(value string) string {
	scheme, token, ok := strings.Cut(value, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
