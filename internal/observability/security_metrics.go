package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SecurityMetrics counts authentication outcomes for the API and admin
// endpoints. A nil *SecurityMetrics is valid and records nothing.
type SecurityMetrics struct {
	authAttempts          metric.Int64Counter
	authFailures          metric.Int64Counter
	authSuccesses         metric.Int64Counter
	adminEndpointAccess   metric.Int64Counter
	unauthorizedAttempts  metric.Int64Counter
	tokenValidationErrors metric.Int64Counter
}

// InitSecurityMetrics initializes authentication metrics.
func InitSecurityMetrics() (*SecurityMetrics, error) {
	b := newInstruments(meterName + "/security")
	m := &SecurityMetrics{
		authAttempts:          b.counter("security.auth.attempts.total", "Total number of authentication attempts"),
		authFailures:          b.counter("security.auth.failures.total", "Total number of authentication failures"),
		authSuccesses:         b.counter("security.auth.successes.total", "Total number of successful authentications"),
		adminEndpointAccess:   b.counter("security.admin.access.total", "Total number of admin endpoint access attempts"),
		unauthorizedAttempts:  b.counter("security.unauthorized.attempts.total", "Total number of rejected requests"),
		tokenValidationErrors: b.counter("security.token.validation_errors.total", "Total number of token validation errors"),
	}
	if err := b.err(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SecurityMetrics) add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAuthAttempt counts a request that carried credentials to endpoint.
func (m *SecurityMetrics) RecordAuthAttempt(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.add(ctx, m.authAttempts, attribute.String("endpoint", endpoint))
}

// RecordAuthFailure counts a rejected request. Every failure is also an
// unauthorized attempt.
func (m *SecurityMetrics) RecordAuthFailure(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("endpoint", endpoint), attribute.String("reason", reason)}
	m.add(ctx, m.authFailures, attrs...)
	m.add(ctx, m.unauthorizedAttempts, attrs...)
}

// RecordAuthSuccess counts an accepted token from issuer.
func (m *SecurityMetrics) RecordAuthSuccess(ctx context.Context, endpoint, issuer string) {
	if m == nil {
		return
	}
	m.add(ctx, m.authSuccesses, attribute.String("endpoint", endpoint), attribute.String("issuer", issuer))
}

// RecordAdminEndpointAccess counts a call to an admin operation.
func (m *SecurityMetrics) RecordAdminEndpointAccess(ctx context.Context, operation string, authenticated bool) {
	if m == nil {
		return
	}
	m.add(ctx, m.adminEndpointAccess, attribute.String("operation", operation), attribute.Bool("authenticated", authenticated))
}

// RecordTokenValidationError counts a token that failed verification.
func (m *SecurityMetrics) RecordTokenValidationError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.add(ctx, m.tokenValidationErrors, attribute.String("error_type", errorType))
}
