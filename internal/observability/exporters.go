package observability

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

// OTLPExporterConfig holds OTLP exporter configuration options.
type OTLPExporterConfig struct {
	Endpoint          string
	Protocol          string
	Insecure          bool
	TLSCertFile       string
	TLSClientCertFile string
	TLSClientKeyFile  string
	Headers           map[string]string
	Timeout           time.Duration
	Compression       string
	RetryEnabled      bool
	RetryMaxAttempts  int
}

type otlpProtocol string

const (
	otlpProtocolGRPC otlpProtocol = "grpc"
	otlpProtocolHTTP otlpProtocol = "http/protobuf"
)

func parseOTLPProtocol(value string) (otlpProtocol, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "grpc":
		return otlpProtocolGRPC, nil
	case "http", "http/protobuf":
		return otlpProtocolHTTP, nil
	}
	return "", fmt.Errorf("unsupported OTLP protocol %q (use grpc or http/protobuf)", value)
}

// buildTLSConfig trusts TLSCertFile when set and presents a client
// certificate when both halves of the key pair are configured.
func buildTLSConfig(cfg OTLPExporterConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TLSCertFile != "" {
		pem, err := os.ReadFile(cfg.TLSCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read OTLP TLS CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse OTLP TLS CA file")
		}
		tlsConfig.RootCAs = pool
	}

	certFile, keyFile := cfg.TLSClientCertFile, cfg.TLSClientKeyFile
	if certFile == "" && keyFile == "" {
		return tlsConfig, nil
	}
	if certFile == "" || keyFile == "" {
		return nil, errors.New("OTLP TLS client cert and key must both be set")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load OTLP TLS client certificate: %w", err)
	}
	tlsConfig.Certificates = []tls.Certificate{cert}
	return tlsConfig, nil
}

// exporterSettings is OTLPExporterConfig resolved once for any signal.
type exporterSettings struct {
	endpoint    string
	endpointURL bool
	insecure    bool
	tls         *tls.Config
	headers     map[string]string
	timeout     time.Duration
	gzip        bool
	retry       bool
}

func resolveExporterSettings(cfg OTLPExporterConfig) (exporterSettings, error) {
	s := exporterSettings{
		endpoint:    cfg.Endpoint,
		endpointURL: strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://"),
		insecure:    cfg.Insecure,
		headers:     cfg.Headers,
		timeout:     cfg.Timeout,
		gzip:        cfg.Compression == "gzip",
		retry:       cfg.RetryEnabled && cfg.RetryMaxAttempts > 0,
	}
	if s.insecure {
		return s, nil
	}
	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return exporterSettings{}, err
	}
	s.tls = tlsConfig
	return s, nil
}

const (
	retryInitialInterval = time.Second
	retryMaxInterval     = 5 * time.Second
	retryMaxElapsed      = 30 * time.Second
)

// optionKit maps exporterSettings onto one exporter package's option type.
// endpointURL is nil for gRPC exporters, which only take host:port.
type optionKit[O any] struct {
	endpoint    func(string) O
	endpointURL func(string) O
	insecure    func() O
	secure      func(*tls.Config) O
	headers     func(map[string]string) O
	timeout     func(time.Duration) O
	gzip        func() O
	retry       func() O
}

func (k optionKit[O]) build(s exporterSettings) []O {
	opts := make([]O, 0, 7)
	if s.endpointURL && k.endpointURL != nil {
		opts = append(opts, k.endpointURL(s.endpoint))
	} else {
		opts = append(opts, k.endpoint(s.endpoint))
	}
	if s.insecure {
		opts = append(opts, k.insecure())
	} else {
		opts = append(opts, k.secure(s.tls))
	}
	if len(s.headers) > 0 {
		opts = append(opts, k.headers(s.headers))
	}
	if s.timeout > 0 {
		opts = append(opts, k.timeout(s.timeout))
	}
	if s.gzip {
		opts = append(opts, k.gzip())
	}
	if s.retry {
		opts = append(opts, k.retry())
	}
	return opts
}

var traceGRPC = optionKit[otlptracegrpc.Option]{
	endpoint: otlptracegrpc.WithEndpoint,
	insecure: otlptracegrpc.WithInsecure,
	secure: func(c *tls.Config) otlptracegrpc.Option {
		return otlptracegrpc.WithTLSCredentials(credentials.NewTLS(c))
	},
	headers: otlptracegrpc.WithHeaders,
	timeout: otlptracegrpc.WithTimeout,
	gzip:    func() otlptracegrpc.Option { return otlptracegrpc.WithCompressor("gzip") },
	retry: func() otlptracegrpc.Option {
		return otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: retryInitialInterval,
			MaxInterval:     retryMaxInterval,
			MaxElapsedTime:  retryMaxElapsed,
		})
	},
}

var traceHTTP = optionKit[otlptracehttp.Option]{
	endpoint:    otlptracehttp.WithEndpoint,
	endpointURL: otlptracehttp.WithEndpointURL,
	insecure:    otlptracehttp.WithInsecure,
	secure:      otlptracehttp.WithTLSClientConfig,
	headers:     otlptracehttp.WithHeaders,
	timeout:     otlptracehttp.WithTimeout,
	gzip:        func() otlptracehttp.Option { return otlptracehttp.WithCompression(otlptracehttp.GzipCompression) },
	retry: func() otlptracehttp.Option {
		return otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
			Enabled:         true,
			InitialInterval: retryInitialInterval,
			MaxInterval:     retryMaxInterval,
			MaxElapsedTime:  retryMaxElapsed,
		})
	},
}

var logGRPC = optionKit[otlploggrpc.Option]{
	endpoint: otlploggrpc.WithEndpoint,
	insecure: otlploggrpc.WithInsecure,
	secure: func(c *tls.Config) otlploggrpc.Option {
		return otlploggrpc.WithTLSCredentials(credentials.NewTLS(c))
	},
	headers: otlploggrpc.WithHeaders,
	timeout: otlploggrpc.WithTimeout,
	gzip:    func() otlploggrpc.Option { return otlploggrpc.WithCompressor("gzip") },
	retry: func() otlploggrpc.Option {
		return otlploggrpc.WithRetry(otlploggrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: retryInitialInterval,
			MaxInterval:     retryMaxInterval,
			MaxElapsedTime:  retryMaxElapsed,
		})
	},
}

var logHTTP = optionKit[otlploghttp.Option]{
	endpoint:    otlploghttp.WithEndpoint,
	endpointURL: otlploghttp.WithEndpointURL,
	insecure:    otlploghttp.WithInsecure,
	secure:      otlploghttp.WithTLSClientConfig,
	headers:     otlploghttp.WithHeaders,
	timeout:     otlploghttp.WithTimeout,
	gzip:        func() otlploghttp.Option { return otlploghttp.WithCompression(otlploghttp.GzipCompression) },
	retry: func() otlploghttp.Option {
		return otlploghttp.WithRetry(otlploghttp.RetryConfig{
			Enabled:         true,
			InitialInterval: retryInitialInterval,
			MaxInterval:     retryMaxInterval,
			MaxElapsedTime:  retryMaxElapsed,
		})
	},
}

func newSpanExporter(ctx context.Context, cfg OTLPExporterConfig) (sdktrace.SpanExporter, error) {
	protocol, settings, err := resolveExporter(cfg)
	if err != nil {
		return nil, err
	}
	var exporter sdktrace.SpanExporter
	if protocol == otlpProtocolHTTP {
		exporter, err = otlptracehttp.New(ctx, traceHTTP.build(settings)...)
	} else {
		exporter, err = otlptracegrpc.New(ctx, traceGRPC.build(settings)...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	return exporter, nil
}

func newLogExporter(ctx context.Context, cfg OTLPExporterConfig) (log.Exporter, error) {
	protocol, settings, err := resolveExporter(cfg)
	if err != nil {
		return nil, err
	}
	var exporter log.Exporter
	if protocol == otlpProtocolHTTP {
		exporter, err = otlploghttp.New(ctx, logHTTP.build(settings)...)
	} else {
		exporter, err = otlploggrpc.New(ctx, logGRPC.build(settings)...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}
	return exporter, nil
}

func resolveExporter(cfg OTLPExporterConfig) (otlpProtocol, exporterSettings, error) {
	protocol, err := parseOTLPProtocol(cfg.Protocol)
	if err != nil {
		return "", exporterSettings{}, err
	}
	settings, err := resolveExporterSettings(cfg)
	return protocol, settings, err
}
