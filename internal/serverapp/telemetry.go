package serverapp

import (
	"log/slog"

	"querycanvas/internal/config"
	"querycanvas/internal/logging"
	"querycanvas/internal/observability"
)

// serviceIdentity is the resource every exported signal is attributed to.
func serviceIdentity(obs config.ObservabilityConfig, otlp *config.OTLPConfig) observability.Config {
	c := observability.Config{
		ServiceName:    obs.ServiceName,
		ServiceVersion: obs.ServiceVersion,
		Environment:    obs.Environment,
	}
	if otlp != nil {
		c.OTLPConfig = exporterConfig(*otlp)
	}
	return c
}

// InitLogger builds the process logger and installs it as the slog default.
// When log export is on, it also returns the OTLP logger provider the logger
// writes to.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	obs := cfg.Observability
	loggerCfg := logging.Config{
		Level:       obs.Logging.Level,
		Format:      obs.Logging.Format,
		ServiceName: obs.ServiceName,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	if !obs.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	otlp := obs.GetLogsConfig()
	logger.Info("exporting logs over OTLP",
		slog.String("otlp_endpoint", otlp.Endpoint),
		slog.String("otlp_protocol", otlp.Protocol),
		slog.Bool("insecure", otlp.Insecure),
	)
	provider, err := observability.InitLoggerProvider(serviceIdentity(obs, &otlp))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = provider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	return logger, provider, nil
}

// metricSet groups the instruments created at startup. Every field is nil
// when metrics are disabled, and every recorder tolerates that.
type metricSet struct {
	provider      *observability.MeterProvider
	graphql       *observability.GraphQLMetrics
	compiler      *observability.CompilerMetrics
	schemaRefresh *observability.SchemaRefreshMetrics
	security      *observability.SecurityMetrics
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (metricSet, error) {
	obs := cfg.Observability
	if !obs.MetricsEnabled {
		return metricSet{}, nil
	}
	logger.Info("enabling metrics",
		slog.String("service_name", obs.ServiceName),
		slog.String("environment", obs.Environment),
	)

	var (
		set metricSet
		err error
	)
	if set.provider, err = observability.InitMeterProvider(serviceIdentity(obs, nil)); err != nil {
		return metricSet{}, err
	}
	if set.graphql, set.compiler, err = observability.InitMetrics(logger.Logger); err != nil {
		return metricSet{}, err
	}
	if set.schemaRefresh, err = observability.InitSchemaRefreshMetrics(); err != nil {
		return metricSet{}, err
	}
	if set.security, err = observability.InitSecurityMetrics(); err != nil {
		return metricSet{}, err
	}
	return set, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	obs := cfg.Observability
	if !obs.TracingEnabled {
		return nil, nil
	}

	otlp := obs.GetTracesConfig()
	logger.Info("exporting traces over OTLP",
		slog.String("otlp_endpoint", otlp.Endpoint),
		slog.String("otlp_protocol", otlp.Protocol),
		slog.Float64("sample_ratio", obs.TraceSampleRatio),
	)
	identity := serviceIdentity(obs, &otlp)
	identity.TraceSampleRatio = obs.TraceSampleRatio
	return observability.InitTracerProvider(identity)
}

func exporterConfig(c config.OTLPConfig) observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:          c.Endpoint,
		Protocol:          c.Protocol,
		Insecure:          c.Insecure,
		TLSCertFile:       c.TLSCertFile,
		TLSClientCertFile: c.TLSClientCertFile,
		TLSClientKeyFile:  c.TLSClientKeyFile,
		Headers:           c.Headers,
		Timeout:           c.Timeout,
		Compression:       c.Compression,
		RetryEnabled:      c.RetryEnabled,
		RetryMaxAttempts:  c.RetryMaxAttempts,
	}
}
