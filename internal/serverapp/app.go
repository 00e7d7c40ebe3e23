package serverapp

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"querycanvas/internal/config"
	"querycanvas/internal/logging"
	"querycanvas/internal/observability"
	"querycanvas/internal/schemacache"
	"querycanvas/internal/sqlutil"
)

// App runs the query canvas server: New validates the driver, Init acquires
// the database, schema cache and telemetry, Start serves HTTP and Shutdown
// releases everything in reverse order.
type App struct {
	cfg            *config.Config
	logger         *logging.Logger
	dialect        sqlutil.Dialect
	loggerProvider *observability.LoggerProvider

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	manager      *schemacache.Manager
	handler      http.Handler
	srv          *http.Server
	serverAddr   string
	serverErrors chan error
	cleanup      cleanupStack

	shutdownOnce sync.Once
}

// New checks cfg names a supported driver and returns an App ready for Init.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("config is required")
	case logger == nil:
		return nil, errors.New("logger is required")
	}

	dialect, err := cfg.Database.Dialect()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database driver: %w", err)
	}
	return &App{cfg: cfg, logger: logger, dialect: dialect}, nil
}

// AttachLoggerProvider hands the OTLP logger provider to the App so Shutdown
// flushes it last.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	a.loggerProvider = provider
	a.stateMu.Unlock()
}

// Handler returns the root HTTP handler, or nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}
