// Package app wires configuration, the result store, object storage and the
// read API into one process lifecycle.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpapi "github.com/autosteer/autosteer/internal/api/http"
	"github.com/autosteer/autosteer/internal/config"
	"github.com/autosteer/autosteer/internal/export"
	"github.com/autosteer/autosteer/internal/observability"
	"github.com/autosteer/autosteer/internal/results"
	"github.com/autosteer/autosteer/internal/server"
	"github.com/autosteer/autosteer/internal/storage"
)

// App owns the long-lived resources of one binary invocation.
type App struct {
	cfg      *config.Config
	logger   log.Logger
	registry *prometheus.Registry

	mu       sync.Mutex
	store    *results.Store
	exporter *export.Exporter
	shutdown *server.ShutdownManager
}

// New validates cfg and prepares its directories.
func New(cfg *config.Config, logger log.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &App{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		shutdown: server.NewShutdownManager(server.ShutdownConfig{
			Logger: log.With(logger, "component", "shutdown"),
		}),
	}, nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Store opens the result database of the configured suite on first use.
func (a *App) Store(ctx context.Context) (*results.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store != nil {
		return a.store, nil
	}
	store, err := results.Open(ctx, results.Options{
		Path:          a.cfg.DatabasePath(),
		ExtensionPath: a.cfg.ExtensionPath,
		SchemaFile:    a.cfg.SchemaFile,
		Machine:       a.cfg.Machine,
		Seed:          a.cfg.Experience.Seed,
		Logger:        a.logger,
		Registerer:    a.registry,
	})
	if err != nil {
		return nil, err
	}
	level.Info(a.logger).Log("msg", "result store opened", "db", a.cfg.DatabasePath())
	a.store = store
	return store, nil
}

// Exporter builds the exporter for the configured object storage on first use.
func (a *App) Exporter(ctx context.Context) (*export.Exporter, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.exporter != nil {
		return a.exporter, nil
	}
	objects, err := storage.New(ctx, a.cfg.Export)
	if err != nil {
		return nil, err
	}
	level.Info(a.logger).Log("msg", "export storage initialized", "type", a.cfg.Export.Type)
	a.exporter = export.NewExporter(objects, a.cfg.Export.Prefix, a.logger)
	return a.exporter, nil
}

// Handler builds the read API for store.
func (a *App) Handler(store httpapi.ResultReader) http.Handler {
	return server.ShutdownMiddleware(a.shutdown)(httpapi.NewHandler(store, httpapi.Options{
		Logger:        log.With(a.logger, "component", "http"),
		Gatherer:      a.registry,
		Metrics:       observability.NewHTTPMetrics(a.registry),
		TrainingRatio: a.cfg.Experience.TrainingRatio,
	}))
}

// Serve runs the read API on ln until ctx is cancelled or a termination
// signal arrives. A nil ln listens on the configured address.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	store, err := a.Store(ctx)
	if err != nil {
		return err
	}

	if ln == nil {
		if ln, err = net.Listen("tcp", a.cfg.HTTP.Addr); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
		}
	}

	srv := server.NewGracefulHTTPServer(&http.Server{
		Handler:      a.Handler(store),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}, a.shutdown)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- a.shutdown.ListenForSignals(ctx) }()

	select {
	case err := <-errCh:
		a.shutdown.Shutdown(context.Background(), "server stopped")
		return err
	case err := <-shutdownErr:
		if serveErr := <-errCh; serveErr != nil {
			return serveErr
		}
		return err
	}
}

// Close releases the result store.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
