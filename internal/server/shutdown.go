// Package server runs the read API and shuts it down gracefully.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// ShutdownManager coordinates signal handling, in-flight request draining
// and resource cleanup.
type ShutdownManager struct {
	shutdownTimeout time.Duration
	drainTimeout    time.Duration
	logger          log.Logger

	shutdownCh     chan struct{}
	shutdownOnce   sync.Once
	inFlight       atomic.Int64
	isShuttingDown atomic.Bool

	closers   []io.Closer
	closersMu sync.Mutex
}

// ShutdownConfig holds configuration for the shutdown manager.
type ShutdownConfig struct {
	// ShutdownTimeout bounds the whole shutdown. Default: 30 seconds
	ShutdownTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight requests. Default: 15 seconds
	DrainTimeout time.Duration

	Logger log.Logger
}

// NewShutdownManager creates a shutdown manager.
func NewShutdownManager(cfg ShutdownConfig) *ShutdownManager {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	return &ShutdownManager{
		shutdownTimeout: cfg.ShutdownTimeout,
		drainTimeout:    cfg.DrainTimeout,
		logger:          cfg.Logger,
		shutdownCh:      make(chan struct{}),
	}
}

// RegisterCloser adds a closer to run during shutdown. Closers run in
// reverse registration order.
func (sm *ShutdownManager) RegisterCloser(closer io.Closer) {
	sm.closersMu.Lock()
	defer sm.closersMu.Unlock()
	sm.closers = append(sm.closers, closer)
}

// ListenForSignals blocks until SIGTERM, SIGINT or ctx cancellation and then
// shuts down.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return sm.Shutdown(context.Background(), fmt.Sprintf("received signal: %v", sig))
	case <-ctx.Done():
		return sm.Shutdown(context.Background(), "context cancelled")
	case <-sm.shutdownCh:
		return nil
	}
}

// Shutdown drains in-flight requests and closes all registered closers.
// Only the first call has an effect.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	var shutdownErr error

	sm.shutdownOnce.Do(func() {
		level.Info(sm.logger).Log("msg", "shutting down", "reason", reason)
		sm.isShuttingDown.Store(true)
		close(sm.shutdownCh)

		shutdownCtx, cancel := context.WithTimeout(ctx, sm.shutdownTimeout)
		defer cancel()

		if err := sm.drainInFlight(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("drain failed: %w", err)
		}

		sm.closersMu.Lock()
		closers := sm.closers
		sm.closersMu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				level.Warn(sm.logger).Log("msg", "close failed", "err", err)
				if shutdownErr == nil {
					shutdownErr = fmt.Errorf("close failed: %w", err)
				}
			}
		}
	})

	return shutdownErr
}

func (sm *ShutdownManager) drainInFlight(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, sm.drainTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if sm.inFlight.Load() == 0 {
			return nil
		}
		select {
		case <-drainCtx.Done():
			if remaining := sm.inFlight.Load(); remaining > 0 {
				return fmt.Errorf("timeout waiting for %d in-flight requests", remaining)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// TrackRequest counts a request as in flight. It returns false once shutdown
// has begun.
func (sm *ShutdownManager) TrackRequest() bool {
	if sm.isShuttingDown.Load() {
		return false
	}
	sm.inFlight.Add(1)
	return true
}

// UntrackRequest marks a tracked request as done.
func (sm *ShutdownManager) UntrackRequest() {
	sm.inFlight.Add(-1)
}

// IsShuttingDown reports whether shutdown has begun.
func (sm *ShutdownManager) IsShuttingDown() bool {
	return sm.isShuttingDown.Load()
}

// InFlightCount returns the number of tracked requests.
func (sm *ShutdownManager) InFlightCount() int64 {
	return sm.inFlight.Load()
}

// ShutdownCh is closed when shutdown begins.
func (sm *ShutdownManager) ShutdownCh() <-chan struct{} {
	return sm.shutdownCh
}

// GracefulHTTPServer runs an http.Server until the manager shuts down.
type GracefulHTTPServer struct {
	server   *http.Server
	shutdown *ShutdownManager
}

// NewGracefulHTTPServer registers server with the manager.
func NewGracefulHTTPServer(server *http.Server, shutdown *ShutdownManager) *GracefulHTTPServer {
	shutdown.RegisterCloser(CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}))
	return &GracefulHTTPServer{server: server, shutdown: shutdown}
}

// Serve accepts connections on ln until shutdown.
func (gs *GracefulHTTPServer) Serve(ln net.Listener) error {
	level.Info(gs.shutdown.logger).Log("msg", "serving read API", "addr", ln.Addr().String())
	if err := gs.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ListenAndServe listens on the server address and serves until shutdown.
func (gs *GracefulHTTPServer) ListenAndServe() error {
	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", gs.server.Addr, err)
	}
	return gs.Serve(ln)
}

// ShutdownMiddleware tracks in-flight requests and rejects new ones during shutdown.
func ShutdownMiddleware(sm *ShutdownManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sm.TrackRequest() {
				w.Header().Set("Connection", "close")
				http.Error(w, "service unavailable: shutting down", http.StatusServiceUnavailable)
				return
			}
			defer sm.UntrackRequest()
			next.ServeHTTP(w, r)
		})
	}
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error {
	return f()
}
