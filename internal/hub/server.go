package hub

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nafistiham/jigai/internal/discovery"
	"github.com/nafistiham/jigai/internal/log"
	"github.com/nafistiham/jigai/internal/tracing"
)

// shutdownTimeout bounds how long Shutdown waits for in-flight requests to
// drain before forcing connections closed.
const shutdownTimeout = 30 * time.Second

// Server wraps a Hub with an HTTP listener and mDNS announcement, pairing
// the broadcaster's lifecycle with the listener's: announce at startup,
// retract at shutdown, tolerate either failing.
type Server struct {
	hub         *Hub
	httpServer  *http.Server
	broadcaster *discovery.Broadcaster
	tracer      *tracing.Provider
	port        int
}

// NewServer creates a Server bound to host:port. tracing is applied to every
// HTTP request the hub serves; pass a zero-value tracing.Config (tracing
// disabled) for zero-overhead operation.
func NewServer(version, host string, port int, tracingCfg tracing.Config) (*Server, error) {
	tracer, err := tracing.NewProvider(tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("configuring tracing: %w", err)
	}

	h := New(version)
	h.Tracer = tracer.Tracer()
	return &Server{
		hub: h,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", host, port),
			Handler: h.Handler(),
		},
		broadcaster: discovery.NewBroadcaster(version),
		tracer:      tracer,
		port:        port,
	}, nil
}

// Run starts the mDNS broadcaster, then serves HTTP until the context is
// canceled, then shuts both down gracefully. It returns any error from the
// HTTP server other than the expected "server closed" on shutdown.
func (s *Server) Run(ctx context.Context) error {
	if !s.broadcaster.Start(s.port) {
		log.Warn(log.CatHub, "mDNS broadcast unavailable, continuing without it")
	}
	defer s.broadcaster.Stop()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn(log.CatHub, "tracer shutdown failed", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down hub server: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
