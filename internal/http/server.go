// README: API gateway; wires module services into the router and runs the HTTP server.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"dispatch/internal/http/handlers"
	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/job"
	"dispatch/internal/modules/matching"
	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/tracking"
)

type ServerDeps struct {
	Jobs      *job.Service
	Drivers   *driver.Service
	Matching  *matching.Service
	Pricing   *pricing.Engine
	Tracking  *tracking.Service
	Provider  *tracking.FeedProvider
	Positions handlers.PositionIndex // optional
	Logger    *slog.Logger

	RateLimitRPS   float64
	RateLimitBurst int
}

func (d ServerDeps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

func NewServer(addr string, deps ServerDeps) *Server {
	streams, cancelStreams := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(deps, streams),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(cancelStreams)
	return &Server{srv: srv, logger: deps.logger()}
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is cancelled, then drains in-flight requests for up to
// shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
