// Package server runs the HTTP listeners of the mirror and shuts them down
// gracefully when the context ends.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wayback-mirror/internal/telemetry"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// Config describes the listeners to start.
type Config struct {
	// Addr is the address of the content server.
	Addr string
	// MetricsAddr serves /metrics when set.
	MetricsAddr     string
	ShutdownTimeout time.Duration
}

// Server owns the content listener and the optional metrics listener.
type Server struct {
	cfg     Config
	handler http.Handler
	logger  *zap.Logger
}

// New creates a Server for handler.
func New(cfg Config, handler http.Handler, logger *zap.Logger) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, handler: handler, logger: logger}, nil
}

// Run listens on the configured addresses and blocks until ctx is canceled or
// a listener fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	listeners := []namedListener{{name: "content", ln: ln, handler: s.handler}}

	if s.cfg.MetricsAddr != "" {
		mln, err := net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen %s: %w", s.cfg.MetricsAddr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		listeners = append(listeners, namedListener{name: "metrics", ln: mln, handler: mux})
	}
	return s.serve(ctx, listeners)
}

type namedListener struct {
	name    string
	ln      net.Listener
	handler http.Handler
}

func (s *Server) serve(ctx context.Context, listeners []namedListener) error {
	g, gctx := errgroup.WithContext(ctx)
	servers := make([]*http.Server, 0, len(listeners))
	for _, l := range listeners {
		srv := &http.Server{
			Handler:           l.handler,
			ReadHeaderTimeout: defaultReadHeaderTimeout,
		}
		servers = append(servers, srv)
		g.Go(func() error {
			s.logger.Info("http server started", zap.String("listener", l.name), zap.String("addr", l.ln.Addr().String()))
			if err := srv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", l.name, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	err := g.Wait()
	s.logger.Info("shutdown complete")
	return err
}
