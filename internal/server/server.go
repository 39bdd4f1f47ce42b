// Package server implements the TCP front end: the listener, the
// per-connection session handler, and the optional metrics endpoint. The
// handler owns the socket; all recognition work happens behind the engine
// pool's queues.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yc7764/whisperstream/internal/config"
	"github.com/yc7764/whisperstream/internal/engine"
	"github.com/yc7764/whisperstream/internal/health"
	"github.com/yc7764/whisperstream/internal/observe"
)

// Server is the connection front end over an engine pool.
type Server struct {
	cfg     *config.Config
	pool    *engine.Pool
	metrics *observe.Metrics
	log     *slog.Logger
	timeout time.Duration
	addr    atomic.Value
}

// Addr returns the bound listener address once Run is up, "" before that.
// Useful when the configured port is 0.
func (s *Server) Addr() string {
	addr, _ := s.addr.Load().(string)
	return addr
}

// New builds a server. Nil metrics or logger fall back to the process-wide
// defaults.
func New(cfg *config.Config, pool *engine.Pool, m *observe.Metrics, log *slog.Logger) *Server {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		pool:    pool,
		metrics: m,
		log:     log,
		timeout: time.Duration(cfg.Network.SocketTimeout) * time.Second,
	}
}

// Run binds the listener and serves connections until ctx is canceled.
// Shutdown is hard: in-flight sessions are cut by closing their sockets.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Network.IP, strconv.Itoa(s.cfg.Network.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.addr.Store(ln.Addr().String())
	s.log.Info("listening", "addr", ln.Addr().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		return nil
	})
	g.Go(func() error { return s.acceptLoop(ctx, ln) })
	if s.cfg.Network.MetricsAddr != "" {
		g.Go(func() error { return s.serveMetrics(ctx) })
	}
	return g.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observe.MetricsHandler())
	probes := health.New(health.Checker{
		Name: "engines",
		Check: func(context.Context) error {
			if s.pool.Ready() == 0 {
				return errors.New("no engine has loaded its model")
			}
			return nil
		},
	})
	probes.Register(mux)
	srv := &http.Server{
		Addr:              s.cfg.Network.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("metrics endpoint up", "addr", srv.Addr)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: metrics endpoint: %w", err)
	}
}
