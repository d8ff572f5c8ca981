package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/vango-dev/reactive/internal/config"
	"github.com/vango-dev/reactive/internal/errors"
	"github.com/vango-dev/reactive/pkg/hub"
	"github.com/vango-dev/reactive/pkg/scheduler"
	"github.com/vango-dev/reactive/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

func serveCmd() *cobra.Command {
	var (
		path     string
		addr     string
		strategy string
		level    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve named signals over HTTP and WebSocket",
		Long: `Serve the signals declared in the configuration file.

Routes:
  GET /signals               list every signal
  GET /signals/{name}        read one signal
  PUT /signals/{name}        write a JSON value, reply once stable
  GET /signals/{name}/watch  stream updates over WebSocket

Prometheus metrics are served at metrics.path when enabled.

Examples:
  reactive serve -c reactive.yaml
  reactive serve --addr :8080 --strategy frame`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(path)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if strategy != "" {
				cfg.Scheduler.Strategy = strategy
			}
			if level != "" {
				cfg.Log.Level = level
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "Config file (YAML or JSON)")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Scheduler strategy: sync, macrotask, frame or manual")
	cmd.Flags().StringVar(&level, "log-level", "", "Log level: debug, info, warn or error")

	return cmd
}

// server is the wired hub: scheduler, metrics and routes.
type server struct {
	hub      *hub.Hub
	sched    scheduler.Scheduler
	registry *prometheus.Registry
	handler  http.Handler
	logger   *slog.Logger
}

func newServer(cfg *config.Config, logger *slog.Logger) (*server, error) {
	s := &server{logger: logger}

	onError := func(err error) {
		logger.Error("scheduled action failed", "error", err)
	}

	var m *telemetry.Metrics
	if cfg.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = telemetry.New(
			telemetry.WithRegistry(s.registry),
			telemetry.WithNamespace(cfg.Metrics.Namespace),
		)
		onError = m.ErrorHandler(onError)
	}

	sched, err := cfg.NewScheduler(
		scheduler.WithLogger(logger.With("component", "scheduler")),
		scheduler.WithErrorHandler(onError),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		sched = m.Instrument(sched, cfg.Scheduler.Strategy)
	}
	s.sched = sched

	opts := []hub.Option{
		hub.WithLogger(logger.With("component", "hub")),
		hub.WithStableTimeout(cfg.Hub.StableTimeout.Std()),
	}
	if m != nil {
		opts = append(opts, hub.WithMetrics(m))
	}
	h, err := hub.New(sched, cfg.Signals, opts...)
	if err != nil {
		s.closeScheduler()
		return nil, err
	}
	s.hub = h

	r := chi.NewRouter()
	if s.registry != nil {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	r.Mount("/", h.Routes())
	s.handler = r
	return s, nil
}

// Close ends every session and stops the scheduler's loop.
func (s *server) Close() error {
	s.hub.Close()
	return s.closeScheduler()
}

func (s *server) closeScheduler() error {
	if c, ok := s.sched.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, out, errOut io.Writer) error {
	logger := cfg.Logger(errOut).With("component", "reactive")

	s, err := newServer(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		if stderrors.Is(err, syscall.EADDRINUSE) {
			return errors.New("R141").
				WithKey(cfg.Addr).
				Wrap(err).
				WithSuggestion("Pick another address with --addr")
		}
		return errors.New("R140").WithKey(cfg.Addr).Wrap(err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	success(out, "Serving %d signals on http://%s", len(s.hub.Names()), ln.Addr())
	info(out, "scheduler: %s", cfg.Scheduler.Strategy)
	if s.registry != nil {
		info(out, "metrics:   %s", cfg.Metrics.Path)
	}
	logger.Info("server started", "addr", ln.Addr().String(), "strategy", cfg.Scheduler.Strategy)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.New("R140").Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.New("R140").Wrap(fmt.Errorf("shutdown: %w", err))
	}
	return nil
}
