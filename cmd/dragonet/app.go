package main

import (
	"context"
	stdlog "log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/dragonet/config"
	"github.com/cyberinferno/dragonet/logger"
	"github.com/cyberinferno/dragonet/metrics"
)

// globalFlags maps persistent flags to configuration keys.
var globalFlags = map[string]string{
	"log.level":       "log-level",
	"log.console":     "log-console",
	"metrics.enabled": "metrics",
	"metrics.address": "metrics-addr",
}

// app holds what every command builds before starting an engine.
type app struct {
	config   *config.Config
	log      logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// newApp loads the configuration with the command's flags bound to their
// keys and builds the logger and metrics.
func newApp(cmd *cobra.Command, service string, flags map[string]string) (*app, error) {
	loader := config.NewLoader()
	for _, binds := range []map[string]string{globalFlags, flags} {
		for key, name := range binds {
			if err := loader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
				return nil, err
			}
		}
	}

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, errors.Wrap(err, "read config flag")
	}

	c, err := loader.Load(path)
	if err != nil {
		return nil, err
	}

	log, err := c.Log.Logger(service)
	if err != nil {
		return nil, err
	}

	a := &app{config: c, log: log}
	if c.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = metrics.New(
			metrics.WithNamespace(c.Metrics.Namespace),
			metrics.WithRegistry(a.registry),
		)
	}

	return a, nil
}

// run runs the engine next to the metrics endpoint. It returns when the
// engine returns or ctx is cancelled.
func (a *app) run(ctx context.Context, engine func(ctx context.Context) error) error {
	defer a.log.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return engine(ctx)
	})

	if a.registry != nil {
		g.Go(func() error {
			return serveMetrics(ctx, a.config.Metrics.Address, metricsRouter(a.registry), a.log)
		})
	}

	return g.Wait()
}

func metricsRouter(registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return r
}

// httpErrorLog routes net/http's internal errors through log's zerolog
// instance. It returns nil, the net/http default, for other loggers.
func httpErrorLog(log logger.Logger) *stdlog.Logger {
	zl, ok := log.GetLoggerInstance().(zerolog.Logger)
	if !ok {
		return nil
	}

	return stdlog.New(zl.With().Str("component", "http").Logger(), "", 0)
}

// serveMetrics serves handler on address until ctx is cancelled.
func serveMetrics(ctx context.Context, address string, handler http.Handler, log logger.Logger) error {
	srv := &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          httpErrorLog(log),
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("metrics listening", logger.Field{Key: "address", Value: address})
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return errors.Wrap(err, "serve metrics")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown metrics")
	}

	return nil
}
