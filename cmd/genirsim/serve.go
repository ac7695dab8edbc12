package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webis-de/GenIRSim/infrastructure/llm"
	"github.com/webis-de/GenIRSim/infrastructure/middleware"
	"github.com/webis-de/GenIRSim/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve runs over a websocket at /api and metrics at /metrics",
		Long: `Serve accepts websocket connections at /api. Each connection makes one
call ("run", "simulate", or "evaluate"), receives the logbook entries as they
are written, and then the result. Plugin modules that are URLs are always
rejected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", ":8080", "Listen address")
	return cmd
}

// newMetricsRegistry creates the Prometheus registry served at /metrics
// and the collector that feeds it.
func newMetricsRegistry() (*prometheus.Registry, *middleware.PrometheusMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, middleware.NewPrometheusMetrics(registry)
}

func (c *cli) newHandler() http.Handler {
	registry, metrics := newMetricsRegistry()
	llm.DefaultRegistry().SetMetrics(metrics)

	opts := []server.Option{
		server.WithAttempts(c.config.Attempts),
		server.WithLogger(c.logger),
		server.WithMetrics(metrics),
	}
	if c.registry != nil {
		opts = append(opts, server.WithRegistry(c.registry))
	}

	mux := server.New(opts...).Handler()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}

func (c *cli) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              c.config.Addr,
		Handler:           c.newHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		c.logger.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	c.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
