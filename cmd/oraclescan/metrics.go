package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dshills/handshake-go/metrics"
)

// startMetrics registers the engine metrics on a fresh registry and, when
// --metrics-addr is set, serves them on /metrics. The returned function
// stops the server.
func startMetrics(cmd *cobra.Command, logger zerolog.Logger) (*metrics.PrometheusMetrics, func(), error) {
	addr, _ := cmd.Flags().GetString("metrics-addr")
	registry := prometheus.NewRegistry()
	m := metrics.NewPrometheusMetrics(registry)
	if addr == "" {
		return m, func() {}, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return m, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	}, nil
}
