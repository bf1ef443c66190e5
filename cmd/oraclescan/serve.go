package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/handshake-go/workflow"
	"github.com/dshills/handshake-go/workflow/emit"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the trace for every accepted peer",
		Long:  `Starts the threaded server: each accepted connection gets its own copy of the trace. Interrupt to shut down gracefully.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			cfg, trace, err := loadInputs(cmd)
			if err != nil {
				return err
			}
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				cfg.ServerListenAddr = listen
			}
			if n, _ := cmd.Flags().GetInt("max-connections"); n > 0 {
				cfg.ServerMaxConnections = n
			}
			cfg.ExecutorType = workflow.ExecutorThreadedServer
			if err := cfg.Validate(); err != nil {
				return err
			}

			m, stopMetrics, err := startMetrics(cmd, logger)
			if err != nil {
				return err
			}
			defer stopMetrics()

			srv, err := workflow.NewThreadedServer(workflow.NewState(cfg, trace),
				workflow.WithLogger(logger),
				workflow.WithEmitter(emit.NewLoggerEmitter(logger)),
				workflow.WithMetrics(m),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info().Str("addr", cfg.ServerListenAddr).Int("max_connections", cfg.ServerMaxConnections).Msg("serving")
			if err := srv.ExecuteWorkflow(ctx); err != nil {
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().String("listen", "", "Listen address (overrides server_listen_addr)")
	cmd.Flags().Int("max-connections", 0, "Concurrent peers (overrides server_max_connections)")
	cmd.Flags().String("metrics-addr", "", "Expose Prometheus metrics on this address, e.g. :9090")
	return cmd
}
