package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/handshake-go/oracle"
	"github.com/dshills/handshake-go/oracle/store"
	"github.com/dshills/handshake-go/parallel"
	"github.com/dshills/handshake-go/tracefile"
	"github.com/dshills/handshake-go/workflow/emit"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a raw-payload oracle scan",
		Long: `Injects every vector of the vector file into the trace, executes the
variants in parallel and compares the responses. Prints the verdict.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			cfg, trace, err := loadInputs(cmd)
			if err != nil {
				return err
			}
			vectorsPath, _ := cmd.Flags().GetString("vectors")
			if vectorsPath == "" {
				return fmt.Errorf("--vectors is required")
			}
			vf, err := tracefile.LoadVectors(vectorsPath)
			if err != nil {
				return err
			}
			gen, err := vf.Generator()
			if err != nil {
				return err
			}
			opts, err := vf.EngineOptions()
			if err != nil {
				return err
			}

			iterations, _ := cmd.Flags().GetInt("iterations")
			workers, _ := cmd.Flags().GetInt("workers")
			reexecutions, _ := cmd.Flags().GetInt("reexecutions")
			dbPath, _ := cmd.Flags().GetString("db")
			target, _ := cmd.Flags().GetString("target")

			m, stopMetrics, err := startMetrics(cmd, logger)
			if err != nil {
				return err
			}
			defer stopMetrics()

			emitter := emit.NewLoggerEmitter(logger)
			exec, err := parallel.New(workers, reexecutions,
				parallel.WithLogger(logger),
				parallel.WithMetrics(m),
				parallel.WithEmitter(emitter),
			)
			if err != nil {
				return err
			}
			defer exec.Shutdown()

			opts = append(opts,
				oracle.WithIterations(iterations),
				oracle.WithLogger(logger),
				oracle.WithMetrics(m),
				oracle.WithEmitter(emitter),
			)
			if target == "" {
				if conns := trace.Connections(); len(conns) > 0 {
					target = conns[0].Addr
				}
			}
			if target != "" {
				opts = append(opts, oracle.WithTarget(target))
			}
			if dbPath != "" {
				st, err := store.NewSQLiteStore[oracle.ResponseFingerprint](dbPath)
				if err != nil {
					return err
				}
				defer st.Close()
				opts = append(opts, oracle.WithStore(st))
			}

			engine, err := oracle.NewEngine(cfg, gen, vf.Builder(trace), exec, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := engine.ExecuteAttack(ctx)
			if report != nil {
				fmt.Fprint(cmd.OutOrStdout(), report.Summary())
			}
			return err
		},
	}
	cmd.Flags().String("vectors", "", "Vector file (YAML or JSON)")
	cmd.Flags().IntP("iterations", "n", 1, "Repeat the scan this many times")
	cmd.Flags().Int("workers", 4, "Concurrent workflow executions")
	cmd.Flags().Int("reexecutions", 2, "Retries for a workflow that fails to execute")
	cmd.Flags().String("db", "", "Persist responses and the report to this SQLite file")
	cmd.Flags().String("metrics-addr", "", "Expose Prometheus metrics on this address, e.g. :9090")
	return cmd
}
