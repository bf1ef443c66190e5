package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/handshake-go/workflow"
	"github.com/dshills/handshake-go/workflow/emit"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one workflow trace",
		Long:  `Executes the trace once with the executor selected by the configuration and prints the outcome of every action.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			cfg, trace, err := loadInputs(cmd)
			if err != nil {
				return err
			}
			if cfg.ExecutorType == workflow.ExecutorThreadedServer {
				return fmt.Errorf("executor type %q needs the serve command", cfg.ExecutorType)
			}

			state := workflow.NewState(cfg, trace)
			exec, err := workflow.NewExecutor(state,
				workflow.WithLogger(logger),
				workflow.WithEmitter(emit.NewLoggerEmitter(logger)),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := exec.ExecuteWorkflow(ctx); err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), state)
			return nil
		},
	}
	return cmd
}

func printOutcome(w io.Writer, state *workflow.State) {
	trace := state.Trace()
	fmt.Fprintf(w, "trace %s (state %s)\n", trace.Name, state.ID())
	for i, a := range trace.Actions() {
		status := "skipped"
		switch {
		case a.Executed() && a.ExecutedAsPlanned():
			status = "ok"
		case a.Executed():
			status = "unexpected"
		}
		fmt.Fprintf(w, "  %2d %-16s %s\n", i, a.Kind(), status)
	}
	for _, c := range state.Contexts() {
		fmt.Fprintf(w, "connection %s: received=%d socket=%s\n", c.Connection.Alias, len(c.Received), c.FinalSocketState)
	}
	switch {
	case state.HasTransportException():
		fmt.Fprintln(w, "result: transport exception")
	case state.ExecutionError() != nil:
		fmt.Fprintf(w, "result: error: %v\n", state.ExecutionError())
	case trace.ExecutedAsPlanned():
		fmt.Fprintln(w, "result: executed as planned")
	default:
		fmt.Fprintln(w, "result: not executed as planned")
	}
}
