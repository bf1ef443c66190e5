package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dshills/handshake-go/tracefile"
	"github.com/dshills/handshake-go/workflow"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "oraclescan",
		Short:         "Execute handshake workflows and oracle scans",
		Long:          `oraclescan plays scripted protocol workflows against a peer and classifies targets by how they answer malformed inputs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags (available to all commands)
	root.PersistentFlags().StringP("config", "c", "", "Configuration file (YAML or JSON)")
	root.PersistentFlags().StringP("trace", "t", "", "Workflow trace file (YAML or JSON)")
	root.PersistentFlags().String("target", "", "Override the address of every initiator connection")
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-json", false, "Write logs as JSON instead of console text")

	root.AddCommand(newRunCmd(), newServeCmd(), newScanCmd())
	return root
}

func newLogger(cmd *cobra.Command) (zerolog.Logger, error) {
	levelName, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("log-json")

	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid --log-level %q: %w", levelName, err)
	}
	var logger zerolog.Logger
	if jsonLogs {
		logger = zerolog.New(cmd.ErrOrStderr())
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen})
	}
	return logger.Level(level).With().Timestamp().Logger(), nil
}

// loadInputs reads the configuration (defaults when --config is empty) and
// the trace, applying --target.
func loadInputs(cmd *cobra.Command) (workflow.Config, *workflow.WorkflowTrace, error) {
	configPath, _ := cmd.Flags().GetString("config")
	tracePath, _ := cmd.Flags().GetString("trace")
	target, _ := cmd.Flags().GetString("target")

	cfg := workflow.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = tracefile.LoadConfig(configPath); err != nil {
			return workflow.Config{}, nil, err
		}
	}
	if tracePath == "" {
		return workflow.Config{}, nil, fmt.Errorf("--trace is required")
	}
	if _, err := os.Stat(tracePath); err != nil {
		return workflow.Config{}, nil, fmt.Errorf("trace file: %w", err)
	}
	trace, err := tracefile.LoadTrace(tracePath)
	if err != nil {
		return workflow.Config{}, nil, err
	}
	if target != "" {
		trace.SetConnectionAddr(target)
	}
	return cfg, trace, nil
}
