package parallel

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/handshake-go/metrics"
	"github.com/dshills/handshake-go/workflow"
	"github.com/dshills/handshake-go/workflow/emit"
)

// Option configures an Executor.
type Option func(*Executor) error

// RecoveryFunc is run by the watchdog when no task made progress within the
// watchdog timeout. A non-zero exit code fails the running batch.
type RecoveryFunc func(ctx context.Context) (int, error)

// WithBackoff sets the exponential backoff between reexecutions.
// A zero base disables the delay. Default: 50ms base, 2s cap.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(e *Executor) error {
		if base < 0 || maxDelay < 0 {
			return errors.New("backoff durations must be >= 0")
		}
		e.backoffBase = base
		e.backoffMax = maxDelay
		return nil
	}
}

// WithWatchdog enables the stall watchdog. When the completed and active task
// counts stay unchanged for timeout, recovery is run. Default: disabled.
func WithWatchdog(timeout time.Duration, recovery RecoveryFunc) Option {
	return func(e *Executor) error {
		if timeout <= 0 {
			return errors.New("watchdog timeout must be positive")
		}
		e.watchdogTimeout = timeout
		e.watchdogTick = timeout / 4
		if e.watchdogTick < time.Millisecond {
			e.watchdogTick = time.Millisecond
		}
		e.recovery = recovery
		return nil
	}
}

// WithLogger sets the structured logger. Default: zerolog.Nop().
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) error {
		e.logger = logger
		return nil
	}
}

// WithMetrics enables Prometheus metrics for tasks and, unless overridden by
// WithExecutorOptions, for the workflows they run.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(e *Executor) error {
		e.metrics = m
		return nil
	}
}

// WithEmitter sets the event emitter. Default: NullEmitter.
func WithEmitter(em emit.Emitter) Option {
	return func(e *Executor) error {
		if em == nil {
			return errors.New("emitter cannot be nil")
		}
		e.emitter = em
		return nil
	}
}

// WithExecutorOptions appends workflow executor options applied to every
// StateTask.
func WithExecutorOptions(opts ...workflow.Option) Option {
	return func(e *Executor) error {
		e.execOpts = append(e.execOpts, opts...)
		return nil
	}
}
