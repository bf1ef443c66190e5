package workflow

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/dshills/handshake-go/metrics"
	"github.com/dshills/handshake-go/workflow/emit"
)

// Callbacks are lifecycle hooks run by every executor variant.
// A nil hook is skipped.
type Callbacks struct {
	// BeforeTransportInit runs before any transport handle is opened.
	BeforeTransportInit func(*State) error

	// AfterTransportInit runs once every transport and layer stack is ready.
	AfterTransportInit func(*State) error

	// AfterExecution runs after the trace completed and connections were
	// optionally closed.
	AfterExecution func(*State) error
}

// IsZero reports whether no hook is set.
func (c Callbacks) IsZero() bool {
	return c.BeforeTransportInit == nil && c.AfterTransportInit == nil && c.AfterExecution == nil
}

// Option is a functional option for configuring an executor.
//
// Example:
//
//	exec, err := workflow.NewExecutor(state,
//	    workflow.WithLogger(logger),
//	    workflow.WithEmitter(emit.NewLogEmitter(os.Stderr, true)),
//	)
type Option func(*executorConfig) error

type executorConfig struct {
	logger           zerolog.Logger
	emitter          emit.Emitter
	metrics          *metrics.PrometheusMetrics
	transportFactory TransportFactory
	layerFactory     LayerFactory
	callbacks        Callbacks
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		logger:           zerolog.Nop(),
		emitter:          emit.NewNullEmitter(),
		transportFactory: DefaultTransportFactory,
		layerFactory:     DefaultLayerFactory,
	}
}

func applyOptions(opts []Option) (executorConfig, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// WithLogger sets the structured logger. Default: zerolog.Nop().
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *executorConfig) error {
		cfg.logger = logger
		return nil
	}
}

// WithEmitter sets the observability event emitter. Default: NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *executorConfig) error {
		if e == nil {
			return errors.New("emitter cannot be nil")
		}
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics. Default: none.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(cfg *executorConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithTransportFactory overrides how transport handles are opened for
// contexts that do not already carry one.
func WithTransportFactory(f TransportFactory) Option {
	return func(cfg *executorConfig) error {
		if f == nil {
			return errors.New("transport factory cannot be nil")
		}
		cfg.transportFactory = f
		return nil
	}
}

// WithLayerFactory overrides how layer stacks are built.
func WithLayerFactory(f LayerFactory) Option {
	return func(cfg *executorConfig) error {
		if f == nil {
			return errors.New("layer factory cannot be nil")
		}
		cfg.layerFactory = f
		return nil
	}
}

// WithCallbacks sets the lifecycle hooks.
func WithCallbacks(cb Callbacks) Option {
	return func(cfg *executorConfig) error {
		cfg.callbacks = cb
		return nil
	}
}
