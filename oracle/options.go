package oracle

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/dshills/handshake-go/metrics"
	"github.com/dshills/handshake-go/oracle/store"
	"github.com/dshills/handshake-go/workflow/emit"
)

// Option configures an Engine.
type Option func(*Engine) error

// WithIterations repeats every batch n times and pools the responses.
// Default: 1.
func WithIterations(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return &ConfigError{Field: "iterations", Message: "must be >= 1"}
		}
		e.iterations = n
		return nil
	}
}

// WithExtractor replaces DefaultExtractor.
func WithExtractor(x Extractor) Option {
	return func(e *Engine) error {
		if x == nil {
			return errors.New("extractor cannot be nil")
		}
		e.extractor = x
		return nil
	}
}

// WithComparator replaces the DefaultComparator.
func WithComparator(c Comparator) Option {
	return func(e *Engine) error {
		if c == nil {
			return errors.New("comparator cannot be nil")
		}
		e.comparator = c
		return nil
	}
}

// WithPrecedence sets the order in which difference kinds are ranked.
// Default: DefaultPrecedence.
func WithPrecedence(precedence ...EqualityError) Option {
	return func(e *Engine) error {
		if len(precedence) == 0 {
			return &ConfigError{Field: "precedence", Message: "must list at least one kind"}
		}
		e.precedence = append([]EqualityError(nil), precedence...)
		return nil
	}
}

// WithStore persists responses and reports. Default: none.
func WithStore(s store.Store[ResponseFingerprint]) Option {
	return func(e *Engine) error {
		e.store = s
		return nil
	}
}

// WithLogger sets the structured logger. Default: zerolog.Nop().
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithMetrics records verdicts in Prometheus.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// WithEmitter sets the event emitter. Default: NullEmitter.
func WithEmitter(em emit.Emitter) Option {
	return func(e *Engine) error {
		if em == nil {
			return errors.New("emitter cannot be nil")
		}
		e.emitter = em
		return nil
	}
}

// WithAttackName labels reports and metrics.
func WithAttackName(name string) Option {
	return func(e *Engine) error {
		e.attack = name
		return nil
	}
}

// WithTarget points every initiator connection of the built traces at addr.
func WithTarget(addr string) Option {
	return func(e *Engine) error {
		e.target = addr
		return nil
	}
}
