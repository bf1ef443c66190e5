package workflow

import (
	"fmt"

	"github.com/google/uuid"
)

// State pairs one Config with one WorkflowTrace and a Context per
// connection. A State is owned by the task that created it and is never
// shared between goroutines.
type State struct {
	id       string
	config   Config
	trace    *WorkflowTrace
	contexts []*Context

	execErr     error
	unsupported []int
}

// NewState builds a State with fresh contexts for every declared connection.
// The trace is normalized first.
func NewState(cfg Config, trace *WorkflowTrace) *State {
	if trace == nil {
		trace = NewWorkflowTrace("")
	}
	trace.Normalize()
	s := &State{
		id:     uuid.NewString(),
		config: cfg,
		trace:  trace,
	}
	s.contexts = s.newContexts()
	return s
}

func (s *State) newContexts() []*Context {
	conns := s.trace.Connections()
	out := make([]*Context, len(conns))
	for i, c := range conns {
		out[i] = newContext(c)
	}
	return out
}

// ID returns the unique identifier of this state.
func (s *State) ID() string { return s.id }

// Config returns the configuration.
func (s *State) Config() Config { return s.config }

// Trace returns the workflow trace.
func (s *State) Trace() *WorkflowTrace { return s.trace }

// Context returns the context of the connection declared under alias.
func (s *State) Context(alias string) (*Context, error) {
	for _, c := range s.contexts {
		if c.Connection.Alias == alias {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAlias, alias)
}

// Contexts returns every context in declaration order.
func (s *State) Contexts() []*Context {
	return s.contexts
}

// ExecutionError returns the error recorded by the last execution, if any.
func (s *State) ExecutionError() error { return s.execErr }

// UnsupportedActions returns the indices of actions skipped as unsupported
// during the last execution.
func (s *State) UnsupportedActions() []int {
	return append([]int(nil), s.unsupported...)
}

// HasTransportException reports whether any context saw a transport failure.
func (s *State) HasTransportException() bool {
	for _, c := range s.contexts {
		if c.ReceivedTransportHandlerException {
			return true
		}
	}
	return false
}

func (s *State) recordError(err error) {
	if s.execErr == nil {
		s.execErr = err
	}
}

// Reset closes open transports, replaces every context with a fresh one and
// resets the trace so the State can execute again.
func (s *State) Reset() {
	for _, c := range s.contexts {
		if c.Transport != nil {
			_ = c.Transport.Close()
		}
	}
	s.contexts = s.newContexts()
	s.trace.Reset()
	s.execErr = nil
	s.unsupported = nil
}

// Clone returns an unexecuted State with a copied Config, a cloned trace
// and fresh contexts under a new ID.
func (s *State) Clone() (*State, error) {
	cfg, err := s.config.Copy()
	if err != nil {
		return nil, err
	}
	return NewState(cfg, s.trace.Clone()), nil
}
