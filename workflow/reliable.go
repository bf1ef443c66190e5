package workflow

import "context"

// ReliableExecutor runs a trace over a stream transport. Every action is
// attempted exactly once.
type ReliableExecutor struct {
	*machine
}

// NewReliableExecutor returns a reliable-transport executor for state.
func NewReliableExecutor(state *State, opts ...Option) (*ReliableExecutor, error) {
	m, err := newMachine(state, ExecutorReliable, opts)
	if err != nil {
		return nil, err
	}
	m.closeNotify = closeNotifyCurrent
	return &ReliableExecutor{machine: m}, nil
}

// ExecuteWorkflow plays the trace once.
func (e *ReliableExecutor) ExecuteWorkflow(ctx context.Context) error {
	return e.run(ctx)
}
