package workflow

import "context"

// DatagramExecutor runs a trace over an unreliable datagram transport.
//
// Actions are grouped into flights: a run of sending actions that follows a
// receiving action (or starts the trace). When an action does not execute as
// planned, the executor resends the already prepared records of the current
// flight, rewinds to the first receiving action after it and tries again, at
// most Config.MaxRetransmissions times per flight. The counter restarts with
// every new flight.
type DatagramExecutor struct {
	*machine
}

// NewDatagramExecutor returns a datagram executor for state.
func NewDatagramExecutor(state *State, opts ...Option) (*DatagramExecutor, error) {
	m, err := newMachine(state, ExecutorDatagram, opts)
	if err != nil {
		return nil, err
	}
	m.maxRetransmissions = state.Config().MaxRetransmissions
	m.closeNotify = closeNotifyAllEpochs
	return &DatagramExecutor{machine: m}, nil
}

// ExecuteWorkflow plays the trace with flight retransmission.
func (e *DatagramExecutor) ExecuteWorkflow(ctx context.Context) error {
	return e.run(ctx)
}
