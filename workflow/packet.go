package workflow

import "context"

// PacketExecutor runs a trace over a packet-oriented layer stack.
//
// It retransmits like DatagramExecutor, bounded by
// Config.MaxPacketRetransmissions. When a lower layer raises ErrSkipAction
// (for example because the action's packets were coalesced into an earlier
// datagram) the action is skipped without counting as failed. Actions that
// both receive and send on different connections are not supported.
type PacketExecutor struct {
	*machine
}

// NewPacketExecutor returns a packet executor for state.
func NewPacketExecutor(state *State, opts ...Option) (*PacketExecutor, error) {
	m, err := newMachine(state, ExecutorPacket, opts)
	if err != nil {
		return nil, err
	}
	m.maxRetransmissions = state.Config().MaxPacketRetransmissions
	m.allowSkip = true
	m.unsupported = func(a Action) bool { return IsSending(a) && IsReceiving(a) }
	m.closeNotify = closeNotifyCurrent
	return &PacketExecutor{machine: m}, nil
}

// ExecuteWorkflow plays the trace over packets.
func (e *PacketExecutor) ExecuteWorkflow(ctx context.Context) error {
	return e.run(ctx)
}
