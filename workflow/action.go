package workflow

import "context"

// Action kinds.
const (
	ActionSend        = "send"
	ActionReceive     = "receive"
	ActionReset       = "reset_connection"
	ActionChangeState = "change_state"
	ActionWait        = "wait"
	ActionForward     = "forward"
)

// Action is one step of a workflow trace.
//
// Executors never switch on the concrete type. They dispatch on the
// capability interfaces SendingAction, ReceivingAction and
// StateMutatingAction, so new action kinds need no executor changes.
type Action interface {
	// Kind names the action for logs, events and serialization.
	Kind() string

	// Aliases lists the connection aliases the action touches.
	Aliases() []string

	// Execute runs the action against s. Transport failures are absorbed into
	// context flags and the planned predicate; only preparation problems and
	// unexpected failures are returned.
	Execute(ctx context.Context, s *State) error

	// Executed reports whether Execute ran since the last Reset.
	Executed() bool

	// ExecutedAsPlanned reports whether the action did what it was meant to.
	ExecutedAsPlanned() bool

	// Reset clears execution results but keeps the plan.
	Reset()

	// Clone returns an unexecuted copy of the plan.
	Clone() Action
}

// SendingAction is an action that writes messages to a connection.
type SendingAction interface {
	Action
	SendingAlias() string
	Messages() []Message

	// Prepared returns the wire units produced by the last execution, used to
	// retransmit a flight without rebuilding its messages.
	Prepared() [][]byte
}

// ReceivingAction is an action that reads messages from a connection.
type ReceivingAction interface {
	Action
	ReceivingAlias() string
	ExpectedKinds() []string
	Received() []Message
}

// StateMutatingAction is an action that changes a Context without I/O.
type StateMutatingAction interface {
	Action
	Mutation() (field, value string)
}

// IsSending reports whether a has the sending capability.
func IsSending(a Action) bool {
	_, ok := a.(SendingAction)
	return ok
}

// IsReceiving reports whether a has the receiving capability.
func IsReceiving(a Action) bool {
	_, ok := a.(ReceivingAction)
	return ok
}

// actionBase carries the execution flags every action shares.
type actionBase struct {
	executed bool
	planned  bool
}

func (b *actionBase) Executed() bool { return b.executed }

func (b *actionBase) ExecutedAsPlanned() bool { return b.executed && b.planned }

func (b *actionBase) Reset() {
	b.executed = false
	b.planned = false
}

func (b *actionBase) finish(planned bool) {
	b.executed = true
	b.planned = planned
}

// markSkipped marks an action as executed as a no-op, used when the active
// executor does not support it.
func markSkipped(a Action) {
	if s, ok := a.(interface{ skip() }); ok {
		s.skip()
	}
}

func (b *actionBase) skip() { b.finish(true) }
