package workflow

import (
	"fmt"
)

// WorkflowTrace is the ordered plan of one protocol run: the connections it
// uses and the actions to play over them. After execution the actions also
// hold what happened, so the trace doubles as the run's ledger.
type WorkflowTrace struct {
	Name        string
	connections []Connection
	actions     []Action
}

// NewWorkflowTrace returns an empty trace.
func NewWorkflowTrace(name string) *WorkflowTrace {
	return &WorkflowTrace{Name: name}
}

// AddConnection declares a connection. Aliases must be unique.
func (t *WorkflowTrace) AddConnection(conn Connection) error {
	if conn.Alias == "" {
		return fmt.Errorf("%w: connection alias cannot be empty", ErrUnknownAlias)
	}
	for _, c := range t.connections {
		if c.Alias == conn.Alias {
			return fmt.Errorf("duplicate connection alias %q", conn.Alias)
		}
	}
	t.connections = append(t.connections, conn)
	return nil
}

// Connection returns the connection declared under alias.
func (t *WorkflowTrace) Connection(alias string) (Connection, bool) {
	for _, c := range t.connections {
		if c.Alias == alias {
			return c, true
		}
	}
	return Connection{}, false
}

// SetConnectionAddr points every initiator connection at addr. Responder
// connections keep their listen address.
func (t *WorkflowTrace) SetConnectionAddr(addr string) {
	for i := range t.connections {
		if t.connections[i].Role == RoleInitiator {
			t.connections[i].Addr = addr
		}
	}
}

// Connections returns a copy of the declared connections.
func (t *WorkflowTrace) Connections() []Connection {
	return append([]Connection(nil), t.connections...)
}

// AddAction appends actions to the plan.
func (t *WorkflowTrace) AddAction(actions ...Action) {
	t.actions = append(t.actions, actions...)
}

// InsertAction inserts a at index i.
func (t *WorkflowTrace) InsertAction(i int, a Action) error {
	if i < 0 || i > len(t.actions) {
		return fmt.Errorf("action index %d out of range [0,%d]", i, len(t.actions))
	}
	t.actions = append(t.actions, nil)
	copy(t.actions[i+1:], t.actions[i:])
	t.actions[i] = a
	return nil
}

// RemoveAction removes and returns the action at index i.
func (t *WorkflowTrace) RemoveAction(i int) (Action, error) {
	if i < 0 || i >= len(t.actions) {
		return nil, fmt.Errorf("action index %d out of range [0,%d)", i, len(t.actions))
	}
	removed := t.actions[i]
	t.actions = append(t.actions[:i], t.actions[i+1:]...)
	return removed, nil
}

// ReplaceAction swaps the action at index i for a and returns the old one.
func (t *WorkflowTrace) ReplaceAction(i int, a Action) (Action, error) {
	if i < 0 || i >= len(t.actions) {
		return nil, fmt.Errorf("action index %d out of range [0,%d)", i, len(t.actions))
	}
	old := t.actions[i]
	t.actions[i] = a
	return old, nil
}

// Actions returns the plan. The slice is shared with the trace; do not append.
func (t *WorkflowTrace) Actions() []Action {
	return t.actions
}

// Reset clears the execution results of every action. It is idempotent and
// safe on a trace that never ran.
func (t *WorkflowTrace) Reset() {
	for _, a := range t.actions {
		a.Reset()
	}
}

// ExecutedAsPlanned reports whether every action executed as planned.
func (t *WorkflowTrace) ExecutedAsPlanned() bool {
	for _, a := range t.actions {
		if !a.ExecutedAsPlanned() {
			return false
		}
	}
	return true
}

// Normalize assigns the sole declared connection to actions without an alias.
func (t *WorkflowTrace) Normalize() {
	if len(t.connections) != 1 {
		return
	}
	alias := t.connections[0].Alias
	for _, a := range t.actions {
		if s, ok := a.(interface{ setDefaultAlias(string) }); ok {
			s.setDefaultAlias(alias)
		}
	}
}

// Validate checks that every alias referenced by an action is declared.
func (t *WorkflowTrace) Validate() error {
	if len(t.connections) == 0 {
		return &ExecutionError{Code: codeInvalidTrace, ActionIndex: -1, Message: "trace declares no connections"}
	}
	for i, a := range t.actions {
		if a == nil {
			return &ExecutionError{Code: codeInvalidTrace, ActionIndex: i, Message: "nil action"}
		}
		for _, alias := range a.Aliases() {
			if _, ok := t.Connection(alias); !ok {
				return &ExecutionError{
					Code:        codeInvalidTrace,
					ActionIndex: i,
					Message:     fmt.Sprintf("%s references %q", a.Kind(), alias),
					Cause:       ErrUnknownAlias,
				}
			}
		}
	}
	return nil
}

// Clone returns an unexecuted copy of the plan.
func (t *WorkflowTrace) Clone() *WorkflowTrace {
	c := &WorkflowTrace{
		Name:        t.Name,
		connections: append([]Connection(nil), t.connections...),
		actions:     make([]Action, len(t.actions)),
	}
	for i, a := range t.actions {
		c.actions[i] = a.Clone()
	}
	return c
}

// LastReceivingAction returns the last receiving action on alias, or nil.
// An empty alias matches any connection.
func (t *WorkflowTrace) LastReceivingAction(alias string) ReceivingAction {
	for i := len(t.actions) - 1; i >= 0; i-- {
		if r, ok := t.actions[i].(ReceivingAction); ok && (alias == "" || r.ReceivingAlias() == alias) {
			return r
		}
	}
	return nil
}

// SendingActions returns every action with the sending capability, in order.
func (t *WorkflowTrace) SendingActions() []SendingAction {
	var out []SendingAction
	for _, a := range t.actions {
		if s, ok := a.(SendingAction); ok {
			out = append(out, s)
		}
	}
	return out
}

// ReceivingActions returns every action with the receiving capability, in order.
func (t *WorkflowTrace) ReceivingActions() []ReceivingAction {
	var out []ReceivingAction
	for _, a := range t.actions {
		if r, ok := a.(ReceivingAction); ok {
			out = append(out, r)
		}
	}
	return out
}
