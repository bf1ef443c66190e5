// Package emit provides event emission and observability for workflow execution.
package emit

// Emitter receives observability events from workflow executors, the parallel
// executor and the oracle engine.
//
// Implementations should be:
//   - Non-blocking: workers call Emit on the hot path
//   - Thread-safe: many tasks emit concurrently
//   - Resilient: a failing backend must never fail a workflow
type Emitter interface {
	// Emit sends one event to the backend. Emit must not panic.
	Emit(event Event)
}

// Multi fans one event out to several emitters in order.
type Multi []Emitter

// Emit forwards the event to every non-nil emitter.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
