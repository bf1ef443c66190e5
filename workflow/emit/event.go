package emit

// Event is an observability event emitted while a workflow, a task batch or an
// oracle scan executes.
//
// Events cover:
//   - action start/end inside one workflow trace
//   - flight retransmissions and trace aborts
//   - task completion and reexecution in the parallel executor
//   - watchdog trips
//   - oracle verdicts
type Event struct {
	// TraceID identifies the workflow state (or scan) that emitted this event.
	TraceID string

	// Step is the index of the action within the trace.
	// Zero for trace-level and batch-level events.
	Step int

	// Action names the action kind (e.g. "send", "receive").
	// Empty for trace-level events.
	Action string

	// Msg is a short machine-friendly description, e.g. "action_end".
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "planned": whether the action executed as planned
	//   - "alias": connection alias
	//   - "error": error string
	//   - "duration_ms": elapsed time in milliseconds
	//   - "attempt": reexecution or retransmission counter
	Meta map[string]interface{}
}

// Well-known event messages.
const (
	MsgActionStart     = "action_start"
	MsgActionEnd       = "action_end"
	MsgRetransmission  = "retransmission"
	MsgTraceAborted    = "trace_aborted"
	MsgTraceComplete   = "trace_complete"
	MsgTaskComplete    = "task_complete"
	MsgTaskReexecution = "task_reexecution"
	MsgWatchdogTrip    = "watchdog_trip"
	MsgVerdict         = "verdict"
)
