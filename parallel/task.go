package parallel

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/handshake-go/workflow"
)

// ErrTransportException marks a StateTask attempt whose workflow observed a
// transport failure in one of its contexts.
var ErrTransportException = errors.New("transport exception during workflow")

// ErrWorkflowAborted marks a StateTask attempt whose workflow was aborted
// with an error recorded on its State, such as a preparation failure.
var ErrWorkflowAborted = errors.New("workflow aborted")

// Task is one independently executable unit of work.
//
// Execute performs a single attempt. When it returns an error the executor
// calls Reset and tries again, up to the configured number of reexecutions.
type Task interface {
	Execute(ctx context.Context) error
	Reset()
}

// DefaultsReceiver is implemented by tasks that inherit the executor's
// default callbacks and workflow options before their first attempt.
type DefaultsReceiver interface {
	InheritDefaults(cb workflow.Callbacks, opts []workflow.Option)
}

// Result describes the outcome of one task in a batch.
type Result struct {
	// Task is the submitted task.
	Task Task

	// Index is the task's position in the submitted batch.
	Index int

	// Attempts counts executions, including the first.
	Attempts int

	// Err is the error of the last attempt, nil on success.
	Err error

	// HasError is set when every allowed attempt failed.
	HasError bool
}

// StateTask executes one workflow State with a variant executor.
//
// Extract, when set, runs after each successful workflow execution and its
// value is stored in Result. An extraction error counts as a failed attempt.
type StateTask struct {
	State     *workflow.State
	Callbacks workflow.Callbacks
	Extract   func(*workflow.State) (interface{}, error)

	// Result is the value returned by Extract for the last successful attempt.
	Result interface{}

	// Filled in once the batch completes.
	Attempts int
	Err      error
	hasError bool

	opts []workflow.Option
}

// NewStateTask wraps state in a task.
func NewStateTask(state *workflow.State) *StateTask {
	return &StateTask{State: state}
}

// HasError reports whether the task failed after exhausting its reexecutions.
func (t *StateTask) HasError() bool { return t.hasError }

// InheritDefaults implements DefaultsReceiver. Callbacks already set on the
// task take precedence over the executor defaults.
func (t *StateTask) InheritDefaults(cb workflow.Callbacks, opts []workflow.Option) {
	if t.Callbacks.IsZero() {
		t.Callbacks = cb
	}
	t.opts = opts
}

// Execute runs the workflow once.
func (t *StateTask) Execute(ctx context.Context) error {
	if t.State == nil {
		return errors.New("state task has no state")
	}

	opts := make([]workflow.Option, 0, len(t.opts)+1)
	opts = append(opts, t.opts...)
	opts = append(opts, workflow.WithCallbacks(t.Callbacks))

	exec, err := workflow.NewExecutor(t.State, opts...)
	if err != nil {
		return err
	}
	if err := exec.ExecuteWorkflow(ctx); err != nil {
		return err
	}
	if t.State.HasTransportException() {
		return fmt.Errorf("state %s: %w", t.State.ID(), ErrTransportException)
	}
	if err := t.State.ExecutionError(); err != nil {
		return fmt.Errorf("state %s: %w: %w", t.State.ID(), ErrWorkflowAborted, err)
	}

	if t.Extract == nil {
		return nil
	}
	result, err := t.Extract(t.State)
	if err != nil {
		return fmt.Errorf("extract result: %w", err)
	}
	t.Result = result
	return nil
}

// Reset clears the state's contexts and trace for another attempt.
func (t *StateTask) Reset() {
	t.State.Reset()
	t.Result = nil
}

func (t *StateTask) apply(r Result) {
	t.Attempts = r.Attempts
	t.Err = r.Err
	t.hasError = r.HasError
}
