package workflow

import (
	"errors"
	"fmt"
)

// ErrPreparation indicates that a message could not be built, for example
// because required key material is missing. It aborts the current workflow
// only and is recorded on its State.
var ErrPreparation = errors.New("preparation failed")

// ErrUnsupportedOperation indicates an action the active executor variant does
// not implement. It is logged and recorded; the trace continues.
var ErrUnsupportedOperation = errors.New("unsupported operation")

// ErrSkipAction is raised by a lower layer (for example when packets were
// coalesced) to tell the packet executor to move on without counting the
// action as failed.
var ErrSkipAction = errors.New("skip action")

// ErrTransport indicates that a transport handle could not be initialized.
var ErrTransport = errors.New("transport failure")

// ErrUnknownAlias indicates an action or lookup referring to a connection
// alias the trace does not declare.
var ErrUnknownAlias = errors.New("unknown connection alias")

// ExecutionError describes why a workflow did not run to completion.
//
// Codes:
//   - PREPARATION: a message could not be prepared, the trace was aborted
//   - TRANSPORT_INIT: a transport handle could not be opened
//   - ACTION_FAILED: an action failed with an unexpected error
//   - INVALID_TRACE: the trace failed validation before execution
//   - INVALID_CONFIG: a required parameter is missing or out of range
type ExecutionError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code.
	Code string

	// ActionIndex is the index of the failing action, or -1.
	ActionIndex int

	// Cause is the underlying error.
	Cause error
}

func (e *ExecutionError) Error() string {
	msg := e.Message
	if e.ActionIndex >= 0 {
		msg = fmt.Sprintf("action %d: %s", e.ActionIndex, msg)
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

const (
	codePreparation   = "PREPARATION"
	codeTransportInit = "TRANSPORT_INIT"
	codeActionFailed  = "ACTION_FAILED"
	codeInvalidTrace  = "INVALID_TRACE"
	codeInvalidConfig = "INVALID_CONFIG"
)
