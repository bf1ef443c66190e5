package parallel

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPoolSize is returned by New for a size that is neither
	// positive nor Unbounded.
	ErrInvalidPoolSize = errors.New("pool size must be positive or Unbounded")

	// ErrInvalidReexecutions is returned by New for a negative reexecution count.
	ErrInvalidReexecutions = errors.New("reexecutions must be >= 0")

	// ErrExecutorShutdown is returned when a batch is submitted after Shutdown.
	ErrExecutorShutdown = errors.New("parallel executor is shut down")

	// ErrWatchdogFailed is returned when the watchdog's recovery hook reports
	// a non-zero exit code.
	ErrWatchdogFailed = errors.New("watchdog recovery failed")
)

// TaskPanicError reports a panic raised while a task was executing. It fails
// the whole batch.
type TaskPanicError struct {
	// Index is the position of the task in the submitted batch.
	Index int

	// Value is the recovered panic value.
	Value interface{}

	// Stack is the goroutine stack captured at recovery time.
	Stack []byte
}

func (e *TaskPanicError) Error() string {
	return fmt.Sprintf("task %d panicked: %v", e.Index, e.Value)
}
