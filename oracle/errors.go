package oracle

import (
	"errors"
	"fmt"
)

var (
	// ErrMaterialUnavailable is returned by a VectorGenerator when public
	// material the vectors depend on (a server key, a certificate) could not
	// be obtained. The engine turns it into an UNKNOWN verdict.
	ErrMaterialUnavailable = errors.New("required public material unavailable")

	// ErrInconsistentTarget reports that the negotiated parameters changed
	// between tasks of one scan. The scan is aborted with an UNKNOWN verdict.
	ErrInconsistentTarget = errors.New("target behaved inconsistently during scan")

	// ErrNoVectors is returned when the generator produced no vectors.
	ErrNoVectors = errors.New("vector generator produced no vectors")

	// ErrNoControl is returned by generators without a control vector.
	ErrNoControl = errors.New("no control vector available")
)

// ConfigError reports an invalid engine setup.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("oracle config: %s: %s", e.Field, e.Message)
}
