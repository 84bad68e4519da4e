package subarray

import (
	"errors"
	"fmt"

	"github.com/radioastro/subarray-core/internal/observing"
)

// Sentinel errors for subarray operations.
var (
	// ErrNotFound is returned when a subarray ID is not registered.
	ErrNotFound = errors.New("subarray: not found")

	// ErrExists is returned when registering a subarray ID twice.
	ErrExists = errors.New("subarray: already exists")

	// ErrInternal wraps unexpected failures during a transient-state
	// operation. It is the only error kind raised after state mutation
	// has begun; the observing state is FAULT by the time it surfaces.
	ErrInternal = errors.New("subarray: internal error")
)

// InternalError reports an unexpected failure while a command was in its
// transient phase. The entity's observing state has been driven to FAULT.
type InternalError struct {
	Command observing.Command
	Err     error
}

// Error implements the error interface.
func (e *InternalError) Error() string {
	return fmt.Sprintf("command %s failed during execution: %v", e.Command, e.Err)
}

// Unwrap returns ErrInternal so callers can match with errors.Is, and the
// underlying cause via a second unwrap step.
func (e *InternalError) Unwrap() []error {
	return []error{ErrInternal, e.Err}
}
