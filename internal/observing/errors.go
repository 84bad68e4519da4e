package observing

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the observing package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, observing.ErrInvalidState) {
//	    // command was rejected, state is unchanged
//	}
var (
	// ErrInvalidState is returned when a command is not admissible from the
	// current power state or observing state.
	ErrInvalidState = errors.New("observing: command not allowed")

	// ErrUnknownCommand is returned when a command name is not recognised.
	ErrUnknownCommand = errors.New("observing: unknown command")
)

// InvalidStateError reports a command rejected by the admissibility table.
// It carries the command name, the gating attribute, its current value and
// the set of values from which the command would have been allowed.
//
// The entity state is guaranteed to be unchanged when this error is returned.
type InvalidStateError struct {
	Command   Command
	Attribute string // "power state" or "obsState"
	Current   string
	Allowed   []string
}

func (e *InvalidStateError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("command %s not allowed while %s is %s",
			e.Command, e.Attribute, e.Current)
	}
	return fmt.Sprintf("command %s not allowed when %s is %s (allowed: %s)",
		e.Command, e.Attribute, e.Current, strings.Join(e.Allowed, ", "))
}

// Unwrap makes the error match ErrInvalidState under errors.Is.
func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}
