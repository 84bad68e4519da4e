package sbi

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the sbi package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, sbi.ErrDependency) {
//	    // the processing-block dependency graph is not well-formed
//	}
var (
	// ErrDependency is returned when the processing-block dependency graph
	// fails a well-formedness check.
	ErrDependency = errors.New("sbi: invalid processing block dependencies")

	// ErrUnknownScanType is returned when Configure names a scan type that
	// is not declared in the SBI or supplied in the same call.
	ErrUnknownScanType = errors.New("sbi: unknown scan type")

	// ErrMalformedPayload is returned when a validated payload cannot be
	// decoded into the SBI model. This indicates a schema/decoder mismatch
	// rather than a client error.
	ErrMalformedPayload = errors.New("sbi: malformed payload")
)

// DependencyError reports a processing-block dependency violation: an
// unknown reference, a self-dependency, a duplicate block id, dependencies
// on a realtime workflow, or a cycle. It names the offending block ids.
type DependencyError struct {
	// SBID is the scheduling block at fault, when the violation is a
	// reused scheduling block id.
	SBID string

	// PBID is the block whose declaration is at fault; empty for cycles
	// and scheduling-block-level violations.
	PBID string

	// Ref is the referenced pb_id, when the violation is a bad reference.
	Ref string

	// Cycle lists the blocks participating in a dependency cycle, in
	// traversal order with the entry block repeated at the end.
	Cycle []string

	// Reason is a short description of the violated constraint.
	Reason string
}

func (e *DependencyError) Error() string {
	switch {
	case len(e.Cycle) > 0:
		return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
	case e.SBID != "":
		return fmt.Sprintf("scheduling block %s: %s", e.SBID, e.Reason)
	case e.Ref != "":
		return fmt.Sprintf("processing block %s: %s %s", e.PBID, e.Reason, e.Ref)
	default:
		return fmt.Sprintf("processing block %s: %s", e.PBID, e.Reason)
	}
}

// Unwrap makes the error match ErrDependency under errors.Is.
func (e *DependencyError) Unwrap() error {
	return ErrDependency
}

// ScanTypeError reports a Configure request naming a scan type that cannot
// be resolved against the SBI's scan types plus any new_scan_types supplied
// in the same call.
type ScanTypeError struct {
	ScanType string
	Known    []string
}

func (e *ScanTypeError) Error() string {
	return fmt.Sprintf("scan type %q not found (known: %s)",
		e.ScanType, strings.Join(e.Known, ", "))
}

// Unwrap makes the error match ErrUnknownScanType under errors.Is.
func (e *ScanTypeError) Unwrap() error {
	return ErrUnknownScanType
}
