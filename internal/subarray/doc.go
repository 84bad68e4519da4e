// Package subarray implements the subarray control point: the entity that
// composes the power and observing state machines with the scheduling block
// and scan context they govern, and the Service that dispatches commands
// against it.
//
// The Service is the façade the transport layer calls. Each command runs
// as one unit under the entity's single-flight command slot: transaction
// id resolution, admissibility check, payload validation, semantic checks,
// then the state transition. A command arriving while another is in flight
// is rejected, never queued. Every rejection happens before any state
// mutation except internal failures during a transient phase, which drive
// the observing state to FAULT.
//
// The current state of each entity (and nothing older) is persisted through
// a SnapshotStore so a restart resumes where the last command left off.
package subarray
