// Package observing holds the state model for subarray control entities.
//
// It defines the two state axes, device power state and observing state,
// and the per-command admissibility tables that decide whether a command is
// legal in the current state. The package is the single point of truth for
// "is command X currently legal": every command travels through PowerMachine
// or ObsMachine before any side effect occurs.
//
// # State model
//
//   - PowerState: OFF, STANDBY, DISABLE, ON. Mutated only by the
//     On/Off/Standby/Disable commands.
//   - ObsState: the observing lifecycle, EMPTY through RESTARTING.
//     RESOURCING, CONFIGURING, ABORTING, RESETTING and RESTARTING are
//     transient and resolve synchronously to their terminal successor, or
//     to FAULT on internal failure.
//
// # Capabilities
//
// PowerMachine is the generic controlled-entity capability (power state +
// its table). ObsMachine is the narrower observable-entity capability
// (observing state + its table). The Master entity carries only a
// PowerMachine; the Subarray entity composes both.
//
// Rejections are reported as *InvalidStateError, which unwraps to
// ErrInvalidState and names the command, the current state and the allowed
// set. A rejected command never mutates state.
package observing
