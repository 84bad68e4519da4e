package observing

// powerRule describes the admissibility and result of a power-state command.
type powerRule struct {
	allowed []PowerState
	result  PowerState
}

// powerRules is the power-state admissibility table. Each command is allowed
// from every state except its own resulting state, so invoking a command
// from its terminal state (e.g. Off while OFF) is always rejected.
var powerRules = map[Command]powerRule{
	CommandOff:     {allowed: []PowerState{PowerStandby, PowerDisable, PowerOn}, result: PowerOff},
	CommandStandby: {allowed: []PowerState{PowerOff, PowerDisable, PowerOn}, result: PowerStandby},
	CommandDisable: {allowed: []PowerState{PowerOff, PowerStandby, PowerOn}, result: PowerDisable},
	CommandOn:      {allowed: []PowerState{PowerOff, PowerStandby, PowerDisable}, result: PowerOn},
}

// Transition describes the observing-state path a command takes: an optional
// transient state followed by the terminal state.
type Transition struct {
	Transient    ObsState
	HasTransient bool
	Terminal     ObsState
}

// obsRule describes the admissibility and transition of an observing command.
type obsRule struct {
	allowed    []ObsState
	transition Transition
}

// obsRules is the observing-state admissibility table. Transient states do
// not appear in any allowed set except where Abort/ObsReset/Restart permit
// leaving them, so a command arriving while an operation is in progress is
// rejected rather than queued.
var obsRules = map[Command]obsRule{
	CommandAssignResources: {
		allowed:    []ObsState{ObsEmpty, ObsIdle},
		transition: Transition{Transient: ObsResourcing, HasTransient: true, Terminal: ObsIdle},
	},
	CommandReleaseResources: {
		allowed:    []ObsState{ObsIdle},
		transition: Transition{Transient: ObsResourcing, HasTransient: true, Terminal: ObsEmpty},
	},
	CommandConfigure: {
		allowed:    []ObsState{ObsIdle, ObsReady},
		transition: Transition{Transient: ObsConfiguring, HasTransient: true, Terminal: ObsReady},
	},
	CommandScan: {
		allowed:    []ObsState{ObsReady},
		transition: Transition{Terminal: ObsScanning},
	},
	CommandEndScan: {
		allowed:    []ObsState{ObsScanning},
		transition: Transition{Terminal: ObsReady},
	},
	CommandEnd: {
		allowed:    []ObsState{ObsReady},
		transition: Transition{Terminal: ObsIdle},
	},
	CommandAbort: {
		allowed:    []ObsState{ObsIdle, ObsConfiguring, ObsReady, ObsScanning, ObsResetting},
		transition: Transition{Transient: ObsAborting, HasTransient: true, Terminal: ObsAborted},
	},
	CommandObsReset: {
		allowed:    []ObsState{ObsAborted, ObsFault},
		transition: Transition{Transient: ObsResetting, HasTransient: true, Terminal: ObsIdle},
	},
	CommandRestart: {
		allowed:    []ObsState{ObsAborted, ObsFault},
		transition: Transition{Transient: ObsRestarting, HasTransient: true, Terminal: ObsEmpty},
	},
}

// AllowedPowerStates returns the power states from which cmd is admissible.
// The second return value is false for commands not in the power table.
func AllowedPowerStates(cmd Command) ([]PowerState, bool) {
	rule, ok := powerRules[cmd]
	if !ok {
		return nil, false
	}
	states := make([]PowerState, len(rule.allowed))
	copy(states, rule.allowed)
	return states, true
}

// AllowedObsStates returns the observing states from which cmd is admissible.
// The second return value is false for commands not in the observing table.
func AllowedObsStates(cmd Command) ([]ObsState, bool) {
	rule, ok := obsRules[cmd]
	if !ok {
		return nil, false
	}
	states := make([]ObsState, len(rule.allowed))
	copy(states, rule.allowed)
	return states, true
}

// ObsTransition returns the observing-state transition for cmd.
// The second return value is false for commands not in the observing table.
func ObsTransition(cmd Command) (Transition, bool) {
	rule, ok := obsRules[cmd]
	return rule.transition, ok
}

// PowerMachine is the controlled-entity capability: it holds the device
// power state and enforces the power-state admissibility table. It is the
// only component that mutates the power state.
//
// PowerMachine is not safe for concurrent use; the owning entity serialises
// access.
type PowerMachine struct {
	state PowerState
}

// NewPowerMachine creates a power machine in the given initial state.
func NewPowerMachine(initial PowerState) PowerMachine {
	return PowerMachine{state: initial}
}

// State returns the current power state.
func (m *PowerMachine) State() PowerState {
	return m.state
}

// Restore sets the power state directly. It is used only when restoring a
// persisted snapshot, never on the command path.
func (m *PowerMachine) Restore(state PowerState) {
	m.state = state
}

// CanApply reports whether cmd is admissible from the current power state.
func (m *PowerMachine) CanApply(cmd Command) bool {
	rule, ok := powerRules[cmd]
	if !ok {
		return false
	}
	for _, s := range rule.allowed {
		if s == m.state {
			return true
		}
	}
	return false
}

// Check returns nil if cmd is admissible, otherwise an InvalidStateError
// naming the command, the current power state and the allowed set.
func (m *PowerMachine) Check(cmd Command) error {
	rule, ok := powerRules[cmd]
	if !ok {
		return ErrUnknownCommand
	}
	if m.CanApply(cmd) {
		return nil
	}
	allowed := make([]string, len(rule.allowed))
	for i, s := range rule.allowed {
		allowed[i] = s.String()
	}
	return &InvalidStateError{
		Command:   cmd,
		Attribute: "power state",
		Current:   m.state.String(),
		Allowed:   allowed,
	}
}

// Apply checks admissibility and commits the power transition.
// On rejection the state is left unchanged.
func (m *PowerMachine) Apply(cmd Command) (PowerState, error) {
	if err := m.Check(cmd); err != nil {
		return m.state, err
	}
	m.state = powerRules[cmd].result
	return m.state, nil
}

// ObsMachine is the observable-entity capability: it holds the observing
// state and enforces the observing-state admissibility table. A Subarray
// composes an ObsMachine with a PowerMachine; a Master carries only the
// PowerMachine.
//
// ObsMachine is not safe for concurrent use; the owning entity serialises
// access.
type ObsMachine struct {
	state     ObsState
	activated bool
}

// NewObsMachine creates an observing machine in the EMPTY state.
func NewObsMachine() ObsMachine {
	return ObsMachine{state: ObsEmpty}
}

// State returns the current observing state.
func (m *ObsMachine) State() ObsState {
	return m.state
}

// Restore sets the observing state and activation flag directly. It is used
// only when restoring a persisted snapshot, never on the command path.
func (m *ObsMachine) Restore(state ObsState, activated bool) {
	m.state = state
	m.activated = activated
}

// Activated reports whether the device has been turned on at least once.
func (m *ObsMachine) Activated() bool {
	return m.activated
}

// Activate records the first device-level On: it sets the observing state
// to EMPTY on the first activation only; later On commands leave the
// observing state untouched.
func (m *ObsMachine) Activate() {
	if !m.activated {
		m.activated = true
		m.state = ObsEmpty
	}
}

// CanApply reports whether cmd is admissible given the current observing
// state and the device power state. All observing commands additionally
// require the device to be ON.
func (m *ObsMachine) CanApply(cmd Command, power PowerState) bool {
	if power != PowerOn {
		return false
	}
	rule, ok := obsRules[cmd]
	if !ok {
		return false
	}
	for _, s := range rule.allowed {
		if s == m.state {
			return true
		}
	}
	return false
}

// Check returns nil if cmd is admissible, otherwise an InvalidStateError
// naming the command, the gating attribute and the allowed set.
func (m *ObsMachine) Check(cmd Command, power PowerState) error {
	rule, ok := obsRules[cmd]
	if !ok {
		return ErrUnknownCommand
	}
	if power != PowerOn {
		return &InvalidStateError{
			Command:   cmd,
			Attribute: "power state",
			Current:   power.String(),
			Allowed:   []string{PowerOn.String()},
		}
	}
	if m.CanApply(cmd, power) {
		return nil
	}
	allowed := make([]string, len(rule.allowed))
	for i, s := range rule.allowed {
		allowed[i] = s.String()
	}
	return &InvalidStateError{
		Command:   cmd,
		Attribute: "obsState",
		Current:   m.state.String(),
		Allowed:   allowed,
	}
}

// Begin checks admissibility and returns the transition cmd will take.
// It does not mutate state; the caller commits the transient and terminal
// states via Set as the operation progresses.
func (m *ObsMachine) Begin(cmd Command, power PowerState) (Transition, error) {
	if err := m.Check(cmd, power); err != nil {
		return Transition{}, err
	}
	return obsRules[cmd].transition, nil
}

// Set commits an observing-state value reached through a Transition.
func (m *ObsMachine) Set(state ObsState) {
	m.state = state
}

// Fault drives the observing state to FAULT. This is the only path into
// FAULT: an internal failure during a transient-state operation.
func (m *ObsMachine) Fault() {
	m.state = ObsFault
}
