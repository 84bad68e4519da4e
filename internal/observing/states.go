package observing

// PowerState represents the device power state.
//
// It is one axis of the control model; the other is ObsState. Power state
// is mutated only by the On/Off/Standby/Disable commands.
type PowerState int

// PowerState values.
const (
	PowerOff PowerState = iota
	PowerStandby
	PowerDisable
	PowerOn
)

// String returns the attribute representation of the power state.
func (s PowerState) String() string {
	switch s {
	case PowerOff:
		return "OFF"
	case PowerStandby:
		return "STANDBY"
	case PowerDisable:
		return "DISABLE"
	case PowerOn:
		return "ON"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the power state as its name, matching the attribute
// read surface.
func (s PowerState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// ObsState represents the observing state of a subarray.
//
// RESOURCING, CONFIGURING, ABORTING, RESETTING and RESTARTING are transient:
// a device only leaves them when the triggering operation completes (or
// fails, which drives the state to FAULT).
type ObsState int

// ObsState values.
const (
	ObsEmpty ObsState = iota
	ObsResourcing
	ObsIdle
	ObsConfiguring
	ObsReady
	ObsScanning
	ObsAborting
	ObsAborted
	ObsResetting
	ObsFault
	ObsRestarting
)

// String returns the attribute representation of the observing state.
func (s ObsState) String() string {
	switch s {
	case ObsEmpty:
		return "EMPTY"
	case ObsResourcing:
		return "RESOURCING"
	case ObsIdle:
		return "IDLE"
	case ObsConfiguring:
		return "CONFIGURING"
	case ObsReady:
		return "READY"
	case ObsScanning:
		return "SCANNING"
	case ObsAborting:
		return "ABORTING"
	case ObsAborted:
		return "ABORTED"
	case ObsResetting:
		return "RESETTING"
	case ObsFault:
		return "FAULT"
	case ObsRestarting:
		return "RESTARTING"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the observing state as its name.
func (s ObsState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// IsTransient reports whether the state only exists for the duration of an
// in-progress operation.
func (s ObsState) IsTransient() bool {
	switch s {
	case ObsResourcing, ObsConfiguring, ObsAborting, ObsResetting, ObsRestarting:
		return true
	default:
		return false
	}
}

// HealthState represents the device health attribute.
type HealthState int

// HealthState values.
const (
	HealthOK HealthState = iota
	HealthDegraded
	HealthFailed
	HealthUnknown
)

// String returns the attribute representation of the health state.
func (s HealthState) String() string {
	switch s {
	case HealthOK:
		return "OK"
	case HealthDegraded:
		return "DEGRADED"
	case HealthFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the health state as its name.
func (s HealthState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Command identifies a device command.
type Command string

// Power-state commands.
const (
	CommandOn      Command = "On"
	CommandOff     Command = "Off"
	CommandStandby Command = "Standby"
	CommandDisable Command = "Disable"
)

// Observing-state commands.
const (
	CommandAssignResources  Command = "AssignResources"
	CommandReleaseResources Command = "ReleaseResources"
	CommandConfigure        Command = "Configure"
	CommandScan             Command = "Scan"
	CommandEndScan          Command = "EndScan"
	CommandEnd              Command = "End"
	CommandAbort            Command = "Abort"
	CommandObsReset         Command = "ObsReset"
	CommandRestart          Command = "Restart"
)

// PowerCommands returns the commands that mutate the power state.
func PowerCommands() []Command {
	return []Command{CommandOn, CommandOff, CommandStandby, CommandDisable}
}

// ObsCommands returns the commands that mutate the observing state.
func ObsCommands() []Command {
	return []Command{
		CommandAssignResources, CommandReleaseResources, CommandConfigure,
		CommandScan, CommandEndScan, CommandEnd, CommandAbort,
		CommandObsReset, CommandRestart,
	}
}

// IsPowerCommand reports whether cmd is one of On/Off/Standby/Disable.
func IsPowerCommand(cmd Command) bool {
	switch cmd {
	case CommandOn, CommandOff, CommandStandby, CommandDisable:
		return true
	default:
		return false
	}
}
