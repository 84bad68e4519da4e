package observing

import "fmt"

// ParsePowerState converts an attribute representation back to a PowerState.
func ParsePowerState(s string) (PowerState, error) {
	for _, v := range []PowerState{PowerOff, PowerStandby, PowerDisable, PowerOn} {
		if v.String() == s {
			return v, nil
		}
	}
	return PowerOff, fmt.Errorf("observing: unknown power state %q", s)
}

// ParseObsState converts an attribute representation back to an ObsState.
func ParseObsState(s string) (ObsState, error) {
	for v := ObsEmpty; v <= ObsRestarting; v++ {
		if v.String() == s {
			return v, nil
		}
	}
	return ObsEmpty, fmt.Errorf("observing: unknown observing state %q", s)
}

// ParseHealthState converts an attribute representation back to a HealthState.
func ParseHealthState(s string) (HealthState, error) {
	for _, v := range []HealthState{HealthOK, HealthDegraded, HealthFailed, HealthUnknown} {
		if v.String() == s {
			return v, nil
		}
	}
	return HealthUnknown, fmt.Errorf("observing: unknown health state %q", s)
}

// ParseCommand converts a command name to a Command, accepting only names
// present in the admissibility tables.
func ParseCommand(s string) (Command, error) {
	for _, c := range PowerCommands() {
		if string(c) == s {
			return c, nil
		}
	}
	for _, c := range ObsCommands() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownCommand, s)
}
