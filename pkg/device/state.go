package device

import (
	"fmt"
	"strings"
)

// State is a run state machine state.
type State uint8

const (
	StateResetting State = iota
	StateReady
	StateEditing
	StateEditable
	StateSaving
	StateReverting
	StateArmed
	StateConfiguring
	StateRunning
	StatePostRun
	StatePaused
	StateSeeking
	StateAborting
	StateAborted
	StateFault
	StateDisabling
	StateDisabled
	StateOffline
)

var stateLabels = [...]string{
	StateResetting:   "Resetting",
	StateReady:       "Ready",
	StateEditing:     "Editing",
	StateEditable:    "Editable",
	StateSaving:      "Saving",
	StateReverting:   "Reverting",
	StateArmed:       "Armed",
	StateConfiguring: "Configuring",
	StateRunning:     "Running",
	StatePostRun:     "PostRun",
	StatePaused:      "Paused",
	StateSeeking:     "Seeking",
	StateAborting:    "Aborting",
	StateAborted:     "Aborted",
	StateFault:       "Fault",
	StateDisabling:   "Disabling",
	StateDisabled:    "Disabled",
	StateOffline:     "Offline",
}

// States returns every state in declaration order.
func States() []State {
	states := make([]State, len(stateLabels))
	for i := range states {
		states[i] = State(i)
	}
	return states
}

// String returns the upper-case state name, e.g. "POSTRUN".
func (s State) String() string {
	if int(s) >= len(stateLabels) {
		return "UNKNOWN"
	}
	return strings.ToUpper(stateLabels[s])
}

// Label returns the name used on the wire by remote controllers, e.g.
// "PostRun".
func (s State) Label() string {
	if int(s) >= len(stateLabels) {
		return "Unknown"
	}
	return stateLabels[s]
}

// ParseState parses a state name in either form, ignoring case.
func ParseState(name string) (State, error) {
	for i, label := range stateLabels {
		if strings.EqualFold(name, label) {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown device state %q", name)
}

// MarshalText encodes the upper-case name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts either form of the name.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsRunnable reports whether Run may be called.
func (s State) IsRunnable() bool {
	return s == StateArmed
}

// IsRunning reports whether a run is in progress.
func (s State) IsRunning() bool {
	switch s {
	case StateRunning, StatePaused, StateSeeking, StatePostRun:
		return true
	}
	return false
}

// IsBeforeRun reports whether a run has not started yet.
func (s State) IsBeforeRun() bool {
	switch s {
	case StateArmed, StateReady, StateConfiguring:
		return true
	}
	return false
}

// IsRest reports whether the device can sit in s indefinitely between
// operations. CONFIGURING counts, unlike in IsRestState.
func (s State) IsRest() bool {
	switch s {
	case StateFault, StateReady, StateConfiguring, StateArmed, StateAborted, StateDisabled:
		return true
	}
	return false
}

// IsAbortable reports whether Abort may be called.
func (s State) IsAbortable() bool {
	switch s {
	case StateRunning, StateConfiguring, StatePaused, StateSeeking, StateArmed, StatePostRun:
		return true
	}
	return false
}

// IsResettable reports whether Reset may be called.
func (s State) IsResettable() bool {
	switch s {
	case StateFault, StateAborted, StateDisabled, StateArmed:
		return true
	}
	return false
}

// IsTransient reports whether s is left on its own without another call.
func (s State) IsTransient() bool {
	switch s {
	case StateRunning, StateConfiguring, StateAborting, StateSeeking, StateDisabling, StatePostRun:
		return true
	}
	return false
}

// IsRestState reports whether s is a settled state a run may end in.
func (s State) IsRestState() bool {
	switch s {
	case StateReady, StateArmed, StateFault, StateAborted, StateDisabled:
		return true
	}
	return false
}

// isConfigurable reports whether Configure and Disable may be called.
func (s State) isConfigurable() bool {
	return !s.IsTransient()
}

// is returns a predicate matching any of states.
func is(states ...State) func(State) bool {
	return func(s State) bool {
		for _, want := range states {
			if s == want {
				return true
			}
		}
		return false
	}
}
