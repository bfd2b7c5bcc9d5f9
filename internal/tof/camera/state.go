package camera

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a camera node.
type State int

const (
	Inactive State = iota
	Activating
	Standby
	Sampling
	Deactivating
	Error
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Activating:
		return "activating"
	case Standby:
		return "standby"
	case Sampling:
		return "sampling"
	case Deactivating:
		return "deactivating"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON and MQTT payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st := Inactive; st <= Error; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown camera state %q", b)
}

var (
	// ErrState is returned when a command is not allowed in the current state.
	ErrState = errors.New("command not allowed in current state")
	// ErrNotStandby is wrapped together with tof.ErrValue when configuration
	// is changed outside Standby.
	ErrNotStandby = errors.New("configuration can only be changed in standby")
	// ErrActivation is returned when Activate fails and the handle was closed.
	ErrActivation = errors.New("activation failed")
)

func stateError(op string, s State) error {
	return fmt.Errorf("%w: %s in %s", ErrState, op, s)
}
