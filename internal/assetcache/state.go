package assetcache

import "fmt"

// State is a lifecycle phase of the Manager.
type State int

const (
	StateIdle State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the legal next states. Installing is reachable from
// Active so a new generation can be installed while the old one serves.
var transitions = map[State][]State{
	StateIdle:       {StateInstalling, StateInstalled},
	StateInstalling: {StateInstalled},
	StateInstalled:  {StateActivating, StateInstalling},
	StateActivating: {StateActive},
	StateActive:     {StateInstalling, StateInstalled},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports an illegal lifecycle step.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cache lifecycle: cannot move from %s to %s", e.From, e.To)
}
