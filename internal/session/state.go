package session

// State is a session's lifecycle state.
type State int

const (
	// StateUninitialized is the state of a session that was created but not
	// started.
	StateUninitialized State = iota

	// StateActive records voice.
	StateActive

	// StatePaused has left voice after summarizing the epoch.
	StatePaused

	// StateReviewing has posted the final summary and accepts revision
	// requests from the owner.
	StateReviewing

	// StateClosed is terminal.
	StateClosed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateReviewing:
		return "reviewing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions lists the states each state may move to through a lifecycle
// operation. [Session.Close] bypasses it.
var transitions = map[State][]State{
	StateUninitialized: {StateActive},
	StateActive:        {StatePaused, StateReviewing},
	StatePaused:        {StateActive, StateReviewing},
	StateReviewing:     {StateClosed},
}

// CanTransition reports whether a lifecycle operation may move a session
// from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
