package activity

import "encoding/json"

// State is a state of the busy indicator.
type State int

const (
	// StateIdle has nothing in flight and the signal hidden.
	StateIdle State = iota
	// StatePendingShow has work in flight and the show timer armed.
	StatePendingShow
	// StateVisible has the signal shown.
	StateVisible
	// StatePendingHide has the signal shown, nothing in flight and the
	// hide timer armed.
	StatePendingHide
)

// String returns a human-readable label for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingShow:
		return "pending_show"
	case StateVisible:
		return "visible"
	case StatePendingHide:
		return "pending_hide"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state as its label.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
