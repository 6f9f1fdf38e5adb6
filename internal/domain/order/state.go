package order

// State is an order lifecycle state. Transitions are owned by the order
// service; tracking only reads it.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StatePreparing State = "preparing"
	StateReady     State = "ready"
	StateDelivered State = "delivered"
	StateCancelled State = "cancelled"
)

// TrackedStates are the states in which location samples are accepted.
var TrackedStates = []State{StateConfirmed, StatePreparing, StateReady}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateConfirmed, StatePreparing, StateReady, StateDelivered, StateCancelled:
		return true
	}
	return false
}

// AcceptsLocation reports whether an order in state s may take location
// writes.
func (s State) AcceptsLocation() bool {
	switch s {
	case StateConfirmed, StatePreparing, StateReady:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateCancelled
}

// CanAcceptLocation is the order gate.
func CanAcceptLocation(s State) bool {
	return s.AcceptsLocation()
}
