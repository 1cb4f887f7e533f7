package protocol

// Policy says when an outbound action is reflected in local state.
type Policy int

const (
	// Confirmed actions change local state only once the server echoes them back.
	Confirmed Policy = iota
	// Optimistic actions change local state as soon as the frame is submitted.
	Optimistic
)

// String returns the string representation of Policy
func (p Policy) String() string {
	switch p {
	case Confirmed:
		return "CONFIRMED"
	case Optimistic:
		return "OPTIMISTIC"
	default:
		return "UNKNOWN"
	}
}

// PolicyFor returns the mutation policy of an outbound action.
// leave-room is the only optimistic one: the room disappears before the server answers.
func PolicyFor(a Action) Policy {
	if a == ActionLeaveRoom {
		return Optimistic
	}
	return Confirmed
}
