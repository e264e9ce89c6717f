package session

// State is the session lifecycle position. Transitions happen only in
// the session's run loop, so reads there need no locking.
type State int

const (
	StateIdle State = iota
	StateAwaitingOffer
	StateNegotiating
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingOffer:
		return "awaiting_offer"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// legalTransitions holds the forward edges of the lifecycle. Closing
// and Closed are reachable from every live state; Closed additionally
// from Closing.
var legalTransitions = map[State][]State{
	StateIdle:          {StateAwaitingOffer, StateClosing, StateClosed},
	StateAwaitingOffer: {StateNegotiating, StateClosing, StateClosed},
	StateNegotiating:   {StateConnected, StateClosing, StateClosed},
	StateConnected:     {StateClosing, StateClosed},
	StateClosing:       {StateClosed},
}

func (s State) canTransition(to State) bool {
	for _, t := range legalTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}
