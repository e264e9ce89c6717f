package session

import "testing"

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateIdle, StateAwaitingOffer, true},
		{StateAwaitingOffer, StateNegotiating, true},
		{StateNegotiating, StateConnected, true},
		{StateConnected, StateClosing, true},
		{StateClosing, StateClosed, true},
		{StateIdle, StateClosed, true},
		{StateAwaitingOffer, StateClosing, true},

		{StateIdle, StateNegotiating, false},
		{StateIdle, StateConnected, false},
		{StateAwaitingOffer, StateConnected, false},
		{StateNegotiating, StateAwaitingOffer, false},
		{StateConnected, StateNegotiating, false},
		{StateClosing, StateConnected, false},
		{StateClosed, StateClosing, false},
		{StateClosed, StateIdle, false},
	}
	for _, tc := range tests {
		if got := tc.from.canTransition(tc.to); got != tc.ok {
			t.Errorf("%v -> %v: canTransition = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestStateStrings(t *testing.T) {
	for st, want := range map[State]string{
		StateIdle:          "idle",
		StateAwaitingOffer: "awaiting_offer",
		StateNegotiating:   "negotiating",
		StateConnected:     "connected",
		StateClosing:       "closing",
		StateClosed:        "closed",
		State(99):          "unknown",
	} {
		if st.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", st, st.String(), want)
		}
	}
}
