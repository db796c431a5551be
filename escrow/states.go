package escrow

// transitions is the full legal state table. Anything absent is an invalid
// transition and must be rejected with no side effects.
var transitions = map[State]map[Event]State{
	StateInitiated: {
		EventFund: StateFunded,
	},
	StateFunded: {
		EventHold: StateHeld,
	},
	StateHeld: {
		EventRelease:        StateReleased,
		EventRefund:         StateRefunded,
		EventDispute:        StateDisputed,
		EventTimeoutRelease: StateReleased,
	},
	StateDisputed: {
		EventRelease: StateReleased,
		EventRefund:  StateRefunded,
	},
}

// NextState resolves the state table for a (state, event) pair.
func NextState(s State, e Event) (State, bool) {
	next, ok := transitions[s][e]
	return next, ok
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateReleased || s == StateRefunded
}

// ValidEvent reports membership in the fixed event set.
func ValidEvent(e Event) bool {
	switch e {
	case EventFund, EventHold, EventDispute, EventRelease, EventRefund, EventTimeoutRelease:
		return true
	}
	return false
}
