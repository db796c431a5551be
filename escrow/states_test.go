package escrow

import "testing"

func TestNextState(t *testing.T) {
	cases := []struct {
		name  string
		state State
		event Event
		want  State
		ok    bool
	}{
		{"fund from initiated", StateInitiated, EventFund, StateFunded, true},
		{"hold from funded", StateFunded, EventHold, StateHeld, true},
		{"release from held", StateHeld, EventRelease, StateReleased, true},
		{"refund from held", StateHeld, EventRefund, StateRefunded, true},
		{"dispute from held", StateHeld, EventDispute, StateDisputed, true},
		{"timeout release from held", StateHeld, EventTimeoutRelease, StateReleased, true},
		{"release from disputed", StateDisputed, EventRelease, StateReleased, true},
		{"refund from disputed", StateDisputed, EventRefund, StateRefunded, true},

		{"release from initiated", StateInitiated, EventRelease, "", false},
		{"fund twice", StateFunded, EventFund, "", false},
		{"dispute from funded", StateFunded, EventDispute, "", false},
		{"dispute from disputed", StateDisputed, EventDispute, "", false},
		{"timeout release from disputed", StateDisputed, EventTimeoutRelease, "", false},
		{"release after released", StateReleased, EventRelease, "", false},
		{"refund after released", StateReleased, EventRefund, "", false},
		{"fund after refunded", StateRefunded, EventFund, "", false},
		{"dispute after refunded", StateRefunded, EventDispute, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NextState(tc.state, tc.event)
			if ok != tc.ok {
				t.Fatalf("NextState(%s, %s) ok = %v, want %v", tc.state, tc.event, ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Errorf("NextState(%s, %s) = %s, want %s", tc.state, tc.event, got, tc.want)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []State{StateReleased, StateRefunded} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateInitiated, StateFunded, StateHeld, StateDisputed} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestValidEvent(t *testing.T) {
	for _, e := range []Event{EventFund, EventHold, EventDispute, EventRelease, EventRefund, EventTimeoutRelease} {
		if !ValidEvent(e) {
			t.Errorf("%s should be valid", e)
		}
	}
	if ValidEvent("cancel") {
		t.Errorf("unknown event accepted")
	}
}
