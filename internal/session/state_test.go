package session

import "testing"

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to State
		want     bool
	}{
		{StateUninitialized, StateActive, true},
		{StateUninitialized, StatePaused, false},
		{StateActive, StatePaused, true},
		{StateActive, StateReviewing, true},
		{StateActive, StateActive, false},
		{StatePaused, StateActive, true},
		{StatePaused, StateReviewing, true},
		{StatePaused, StatePaused, false},
		{StateReviewing, StateClosed, true},
		{StateReviewing, StateActive, false},
		{StateClosed, StateActive, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	if StateReviewing.String() != "reviewing" {
		t.Errorf("String = %q", StateReviewing.String())
	}
	if State(42).String() != "unknown" {
		t.Errorf("String of unknown state = %q", State(42).String())
	}
}
