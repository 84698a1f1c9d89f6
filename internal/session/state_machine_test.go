package session

import "testing"

func TestStateMachineTransitions(t *testing.T) {
	sm := NewStateMachine()
	if sm.State() != StateIdle {
		t.Fatalf("expected %s, got %s", StateIdle, sm.State())
	}
	steps := []struct {
		event Event
		want  State
	}{
		{EventStart, StateHedging},
		{EventSettled, StateTrailing},
		{EventFilled, StateSettling},
		{EventComplete, StateDone},
		{EventReset, StateIdle},
	}
	for _, step := range steps {
		if got := sm.Apply(step.event); got != step.want {
			t.Fatalf("%s: expected %s, got %s", step.event, step.want, got)
		}
	}
}

func TestStateMachineInvalidTransition(t *testing.T) {
	sm := NewStateMachine()
	if sm.Apply(EventFilled) != StateIdle {
		t.Fatalf("invalid transition should not change state")
	}
	if sm.Apply(EventAbort) != StateIdle {
		t.Fatalf("abort from idle should not change state")
	}
}

func TestStateMachineAbortAndBegin(t *testing.T) {
	sm := NewStateMachine()
	if !sm.Begin() {
		t.Fatalf("expected begin from idle")
	}
	if sm.Begin() {
		t.Fatalf("begin must fail while a session is active")
	}
	sm.Apply(EventSettled)
	if sm.Apply(EventAbort) != StateAborted {
		t.Fatalf("expected %s", StateAborted)
	}
	if sm.Apply(EventComplete) != StateAborted {
		t.Fatalf("aborted session must not complete")
	}
	if sm.Apply(EventReset) != StateIdle {
		t.Fatalf("expected reset to idle")
	}
}
