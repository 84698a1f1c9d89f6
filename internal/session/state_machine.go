package session

import "sync"

type StateMachine struct {
	mu    sync.Mutex
	state State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle}
}

func (s *StateMachine) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Apply moves to the next state. Events that do not apply leave the state as is.
func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nextState(s.state, event)
	return s.state
}

// Begin moves IDLE to HEDGING and reports false when a session is already active.
func (s *StateMachine) Begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return false
	}
	s.state = StateHedging
	return true
}

func nextState(current State, event Event) State {
	if event == EventAbort {
		switch current {
		case StateHedging, StateTrailing, StateSettling:
			return StateAborted
		}
		return current
	}
	switch current {
	case StateIdle:
		if event == EventStart {
			return StateHedging
		}
	case StateHedging:
		if event == EventSettled {
			return StateTrailing
		}
	case StateTrailing:
		if event == EventFilled {
			return StateSettling
		}
	case StateSettling:
		if event == EventComplete {
			return StateDone
		}
	case StateDone, StateAborted:
		if event == EventReset {
			return StateIdle
		}
	}
	return current
}
