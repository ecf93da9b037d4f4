package turn

import "testing"

func TestInitialStateIsListening(t *testing.T) {
	sm := newStateMachine()
	if sm.State() != StateListening {
		t.Fatalf("initial state = %v, want LISTENING", sm.State())
	}
}

func TestValidTransitionChain(t *testing.T) {
	sm := newStateMachine()

	steps := []State{
		StatePendingCommit,
		StateAwaitingResponse,
		StateAssistantSpeaking,
		StateInterrupting,
		StateListening,
	}
	for _, to := range steps {
		if err := sm.Transition(to, "test"); err != nil {
			t.Fatalf("transition to %v rejected: %v", to, err)
		}
		if sm.State() != to {
			t.Fatalf("state = %v after transition to %v", sm.State(), to)
		}
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	cases := []struct {
		from, to State
	}{
		{StateListening, StateAwaitingResponse},
		{StateListening, StateAssistantSpeaking},
		{StatePendingCommit, StateAssistantSpeaking},
		{StateAwaitingResponse, StatePendingCommit},
		{StateAssistantSpeaking, StatePendingCommit},
		{StateAssistantSpeaking, StateAwaitingResponse},
		{StateInterrupting, StateAssistantSpeaking},
		{StateInterrupting, StatePendingCommit},
	}
	for _, tc := range cases {
		sm := &stateMachine{current: tc.from}
		err := sm.Transition(tc.to, "test")
		if err == nil {
			t.Fatalf("transition %v -> %v accepted, want rejection", tc.from, tc.to)
		}
		if _, ok := err.(*InvalidTransitionError); !ok {
			t.Fatalf("transition %v -> %v returned %T, want *InvalidTransitionError", tc.from, tc.to, err)
		}
		if sm.State() != tc.from {
			t.Fatalf("state moved to %v on rejected transition", sm.State())
		}
	}
}

type recordingListener struct {
	changes []StateChange
}

func (r *recordingListener) OnStateChange(ev StateChange) {
	r.changes = append(r.changes, ev)
}

func TestListenerObservesTransitions(t *testing.T) {
	sm := newStateMachine()
	rec := &recordingListener{}
	sm.AddListener(rec)

	if err := sm.Transition(StatePendingCommit, "pause armed"); err != nil {
		t.Fatal(err)
	}
	if err := sm.Transition(StateListening, "user resumed"); err != nil {
		t.Fatal(err)
	}

	if len(rec.changes) != 2 {
		t.Fatalf("listener saw %d changes, want 2", len(rec.changes))
	}
	first := rec.changes[0]
	if first.FromState != StateListening || first.ToState != StatePendingCommit {
		t.Fatalf("first change %v -> %v", first.FromState, first.ToState)
	}
	if first.Reason != "pause armed" {
		t.Fatalf("first reason = %q", first.Reason)
	}
}
