package turn

import (
	"sync"
	"time"
)

// State is the single authoritative turn state. Exactly one State value
// exists per engine and all transitions are serialized through it.
type State int

const (
	// StateListening: the user holds the floor; mic audio streams upstream.
	StateListening State = iota
	// StatePendingCommit: the utterance looks finished; a pause deadline
	// is armed and new activity re-arms it.
	StatePendingCommit
	// StateAwaitingResponse: a response was requested; waiting for the
	// first audio delta.
	StateAwaitingResponse
	// StateAssistantSpeaking: assistant audio is rendering; barge-in
	// detection is active.
	StateAssistantSpeaking
	// StateInterrupting: a cancel is being issued; transient.
	StateInterrupting
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateListening:
		return "LISTENING"
	case StatePendingCommit:
		return "PENDING_COMMIT"
	case StateAwaitingResponse:
		return "AWAITING_RESPONSE"
	case StateAssistantSpeaking:
		return "ASSISTANT_SPEAKING"
	case StateInterrupting:
		return "INTERRUPTING"
	default:
		return "UNKNOWN"
	}
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

// stateMachine holds the turn state. Only the engine reactor mutates it;
// the mutex exists so other tasks can read State safely.
type stateMachine struct {
	mu      sync.RWMutex
	current State

	listeners []StateListener
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateListening}
}

func (sm *stateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// transitionValid checks if a state transition is allowed.
func transitionValid(from, to State) bool {
	validTransitions := map[State][]State{
		StateListening:         {StatePendingCommit, StateInterrupting},
		StatePendingCommit:     {StateListening, StateAwaitingResponse, StateInterrupting},
		StateAwaitingResponse:  {StateAssistantSpeaking, StateListening, StateInterrupting},
		StateAssistantSpeaking: {StateInterrupting, StateListening},
		StateInterrupting:      {StateListening},
	}

	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (sm *stateMachine) Transition(to State, reason string) error {
	sm.mu.Lock()
	if !transitionValid(sm.current, to) {
		from := sm.current
		sm.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	event := StateChange{
		FromState: sm.current,
		ToState:   to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	sm.current = to
	listeners := make([]StateListener, len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(event)
	}
	return nil
}

// AddListener registers a listener for state change events.
func (sm *stateMachine) AddListener(listener StateListener) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, listener)
}
