package agent

import (
	"sync"
	"time"
)

type State int

const (
	StateAwaitingToolSelection State = iota
	StateToolExecuting
	StateAwaitingFinalAnswer
	StateDone
	StateAborted
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateAwaitingToolSelection:
		return "AWAITING_TOOL_SELECTION"
	case StateToolExecuting:
		return "TOOL_EXECUTING"
	case StateAwaitingFinalAnswer:
		return "AWAITING_FINAL_ANSWER"
	case StateDone:
		return "DONE"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the run can make no further transitions.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// StateChange represents a state transition event.
type StateChange struct {
	RunID     string
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes agent run state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// ListenerFunc adapts a function to the StateListener interface.
type ListenerFunc func(event StateChange)

func (f ListenerFunc) OnStateChange(event StateChange) { f(event) }

// stateMachine implements the finite state machine for one agent run.
type stateMachine struct {
	runID        string
	currentState State
	mu           sync.RWMutex

	stateChangeListeners []StateListener
}

func newStateMachine(runID string, listeners ...StateListener) *stateMachine {
	return &stateMachine{
		runID:                runID,
		currentState:         StateAwaitingToolSelection,
		stateChangeListeners: listeners,
	}
}

// State returns the current state.
func (sm *stateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// transitionValid checks if a state transition is valid (must be called with lock held).
func (sm *stateMachine) transitionValid(from, to State) bool {
	// Aborted is reachable from any non-terminal state.
	if to == StateAborted {
		return !from.Terminal()
	}
	validTransitions := map[State][]State{
		StateAwaitingToolSelection: {StateToolExecuting, StateDone},
		StateToolExecuting:         {StateAwaitingFinalAnswer},
		StateAwaitingFinalAnswer:   {StateDone},
	}

	allowedStates, exists := validTransitions[from]
	if !exists {
		return false
	}
	for _, allowed := range allowedStates {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (sm *stateMachine) Transition(state State, reason string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.transitionValid(sm.currentState, state) {
		return &InvalidTransitionError{
			From: sm.currentState,
			To:   state,
		}
	}

	oldState := sm.currentState
	sm.currentState = state

	event := StateChange{
		RunID:     sm.runID,
		FromState: oldState,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}

	// Notify listeners (release lock during notification to avoid deadlocks)
	listeners := make([]StateListener, len(sm.stateChangeListeners))
	copy(listeners, sm.stateChangeListeners)
	sm.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(event)
	}

	sm.mu.Lock()
	return nil
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
