package engine

import (
	"encoding/json"
	"fmt"
)

// ProjectState is the lifecycle state of a project.
type ProjectState string

const (
	// StateUninitialized is the state before a project exists.
	StateUninitialized ProjectState = "uninitialized"

	// StateCreated indicates the project and its plan have been persisted.
	StateCreated ProjectState = "created"

	// StateLoaded indicates the project's checkpoints were read and a
	// resume point was chosen.
	StateLoaded ProjectState = "loaded"

	// StateRunning indicates the orchestrator is executing steps.
	StateRunning ProjectState = "running"

	// StateCompleted indicates the last run finished every step.
	StateCompleted ProjectState = "completed"

	// StateFailed indicates the last run stopped on an error.
	StateFailed ProjectState = "failed"

	// StateInterrupted indicates the last run was cancelled.
	StateInterrupted ProjectState = "interrupted"

	// StateDeleted is terminal.
	StateDeleted ProjectState = "deleted"
)

var allowedTransitions = map[ProjectState][]ProjectState{
	StateUninitialized: {StateCreated},
	StateCreated:       {StateLoaded, StateDeleted},
	StateLoaded:        {StateLoaded, StateRunning, StateDeleted},
	StateRunning:       {StateCompleted, StateFailed, StateInterrupted},
	StateCompleted:     {StateLoaded, StateDeleted},
	StateFailed:        {StateLoaded, StateDeleted},
	StateInterrupted:   {StateLoaded, StateDeleted},
	StateDeleted:       {},
}

// Validate checks if the state is valid.
func (s ProjectState) Validate() error {
	if _, ok := allowedTransitions[s]; !ok {
		return fmt.Errorf("invalid project state: %s", s)
	}
	return nil
}

// IsTerminal returns true if no transition leaves the state.
func (s ProjectState) IsTerminal() bool {
	return s == StateDeleted
}

// IsRunEnd returns true for the states a run can finish in.
func (s ProjectState) IsRunEnd() bool {
	return s == StateCompleted || s == StateFailed || s == StateInterrupted
}

// CanTransition reports whether moving from s to to is allowed.
func (s ProjectState) CanTransition(to ProjectState) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition validates a state change and returns the new state.
func Transition(from, to ProjectState) (ProjectState, error) {
	if err := from.Validate(); err != nil {
		return from, err
	}
	if err := to.Validate(); err != nil {
		return from, err
	}
	if !from.CanTransition(to) {
		return from, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	return to, nil
}

// MarshalJSON implements json.Marshaler.
func (s ProjectState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler with validation.
func (s *ProjectState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	state := ProjectState(str)
	if err := state.Validate(); err != nil {
		return err
	}
	*s = state
	return nil
}
