package engine

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from, to ProjectState
		ok       bool
	}{
		{StateUninitialized, StateCreated, true},
		{StateUninitialized, StateLoaded, false},
		{StateCreated, StateLoaded, true},
		{StateCreated, StateRunning, false},
		{StateLoaded, StateLoaded, true},
		{StateLoaded, StateRunning, true},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateFailed, true},
		{StateRunning, StateInterrupted, true},
		{StateRunning, StateLoaded, false},
		{StateRunning, StateDeleted, false},
		{StateFailed, StateLoaded, true},
		{StateInterrupted, StateLoaded, true},
		{StateCompleted, StateLoaded, true},
		{StateCompleted, StateDeleted, true},
		{StateDeleted, StateLoaded, false},
		{StateDeleted, StateCreated, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got, err := Transition(tt.from, tt.to)
			if tt.ok {
				if err != nil {
					t.Fatalf("Transition() error = %v", err)
				}
				if got != tt.to {
					t.Errorf("Transition() = %s, want %s", got, tt.to)
				}
				return
			}
			if err == nil {
				t.Fatal("expected transition to be rejected")
			}
			if got != tt.from {
				t.Errorf("rejected transition should keep %s, got %s", tt.from, got)
			}
		})
	}
}

func TestProjectState_Predicates(t *testing.T) {
	if !StateDeleted.IsTerminal() || StateCompleted.IsTerminal() {
		t.Error("only deleted is terminal")
	}
	for _, s := range []ProjectState{StateCompleted, StateFailed, StateInterrupted} {
		if !s.IsRunEnd() {
			t.Errorf("%s should end a run", s)
		}
	}
	if StateRunning.IsRunEnd() {
		t.Error("running does not end a run")
	}
	if err := ProjectState("paused").Validate(); err == nil {
		t.Error("unknown state should not validate")
	}
}

func TestProjectState_JSON(t *testing.T) {
	data, err := json.Marshal(StateInterrupted)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `"interrupted"` {
		t.Errorf("unexpected JSON %s", data)
	}

	var s ProjectState
	if err := json.Unmarshal([]byte(`"loaded"`), &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s != StateLoaded {
		t.Errorf("got %s, want loaded", s)
	}
	if err := json.Unmarshal([]byte(`"bogus"`), &s); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("disk on fire")

	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"validation", NewValidationError("bad input", nil), ErrorKindValidation},
		{"domain", NewDomainError("not allowed", base), ErrorKindDomain},
		{"interrupted", NewInterruptedError("cancelled", nil), ErrorKindInterrupted},
		{"unexpected", NewUnexpectedError("boom", base), ErrorKindUnexpected},
		{"plain error", base, ErrorKindUnexpected},
		{"wrapped", errorsJoin(NewDomainError("x", nil)), ErrorKindDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf() = %s, want %s", got, tt.kind)
			}
		})
	}

	err := NewUnexpectedError("failed to read project", base).WithOp("load").WithProject("p-1")
	if !errors.Is(err, base) {
		t.Error("Unwrap should expose the cause")
	}
	if !errors.Is(err, &Error{Kind: ErrorKindUnexpected}) {
		t.Error("Is should match by kind")
	}
	if errors.Is(err, &Error{Kind: ErrorKindDomain}) {
		t.Error("Is should not match a different kind")
	}
}

func errorsJoin(err error) error {
	return errors.Join(errors.New("context"), err)
}
