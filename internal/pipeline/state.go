package pipeline

import (
	"errors"
	"fmt"
)

// State is a step of the transformation pipeline.
type State string

const (
	StateIdle         State = "idle"
	StateInterpreting State = "interpreting"
	StateRendering    State = "rendering"
	StateComplete     State = "complete"
	StateFailed       State = "failed"
)

// ErrIllegalTransition is returned when a state change is not allowed.
var ErrIllegalTransition = errors.New("pipeline: illegal state transition")

var transitions = map[State][]State{
	StateIdle:         {StateInterpreting},
	StateInterpreting: {StateRendering, StateFailed},
	StateRendering:    {StateComplete, StateFailed},
	StateComplete:     {StateInterpreting},
	StateFailed:       {StateInterpreting},
}

// Machine tracks the state of one pipeline.
type Machine struct {
	state State
}

// NewMachine starts in StateIdle.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Transition moves to next or reports ErrIllegalTransition.
func (m *Machine) Transition(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, next)
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}
