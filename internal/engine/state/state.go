// Package state defines the interception phases a trade moves through.
// A trade starts and ends in PhaseIdle; the engine validates every move
// against ValidTransitions.
package state

import (
	"encoding/json"
	"fmt"
)

// Phase represents where a user's trade is in the two-phase protocol.
type Phase int32

const (
	// PhaseIdle is both the initial and the terminal phase of a trade.
	PhaseIdle Phase = iota

	// PhasePreTrade is entered by the before-trade callback.
	PhasePreTrade

	// PhasePostTrade is entered by the after-trade callback.
	PhasePostTrade
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePreTrade:
		return "pre-trade"
	case PhasePostTrade:
		return "post-trade"
	default:
		return fmt.Sprintf("phase(%d)", p)
	}
}

// MarshalJSON implements json.Marshaler.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*p = ParsePhase(str)
	return nil
}

// ParsePhase converts a string to Phase. Unknown strings map to PhaseIdle.
func ParsePhase(s string) Phase {
	switch s {
	case "pre-trade", "before":
		return PhasePreTrade
	case "post-trade", "after":
		return PhasePostTrade
	default:
		return PhaseIdle
	}
}

// IsTerminal returns true if no trade is in flight.
func (p Phase) IsTerminal() bool {
	return p == PhaseIdle
}

// ValidTransitions defines allowed phase transitions.
var ValidTransitions = map[Phase][]Phase{
	PhaseIdle:      {PhasePreTrade},
	PhasePreTrade:  {PhasePostTrade},
	PhasePostTrade: {PhaseIdle},
}

// CanTransition returns true if the transition from -> to is valid.
func CanTransition(from, to Phase) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, p := range allowed {
		if p == to {
			return true
		}
	}
	return false
}

// TransitionError represents an invalid phase transition.
type TransitionError struct {
	From Phase
	To   Phase
}

// Error implements error.
func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// NewTransitionError creates a new TransitionError.
func NewTransitionError(from, to Phase) TransitionError {
	return TransitionError{From: from, To: to}
}

// Transition returns to when the move is valid, otherwise a TransitionError.
func Transition(from, to Phase) (Phase, error) {
	if !CanTransition(from, to) {
		return from, NewTransitionError(from, to)
	}
	return to, nil
}
