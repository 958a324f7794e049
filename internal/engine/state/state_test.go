package state

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase    Phase
		expected string
	}{
		{PhaseIdle, "idle"},
		{PhasePreTrade, "pre-trade"},
		{PhasePostTrade, "post-trade"},
		{Phase(99), "phase(99)"},
	}

	for _, tc := range tests {
		if got := tc.phase.String(); got != tc.expected {
			t.Errorf("Phase(%d).String() = %q, want %q", tc.phase, got, tc.expected)
		}
	}
}

func TestParsePhase(t *testing.T) {
	tests := []struct {
		input    string
		expected Phase
	}{
		{"idle", PhaseIdle},
		{"pre-trade", PhasePreTrade},
		{"before", PhasePreTrade},
		{"post-trade", PhasePostTrade},
		{"after", PhasePostTrade},
		{"invalid", PhaseIdle},
	}

	for _, tc := range tests {
		if got := ParsePhase(tc.input); got != tc.expected {
			t.Errorf("ParsePhase(%q) = %v, want %v", tc.input, got, tc.expected)
		}
	}
}

func TestPhase_JSON(t *testing.T) {
	data, err := json.Marshal(PhasePostTrade)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `"post-trade"` {
		t.Errorf("Marshal = %s, want \"post-trade\"", data)
	}

	var parsed Phase
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if parsed != PhasePostTrade {
		t.Errorf("Unmarshal = %v, want %v", parsed, PhasePostTrade)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		valid    bool
	}{
		{PhaseIdle, PhasePreTrade, true},
		{PhasePreTrade, PhasePostTrade, true},
		{PhasePostTrade, PhaseIdle, true},
		{PhaseIdle, PhasePostTrade, false},
		{PhasePreTrade, PhasePreTrade, false},
		{PhasePreTrade, PhaseIdle, false},
		{PhasePostTrade, PhasePreTrade, false},
		{Phase(7), PhaseIdle, false},
	}

	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.valid {
			t.Errorf("CanTransition(%v, %v) = %v, want %v", tc.from, tc.to, got, tc.valid)
		}
	}
}

func TestTransition(t *testing.T) {
	next, err := Transition(PhaseIdle, PhasePreTrade)
	if err != nil || next != PhasePreTrade {
		t.Fatalf("Transition = %v, %v", next, err)
	}

	next, err = Transition(PhaseIdle, PhasePostTrade)
	var te TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if next != PhaseIdle {
		t.Errorf("phase after failed transition = %v, want idle", next)
	}
	if err.Error() != "invalid state transition: idle -> post-trade" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestPhase_IsTerminal(t *testing.T) {
	if !PhaseIdle.IsTerminal() {
		t.Error("idle should be terminal")
	}
	if PhasePreTrade.IsTerminal() || PhasePostTrade.IsTerminal() {
		t.Error("in-flight phases should not be terminal")
	}
}
