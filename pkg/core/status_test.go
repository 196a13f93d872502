package core

import "testing"

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase    Phase
		expected string
	}{
		{PhaseBootstrapping, "bootstrapping"},
		{PhaseMenuDiscovery, "menu_discovery"},
		{PhasePageExploration, "page_exploration"},
		{PhaseRecovering, "recovering"},
		{PhaseDone, "done"},
		{Phase(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.expected {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.expected)
		}
	}
}

func TestPhase_IsTerminal(t *testing.T) {
	nonTerminal := []Phase{PhaseBootstrapping, PhaseMenuDiscovery, PhasePageExploration, PhaseRecovering}

	if !PhaseDone.IsTerminal() {
		t.Error("PhaseDone.IsTerminal() = false, want true")
	}
	for _, p := range nonTerminal {
		if p.IsTerminal() {
			t.Errorf("Phase(%s).IsTerminal() = true, want false", p)
		}
	}
}

func TestErrorCategory_String(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		expected string
	}{
		{ErrCategoryNone, "none"},
		{ErrCategoryTimeout, "timeout"},
		{ErrCategoryConnection, "connection"},
		{ErrCategoryDevice, "device"},
		{ErrCategoryApp, "app"},
		{ErrCategoryOracle, "oracle"},
		{ErrCategoryConsistency, "consistency"},
		{ErrCategoryConfig, "config"},
		{ErrorCategory(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.category.String(); got != tt.expected {
			t.Errorf("ErrorCategory(%d).String() = %q, want %q", tt.category, got, tt.expected)
		}
	}
}
