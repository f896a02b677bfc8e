package model

import "testing"

func TestCheckStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to CheckStatus
		want     bool
	}{
		{StatusPending, StatusIngesting, true},
		{StatusIngesting, StatusExtracting, true},
		{StatusExtracting, StatusRetrieving, true},
		{StatusRetrieving, StatusVerifying, true},
		{StatusVerifying, StatusJudging, true},
		{StatusJudging, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusJudging, StatusFailed, true},
		// No skips or reordering.
		{StatusPending, StatusExtracting, false},
		{StatusIngesting, StatusRetrieving, false},
		{StatusExtracting, StatusIngesting, false},
		{StatusPending, StatusCompleted, false},
		// Terminal states are immutable.
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
		{StatusCompleted, StatusCompleted, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCheckStatus_Terminal(t *testing.T) {
	for _, s := range []CheckStatus{StatusPending, StatusIngesting, StatusExtracting, StatusRetrieving, StatusVerifying, StatusJudging} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []CheckStatus{StatusCompleted, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestCheckStatus_ProgressPercent_Monotonic(t *testing.T) {
	order := []CheckStatus{StatusPending, StatusIngesting, StatusExtracting, StatusRetrieving, StatusVerifying, StatusJudging, StatusCompleted}
	prev := -1
	for _, s := range order {
		p := s.ProgressPercent()
		if p <= prev {
			t.Errorf("percent for %s (%d) not greater than previous (%d)", s, p, prev)
		}
		prev = p
	}
	if StatusFailed.ProgressPercent() != 100 {
		t.Errorf("failed should report 100%%")
	}
}

func TestInputKind_Valid(t *testing.T) {
	for _, k := range []InputKind{InputURL, InputText, InputImage} {
		if !k.Valid() {
			t.Errorf("%s should be valid", k)
		}
	}
	if InputKind("pdf").Valid() {
		t.Error("unknown kind should be invalid")
	}
}
