package models

import "testing"

func TestJobStatusTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobQueued, false},
		{JobRunning, false},
		{JobSucceeded, true},
		{JobFailed, true},
		{JobCanceled, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		allowed  bool
	}{
		{JobQueued, JobRunning, true},
		{JobQueued, JobCanceled, true},
		{JobQueued, JobFailed, true},
		{JobQueued, JobSucceeded, false},
		{JobRunning, JobSucceeded, true},
		{JobRunning, JobFailed, true},
		{JobRunning, JobCanceled, true},
		{JobRunning, JobQueued, false},
		{JobSucceeded, JobRunning, false},
		{JobFailed, JobQueued, false},
		{JobCanceled, JobRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestUsageAdd(t *testing.T) {
	u := &Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	u.Add(&Usage{InputTokens: 3, CachedInputTokens: 2, OutputTokens: 1, TotalTokens: 4})
	if u.InputTokens != 13 || u.OutputTokens != 6 || u.TotalTokens != 19 || u.CachedInputTokens != 2 {
		t.Errorf("unexpected accumulated usage: %+v", u)
	}
	u.Add(nil)
	if u.TotalTokens != 19 {
		t.Errorf("Add(nil) mutated usage: %+v", u)
	}
}
