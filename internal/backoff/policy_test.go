package backoff

import (
	"context"
	"testing"
	"time"
)

func TestDelayGrowth(t *testing.T) {
	policy := Policy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{0, 100 * time.Millisecond}, // clamped to attempt 1
	}
	for _, tt := range tests {
		if got := delayWithRand(policy, tt.attempt, 0); got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayClampedToMax(t *testing.T) {
	policy := Policy{InitialMs: 100, MaxMs: 500, Factor: 2, Jitter: 0}
	if got := delayWithRand(policy, 10, 0); got != 500*time.Millisecond {
		t.Errorf("got %v, want 500ms", got)
	}
}

func TestDelayJitter(t *testing.T) {
	policy := Policy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0.5}
	// random=1.0 would add base*0.5; random=0 adds nothing.
	low := delayWithRand(policy, 1, 0)
	high := delayWithRand(policy, 1, 0.999)
	if low != 100*time.Millisecond {
		t.Errorf("low = %v, want 100ms", low)
	}
	if high <= low || high > 150*time.Millisecond {
		t.Errorf("high = %v, want (100ms, 150ms]", high)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Minute); err != context.Canceled {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestSleepZeroDuration(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("got %v, want nil", err)
	}
}
