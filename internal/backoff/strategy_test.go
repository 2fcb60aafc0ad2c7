package backoff

import (
	"testing"
	"time"
)

var testParams = Params{
	Initial:    100 * time.Millisecond,
	Max:        5 * time.Second,
	Multiplier: 2.0,
}

func TestExponentialDelay(t *testing.T) {
	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{"attempt 0", 0, 100 * time.Millisecond},
		{"attempt 1", 1, 200 * time.Millisecond},
		{"attempt 2", 2, 400 * time.Millisecond},
		{"negative attempt", -3, 100 * time.Millisecond},
		{"capped", 20, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Exponential{}).Delay(tt.attempt, testParams); got != tt.expected {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestExponentialDelayJitterBounds(t *testing.T) {
	p := testParams
	p.Jitter = 0.5

	for i := 0; i < 100; i++ {
		got := (Exponential{}).Delay(1, p)
		if got < 200*time.Millisecond || got > 300*time.Millisecond {
			t.Fatalf("Delay(1) with jitter = %v, want within [200ms, 300ms]", got)
		}
	}
}

func TestExponentialDelayJitterClamped(t *testing.T) {
	p := testParams
	p.Jitter = 7

	for i := 0; i < 100; i++ {
		if got := (Exponential{}).Delay(0, p); got > 200*time.Millisecond {
			t.Fatalf("Delay(0) = %v exceeds clamped jitter bound", got)
		}
	}
}

func TestDecorrelatedDelay(t *testing.T) {
	if got := (Decorrelated{}).Delay(0, testParams); got != testParams.Initial {
		t.Errorf("Delay(0) = %v, want %v", got, testParams.Initial)
	}

	for attempt := 1; attempt < 15; attempt++ {
		got := (Decorrelated{}).Delay(attempt, testParams)
		if got < testParams.Initial || got > testParams.Max {
			t.Errorf("Delay(%d) = %v, want within [%v, %v]", attempt, got, testParams.Initial, testParams.Max)
		}
	}
}

func TestPow(t *testing.T) {
	if got := Pow(2, 10); got != 1024 {
		t.Errorf("Pow(2, 10) = %v, want 1024", got)
	}
	if got := Pow(3, 0); got != 1 {
		t.Errorf("Pow(3, 0) = %v, want 1", got)
	}
}
