package backoff

import (
	"context"
	"testing"
	"time"
)

func TestNext_DoublesUpToMax(t *testing.T) {
	b := New(100*time.Millisecond, 1*time.Second)

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1 * time.Second,
		1 * time.Second, // stays capped
	}
	for i, want := range expected {
		if got := b.Next(); got != want {
			t.Errorf("Next() call %d = %v, want %v", i+1, got, want)
		}
	}
}

func TestReset(t *testing.T) {
	b := New(50*time.Millisecond, 500*time.Millisecond)
	b.Next()
	b.Next()
	b.Reset()

	if got := b.Next(); got != 50*time.Millisecond {
		t.Errorf("Next() after Reset = %v, want 50ms", got)
	}
}

func TestNew_InvalidBounds(t *testing.T) {
	b := New(0, -1)
	first := b.Next()
	if first <= 0 {
		t.Errorf("Next() = %v, want positive delay", first)
	}
	// max is clamped to min, so the delay never grows
	if got := b.Next(); got != first {
		t.Errorf("Next() = %v, want %v", got, first)
	}
}

func TestWait_CancelledContext(t *testing.T) {
	b := New(10*time.Second, 10*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Wait(ctx); err != context.Canceled {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
}

func TestWait_Elapses(t *testing.T) {
	b := New(time.Millisecond, time.Millisecond)
	if err := b.Wait(context.Background()); err != nil {
		t.Errorf("Wait() = %v, want nil", err)
	}
}
