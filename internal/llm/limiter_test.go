package llm

import (
	"context"
	"testing"
	"time"
)

func TestNilLimiterAlwaysAdmits(t *testing.T) {
	var l *Limiter
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("nil limiter must admit: %v", err)
	}
	l.Release()
	if l.InFlight() != 0 {
		t.Errorf("nil limiter in-flight = %d", l.InFlight())
	}
}

func TestLimiterBoundsConcurrency(t *testing.T) {
	l := NewLimiter(2)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if l.InFlight() != 2 {
		t.Errorf("in-flight = %d, want 2", l.InFlight())
	}

	// Third acquisition must block until a slot frees.
	acquired := make(chan struct{})
	go func() {
		if err := l.Acquire(ctx); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatalf("third acquire should have blocked")
	case <-time.After(20 * time.Millisecond):
	}

	l.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("release did not unblock waiter")
	}
}

func TestLimiterAcquireHonorsCancellation(t *testing.T) {
	l := NewLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatalf("expected deadline error while the slot is held")
	}
}

func TestNewLimiterZeroIsUnlimited(t *testing.T) {
	if l := NewLimiter(0); l != nil {
		t.Errorf("max <= 0 should yield a nil (unlimited) limiter")
	}
}
