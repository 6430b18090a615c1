package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubProvider struct {
	name  string
	text  string
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(ctx context.Context, req Request) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func TestFallbackUsesPrimaryOnSuccess(t *testing.T) {
	primary := &stubProvider{name: "primary", text: "ok"}
	secondary := &stubProvider{name: "secondary", text: "should not run"}
	fb := NewFallback(primary, secondary)

	out, err := fb.Generate(context.Background(), Request{User: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Fatalf("got %q", out)
	}
	if secondary.calls != 0 {
		t.Fatalf("secondary should not have been called")
	}
}

func TestFallbackFallsThroughOnPrimaryFailure(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("boom")}
	secondary := &stubProvider{name: "secondary", text: "fallback worked"}
	fb := NewFallback(primary, secondary)

	out, err := fb.Generate(context.Background(), Request{User: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "fallback worked" {
		t.Fatalf("got %q", out)
	}
}

func TestFallbackAllFailReturnsUnavailable(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("down")}
	secondary := &stubProvider{name: "secondary", err: errors.New("also down")}
	fb := NewFallback(primary, secondary)

	_, err := fb.Generate(context.Background(), Request{User: "hi"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("test")
	b.failureThreshold = 2
	b.cooldown = time.Hour

	if b.Open() {
		t.Fatalf("breaker should start closed")
	}
	b.RecordFailure()
	if b.Open() {
		t.Fatalf("breaker should stay closed below threshold")
	}
	b.RecordFailure()
	if !b.Open() {
		t.Fatalf("breaker should open at threshold")
	}
}

func TestBreakerSkipsOpenProvider(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("down")}
	secondary := &stubProvider{name: "secondary", text: "ok"}
	fb := NewFallback(primary, secondary)
	fb.breakers["primary"].failureThreshold = 1
	fb.breakers["primary"].cooldown = 0

	// First call trips the primary breaker and falls through.
	if _, err := fb.Generate(context.Background(), Request{User: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls != 1 {
		t.Fatalf("expected primary called once, got %d", primary.calls)
	}

	// Cooldown is zero, so the breaker should allow a half-open probe
	// on the next call rather than permanently skip the primary.
	if _, err := fb.Generate(context.Background(), Request{User: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls != 2 {
		t.Fatalf("expected primary probed again after cooldown, got %d calls", primary.calls)
	}
}
