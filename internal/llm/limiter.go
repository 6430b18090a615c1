package llm

import "context"

// Limiter bounds how many model calls are in flight at once, so a
// burst of concurrent requests degrades into queueing instead of
// hammering the provider into rate-limit errors. Acquisition is
// context-aware: a cancelled request stops waiting for a slot.
type Limiter struct {
	slots chan struct{}
}

// NewLimiter builds a Limiter allowing max concurrent calls; max <= 0
// means unlimited (a nil Limiter).
func NewLimiter(max int) *Limiter {
	if max <= 0 {
		return nil
	}
	return &Limiter{slots: make(chan struct{}, max)}
}

// Acquire blocks until a slot frees or ctx is done. A nil Limiter
// always admits.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	if l == nil {
		return
	}
	<-l.slots
}

// InFlight returns the number of currently held slots.
func (l *Limiter) InFlight() int {
	if l == nil {
		return 0
	}
	return len(l.slots)
}
