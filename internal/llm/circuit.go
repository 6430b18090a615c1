package llm

import (
	"sync"
	"time"
)

// breaker states for a single provider leg inside Fallback.
const (
	stateClosed = iota
	stateOpen
	stateHalfOpen
)

// Breaker is a minimal circuit breaker: it opens after
// failureThreshold consecutive failures and stays open for cooldown
// before allowing a single half-open probe.
type Breaker struct {
	name             string
	failureThreshold int
	cooldown         time.Duration

	mu          sync.Mutex
	state       int
	failures    int
	openedAt    time.Time
}

// NewBreaker builds a Breaker with the defaults used across all
// provider legs: 5 consecutive failures trips it, 30s cooldown before
// a half-open probe.
func NewBreaker(name string) *Breaker {
	return &Breaker{name: name, failureThreshold: 5, cooldown: 30 * time.Second}
}

// Open reports whether the breaker currently rejects calls. A breaker
// past its cooldown window transitions to half-open and allows
// exactly one probe through.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		// The single probe is already in flight.
		return true
	}
	if b.state != stateOpen {
		return false
	}
	if time.Since(b.openedAt) >= b.cooldown {
		b.state = stateHalfOpen
		return false
	}
	return true
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failures = 0
}

// RecordFailure increments the failure count and opens the breaker
// once failureThreshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.failureThreshold {
		b.state = stateOpen
		b.openedAt = time.Now()
	}
}
