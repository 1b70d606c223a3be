package core

import "sync"

// DefaultMaxIterations bounds tool-triggered model round trips per turn.
const DefaultMaxIterations = 3

// IterationLimiter counts tool-triggered round trips of one turn against a cap.
type IterationLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewIterationLimiter creates a limiter; max <= 0 selects DefaultMaxIterations.
func NewIterationLimiter(max int) *IterationLimiter {
	if max <= 0 {
		max = DefaultMaxIterations
	}
	return &IterationLimiter{max: max}
}

// Increment records one completed tool round trip.
func (l *IterationLimiter) Increment() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
}

// Exhausted reports whether no further round trip is allowed.
func (l *IterationLimiter) Exhausted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count >= l.max
}

// Count returns the number of recorded round trips.
func (l *IterationLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Max returns the configured cap.
func (l *IterationLimiter) Max() int { return l.max }

// Remaining returns the round trips left before the cap.
func (l *IterationLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.max - l.count
}
