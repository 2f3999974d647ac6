// Package testutil provides deterministic substitutes for the operator's
// ambient inputs: the clock and the action token generator.
package testutil

import "sync"

// ManualClock is a settable clock for tests. Time only moves when the test
// moves it, so temporal assertions (escrow periods, freeze expiry, payment
// windows) are exact.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now int64
}

// NewManualClock creates a clock pinned at the given unix-seconds instant.
func NewManualClock(now int64) *ManualClock {
	return &ManualClock{now: now}
}

// Now returns the pinned instant.
func (c *ManualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set pins the clock to an absolute instant.
func (c *ManualClock) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Advance moves the clock forward by d seconds.
func (c *ManualClock) Advance(d int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}
