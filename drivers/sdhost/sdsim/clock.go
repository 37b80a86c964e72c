package sdsim

import (
	"sync"
	"time"
)

// Clock is a simulated clock for the driver. Every reading advances it by
// Step, so polling loops reach their deadline without real time passing.
type Clock struct {
	Step time.Duration

	mu  sync.Mutex
	now time.Duration
}

// NewClock returns a clock advancing by step per reading.
func NewClock(step time.Duration) *Clock {
	return &Clock{Step: step}
}

func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += c.Step
	return c.now
}

func (c *Clock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

// Elapsed returns the simulated time passed so far.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
