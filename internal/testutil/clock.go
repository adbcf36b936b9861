package testutil

import (
	"sync"
	"time"
)

// SQLiteTimeLayout is the layout of SQLite's datetime('now').
const SQLiteTimeLayout = "2006-01-02 15:04:05"

// StepClock numbers scenario steps and hands out a timestamp for each one,
// so stored rows and traces are identical across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu   sync.Mutex
	step int64
	base time.Time
}

// NewStepClock creates a clock at step 0. Step n is stamped base + n seconds.
func NewStepClock(base time.Time) *StepClock {
	return &StepClock{base: base.UTC()}
}

// Tick advances to and returns the next step. The first call returns 1.
func (c *StepClock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step++
	return c.step
}

// Step returns the current step without advancing.
func (c *StepClock) Step() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// Now returns the timestamp of the current step in SQLiteTimeLayout.
func (c *StepClock) Now() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base.Add(time.Duration(c.step) * time.Second).Format(SQLiteTimeLayout)
}

// Reset returns the clock to step 0.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = 0
}
