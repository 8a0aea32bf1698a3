package testfixtures

import (
	"sync"
	"time"
)

// Clock is a manually driven time source shared by a test and the code
// under test.
type Clock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewClock starts the clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// NowFunc exposes Now for injection into scheduler.Deps and the services.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// SetAt moves the clock to At(days, hour, minute). Going backwards is allowed
// so tests can exercise min-notice and past-window rejections.
func (c *Clock) SetAt(days, hour, minute int) time.Time {
	t := At(days, hour, minute)
	c.Set(t)
	return t
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
