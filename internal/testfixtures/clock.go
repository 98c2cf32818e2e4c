// Package testfixtures holds helpers shared by package tests.
package testfixtures

import (
	"sync"
	"time"
)

// Clock is a controllable time source.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// ReferenceTime is a Wednesday afternoon, well inside the default operating
// hours, so tests that need "today" have room on both sides.
func ReferenceTime() time.Time {
	return time.Date(2025, time.March, 12, 14, 0, 0, 0, time.UTC)
}

// NewClock returns a clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}
