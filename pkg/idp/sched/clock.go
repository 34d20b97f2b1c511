// Package sched provides the scheduling primitives the idp core is
// deliberately ignorant of (spec §9: no implicit global timers inside
// Node/Router/Master): a monotonic clock, a cooperative tick dispatcher,
// and a fake clock for deterministic tests.
package sched

import (
	"sync"
	"time"
)

// Clock satisfies idp.Clock: a monotonic millisecond clock.
type Clock interface {
	NowMillis() uint64
}

// WallClock is Clock backed by the real monotonic clock, anchored at the
// moment it's created so NowMillis fits in a uint64 comfortably.
type WallClock struct {
	start time.Time
}

// NewWallClock returns a Clock anchored to now.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

func (c *WallClock) NowMillis() uint64 {
	return uint64(time.Since(c.start).Milliseconds())
}

// FakeClock is a manually advanced Clock for deterministic tests: nothing
// moves until Advance is called.
type FakeClock struct {
	mu  sync.Mutex
	now uint64
}

// NewFakeClock returns a FakeClock starting at 0.
func NewFakeClock() *FakeClock {
	return &FakeClock{}
}

func (c *FakeClock) NowMillis() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by ms milliseconds and returns the new
// time.
func (c *FakeClock) Advance(ms uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ms
	return c.now
}
