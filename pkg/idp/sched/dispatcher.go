package sched

import (
	"context"
	"time"
)

// Tickable is anything with per-tick work to do, driven by elapsed
// wall-clock time since its last tick. idp.Node, idp.Router, and
// idp.Master all implement this shape.
type Tickable interface {
	Tick(elapsedMillis uint64)
}

// Dispatcher cooperatively ticks a set of Tickables at a fixed period,
// single-threaded, in registration order — the Go analogue of the
// original's single-threaded poll loop: no Tickable needs to be
// concurrency-safe against another's tick.
type Dispatcher struct {
	clock    Clock
	period   time.Duration
	tickable []Tickable
	lastTick uint64
}

// NewDispatcher creates a Dispatcher that ticks every period, using clock
// to measure elapsed time between ticks.
func NewDispatcher(clock Clock, period time.Duration) *Dispatcher {
	return &Dispatcher{clock: clock, period: period}
}

// Register adds t to the set of Tickables driven on every tick.
func (d *Dispatcher) Register(t Tickable) {
	d.tickable = append(d.tickable, t)
}

// Run drives the dispatcher's tick loop until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	d.lastTick = d.clock.NowMillis()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

// TickOnce drives exactly one tick, for callers (tests, or a FakeClock
// driven harness) that want to control pacing themselves rather than run
// Dispatcher's own ticker.
func (d *Dispatcher) TickOnce() {
	d.tick()
}

func (d *Dispatcher) tick() {
	now := d.clock.NowMillis()
	elapsed := now - d.lastTick
	d.lastTick = now
	for _, t := range d.tickable {
		t.Tick(elapsed)
	}
}
