package sched

// Timer is a one-shot countdown driven by the same elapsed-millisecond
// ticks as a Dispatcher, rather than its own goroutine, so its firing stays
// deterministic under a FakeClock in tests (unlike time.AfterFunc). Master
// does not use it: its poll delay is counted inside Master.Tick.
type Timer struct {
	remaining uint64
	armed     bool
	fn        func()
}

// NewTimer creates an unarmed Timer. Call Reset to arm it.
func NewTimer(fn func()) *Timer {
	return &Timer{fn: fn}
}

// Reset (re)arms the timer to fire after durationMillis of Tick calls.
func (t *Timer) Reset(durationMillis uint64) {
	t.remaining = durationMillis
	t.armed = true
}

// Stop disarms the timer without firing it.
func (t *Timer) Stop() {
	t.armed = false
}

// Tick advances the timer by elapsedMillis, firing fn at most once if the
// deadline is reached.
func (t *Timer) Tick(elapsedMillis uint64) {
	if !t.armed {
		return
	}
	if elapsedMillis >= t.remaining {
		t.armed = false
		t.fn()
		return
	}
	t.remaining -= elapsedMillis
}
