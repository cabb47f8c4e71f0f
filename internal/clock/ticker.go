package clock

import "time"

// Ticker reports when a fixed interval has elapsed on a Clock. It is polled,
// not channel driven: the scheduler asks Due once per pass.
type Ticker struct {
	clock    Clock
	interval time.Duration
	last     time.Time
	primed   bool
}

// NewTicker returns a Ticker whose first Due reports true immediately.
func NewTicker(c Clock, interval time.Duration) *Ticker {
	return &Ticker{clock: c, interval: interval, primed: true}
}

// Due reports whether the interval has elapsed since the last time Due
// returned true, and if so restarts the interval.
func (t *Ticker) Due() bool {
	now := t.clock.Now()
	if t.primed || now.Sub(t.last) >= t.interval {
		t.primed = false
		t.last = now
		return true
	}
	return false
}

// Fire makes the next Due return true regardless of elapsed time.
func (t *Ticker) Fire() {
	t.primed = true
}

// Reset restarts the interval from now without firing.
func (t *Ticker) Reset() {
	t.primed = false
	t.last = t.clock.Now()
}

// Interval returns the configured interval.
func (t *Ticker) Interval() time.Duration {
	return t.interval
}
