package timer

import (
	"time"

	"github.com/k23-systems/kcore/internal/task"
)

// Timer pairs a Wheel with the Clock that converts durations to ticks,
// the Go rendering of sleep.rs's `Timer` (`core` wheel + `clock`).
type Timer struct {
	wheel *Wheel
	clock Clock
}

// NewTimer returns a Timer over a fresh, empty wheel.
func NewTimer(clock Clock) *Timer {
	return &Timer{wheel: NewWheel(), clock: clock}
}

// Now returns the timer's current tick.
func (t *Timer) Now() Ticks { return t.wheel.Now() }

// TickDuration reports what one tick is worth in wall-clock time.
func (t *Timer) TickDuration() time.Duration { return t.clock.TickDuration() }

// DurationToTicks converts a wall-clock duration to a tick count using
// the timer's Clock, rounding down (a zero or sub-tick duration becomes
// a same-tick deadline, i.e. immediately ready).
func (t *Timer) DurationToTicks(d time.Duration) Ticks {
	td := t.clock.TickDuration()
	if td <= 0 {
		td = time.Millisecond
	}
	if d <= 0 {
		return 0
	}
	return Ticks(d / td)
}

// Tick advances the wheel by one base tick and fires the waker of
// every entry that expired on it. Entries are fired after the wheel's
// internal lock is released (Wheel.Turn already does this), so a
// waker that synchronously registers a new Sleep cannot deadlock
// against the wheel.
func (t *Timer) Tick() int {
	fired := t.wheel.Turn()
	for _, e := range fired {
		e.waker.fire()
	}
	return len(fired)
}

// sleepState mirrors sleep.rs's State enum.
type sleepState int

const (
	sleepUnregistered sleepState = iota
	sleepRegistered
)

// Sleep is a one-shot wheel-backed delay, the Go rendering of
// sleep.rs's `Sleep` future. Since Go has no `Future`/`poll` trait or
// deterministic `Drop`, this package follows internal/task's idiom: a
// step method the caller's own task payload calls from its own Poll,
// and an explicit Cancel the caller must invoke if it abandons the
// Sleep before it fires (sleep.rs's PinnedDrop does this implicitly;
// Go requires the caller to do so explicitly).
type Sleep struct {
	timer *Timer
	entry *Entry
	state sleepState
}

// NewSleep returns a Sleep that becomes ready once d has elapsed,
// measured from the timer's current tick at call time (the deadline is
// fixed at construction, exactly as sleep.rs's Sleep::new computes
// `deadline = now + ticks` once and never recomputes it).
func (t *Timer) NewSleep(d time.Duration) *Sleep {
	deadline := t.Now() + t.DurationToTicks(d)
	return &Sleep{timer: t, entry: &Entry{Deadline: deadline}}
}

// NewSleepUntil returns a Sleep with an explicit absolute deadline tick.
func (t *Timer) NewSleepUntil(deadline Ticks) *Sleep {
	return &Sleep{timer: t, entry: &Entry{Deadline: deadline}}
}

// Poll drives the sleep forward one step: on first call it registers
// the entry with the wheel (advancing the wheel one tick first, the
// same "turn while holding the lock" eagerness sleep.rs's poll does to
// improve accuracy); on later calls it checks whether the wheel has
// since fired the entry. Returns true once the deadline has passed.
// The caller's own Waker is (re-)registered as the entry's wake
// callback whenever Poll returns false, so a later Timer.Tick that
// fires the entry wakes the caller's task.
func (s *Sleep) Poll(w task.Waker) bool {
	switch s.state {
	case sleepUnregistered:
		s.timer.Tick()
		ready := s.timer.wheel.Register(s.entry)
		s.state = sleepRegistered
		if ready {
			return true
		}
	case sleepRegistered:
		if !s.entry.Registered() {
			return true
		}
	}
	s.entry.waker.register(func() { w.WakeByRef() })
	return false
}

// Cancel unregisters the sleep from the wheel if it is still pending,
// the explicit counterpart of sleep.rs's PinnedDrop. A no-op if the
// sleep was never registered or has already fired.
func (s *Sleep) Cancel() {
	if s.state == sleepRegistered {
		s.timer.wheel.Cancel(s.entry)
	}
}

// Duration reports the wall-clock time remaining until the deadline,
// as of the timer's current tick; zero once the deadline has passed.
func (s *Sleep) Duration() time.Duration {
	now := s.timer.Now()
	if s.entry.Deadline <= now {
		return 0
	}
	return time.Duration(s.entry.Deadline-now) * s.timer.TickDuration()
}
