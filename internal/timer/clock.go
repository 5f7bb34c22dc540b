package timer

import "time"

// Clock supplies the base tick granularity a Timer converts durations
// against. Ticks themselves are the wheel's own step counter (advanced
// only by explicit Tick calls, not a background goroutine sampling wall
// time), the same "driven by the scheduler" posture spec.md's Clock
// description implies for a kernel timer; Clock's only job is reporting
// what one tick is worth in wall-clock terms.
type Clock interface {
	TickDuration() time.Duration
}

// FixedClock is a Clock with a constant tick duration, suitable for
// production use (one tick per scheduler timer IRQ period) and for
// tests that want a known, simple conversion factor.
type FixedClock time.Duration

// TickDuration returns c as a time.Duration.
func (c FixedClock) TickDuration() time.Duration { return time.Duration(c) }
