package sched_test

import (
	"github.com/k23-systems/kcore/internal/sched"
	"github.com/k23-systems/kcore/internal/task"
)

// spawn puts a freshly created task.Header onto sched's queue the way a
// real spawn call would: mark it schedulable (NEW -> NOTIFIED) and, if
// that requires enqueueing, hand it to the scheduler.
func spawn(s task.Schedule, h *task.Header) {
	if h.MarkSchedulable() {
		s.Schedule(h)
	}
}

// spawnInjector is spawn's Injector.Push counterpart: Injector is not a
// task.Schedule (it has no bound scheduler identity of its own yet), so
// it gets its own helper.
func spawnInjector(inj *sched.Injector, h *task.Header) {
	if h.MarkSchedulable() {
		inj.Push(h)
	}
}
