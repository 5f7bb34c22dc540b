package sched

import (
	"sync/atomic"

	"github.com/k23-systems/kcore/internal/task"
)

// Injector is the global run queue new tasks are spawned onto and idle
// workers pull their first unit of work from, grounded on
// original_source/libs/kasync/src/scheduler/steal.rs's Injector.
type Injector struct {
	runQueue *mpscQueue
	queued   atomic.Int64
}

// NewInjector returns an empty Injector.
func NewInjector() *Injector {
	return &Injector{runQueue: newMPSCQueue()}
}

// Push enqueues a newly spawned task.
func (inj *Injector) Push(h *task.Header) {
	inj.queued.Add(1)
	inj.runQueue.enqueue(h)
}

// Queued reports the injector's current length.
func (inj *Injector) Queued() int64 { return inj.queued.Load() }

// TryPop removes a single task for a worker with an empty local queue
// to run directly, without the overhead of a Stealer handle.
func (inj *Injector) TryPop() (*task.Header, error) {
	if !inj.runQueue.tryAcquireConsumer() {
		return nil, ErrBusy
	}
	defer inj.runQueue.releaseConsumer()
	h, err := inj.runQueue.tryDequeue()
	if err != nil {
		return nil, err
	}
	inj.queued.Add(-1)
	return h, nil
}

// TryConsume grants the caller exclusive, multi-task stealing access to
// the injector, mirroring Injector::try_steal.
func (inj *Injector) TryConsume() (*Stealer, error) {
	return trySteal(inj.runQueue, &inj.queued)
}

// Stealer grants one worker temporary exclusive consumer access to
// another scheduler's (or the injector's) run queue, the Go rendering
// of steal.rs's Stealer<'queue, S>. Call Close once done stealing.
type Stealer struct {
	queue    *mpscQueue
	counter  *atomic.Int64
	snapshot int64
}

func trySteal(q *mpscQueue, counter *atomic.Int64) (*Stealer, error) {
	if !q.tryAcquireConsumer() {
		return nil, ErrBusy
	}
	n := counter.Load()
	if n == 0 {
		q.releaseConsumer()
		return nil, ErrEmpty
	}
	return &Stealer{queue: q, counter: counter, snapshot: n}, nil
}

// InitialTaskCount is the target queue's length when the Stealer was
// created; SpawnHalf's split is computed from this snapshot, not from
// the queue's live length.
func (s *Stealer) InitialTaskCount() int64 { return s.snapshot }

// Close releases the exclusive consumer slot this Stealer was holding.
func (s *Stealer) Close() { s.queue.releaseConsumer() }

// SpawnOne steals a single task and hands it to dst, rebinding the
// task's scheduler pointer before scheduling it there. Returns false if
// the source queue was empty.
func (s *Stealer) SpawnOne(dst task.Schedule) bool {
	h, err := s.queue.tryDequeue()
	if err != nil {
		return false
	}
	s.counter.Add(-1)
	h.BindScheduler(dst)
	dst.Schedule(h)
	return true
}

// SpawnN steals up to max tasks, stopping early if the source queue
// empties first.
func (s *Stealer) SpawnN(dst task.Schedule, max int) int {
	stolen := 0
	for stolen < max && s.SpawnOne(dst) {
		stolen++
	}
	return stolen
}

// SpawnHalf steals half of the snapshot taken when this Stealer was
// created (rounded up), always at least one, matching spec.md §4.I's
// "steal half the tasks... always at least one".
func (s *Stealer) SpawnHalf(dst task.Schedule) int {
	max := int((s.snapshot + 1) / 2)
	if max < 1 {
		max = 1
	}
	return s.SpawnN(dst, max)
}
