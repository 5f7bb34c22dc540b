// Package task implements the task header state machine spec.md §4.H
// describes: a fixed prefix carrying an atomic state word, a refcount,
// an intrusive run-queue link, and a small v-table so the scheduler can
// drive any payload (a plain step function here, standing in for the
// source's regular-future/WASM-task/stub payload kinds) without knowing
// its concrete type.
//
// Grounded on `original_source/libs/async-rt/src/scheduler/mod.rs`'s
// `Core`/`Tick` (the polled/completed/woken accounting a tick reports)
// and the task `Header`/`PollResult`/`Schedule` contract it assumes,
// plus `original_source/libs/kasync/src/scheduler/steal.rs`'s
// `bind_scheduler` rebinding on steal. Go has no Rust-style `Future`
// trait, so a task's payload here is a step closure invoked once per
// poll rather than a state machine `poll` implements generically; the
// header's own state machine, v-table shape and transition table are
// otherwise a direct port.
package task

import (
	"sync"
	"sync/atomic"
)

// phase is the mutually-exclusive lifecycle position of a task, the low
// bits of Header.state.
type phase uint32

const (
	phaseNew phase = iota
	phaseNotified
	phasePolling
	phaseIdle
	phaseComplete
)

const phaseMask = 0x7

// Orthogonal flag bits packed into the high bits of Header.state,
// alongside phase.
const (
	flagWokenDuringPoll uint32 = 1 << 3
	flagCanceled        uint32 = 1 << 4
	flagJoinWakerSet    uint32 = 1 << 5
)

func pack(p phase, flags uint32) uint32 { return uint32(p) | flags }
func unpack(v uint32) (phase, uint32)   { return phase(v & phaseMask), v &^ phaseMask }

// Schedule is implemented by whatever owns a task's run queue; WakeByRef
// calls it to re-enqueue a woken task. internal/sched.Scheduler
// implements this.
type Schedule interface {
	Schedule(h *Header)
}

// VTable is the per-payload-kind operation set spec.md §4.H's "header
// exposes a v-table" calls for: Poll advances the payload one step,
// Deallocate releases it once the header's refcount reaches zero.
type VTable struct {
	// Poll runs one step of payload. ready=true means the future is
	// done; output is then stored on the Header for a joiner to collect.
	Poll func(payload any) (ready bool, output any)
	// Deallocate is invoked exactly once, when the last Waker/JoinHandle
	// reference to the task is released.
	Deallocate func(payload any)
}

// PollOutcome reports what EndPoll decided, for the scheduler's Tick
// accounting (internal/sched reads Requeue/Completed; WakeJoiner, if
// non-nil, must be woken by the caller after the task's own lock is
// released).
type PollOutcome struct {
	Completed  bool
	Requeue    bool
	WakeJoiner *Waker
}

// JoinKind is the outcome of TryJoin, spec.md §4.H's try_join result.
type JoinKind int

const (
	JoinRegister JoinKind = iota
	JoinReregister
	JoinTakeOutput
	JoinCanceled
)

// JoinResult is TryJoin's full result; Completed is only meaningful when
// Kind is JoinCanceled.
type JoinResult struct {
	Kind      JoinKind
	Completed bool
}

// Header is the fixed prefix of every task allocation: Go's rendering of
// the source's intrusive, v-table-driven task header.
type Header struct {
	state     atomic.Uint32
	refcount  atomic.Int32
	next      atomic.Pointer[Header] // intrusive MPSC run-queue link
	vtable    *VTable
	payload   any
	scheduler Schedule

	mu        sync.Mutex
	joinWaker Waker
	output    any
}

// New creates a task Header in the NEW phase with refcount 1, owned by
// sched (the scheduler that Schedule/WakeByRef enqueue onto).
func New(vt *VTable, payload any, sched Schedule) *Header {
	h := &Header{vtable: vt, payload: payload, scheduler: sched}
	h.refcount.Store(1)
	return h
}

// Next/SetNext expose the intrusive link field for an MPSC run queue
// (internal/sched.mpscQueue) to manipulate directly, matching the
// source's reliance on Header owning its own queue link so enqueue/
// dequeue never allocate.
func (h *Header) Next() *Header     { return h.next.Load() }
func (h *Header) SetNext(n *Header) { h.next.Store(n) }

// Canceled reports whether Cancel has been called.
func (h *Header) Canceled() bool {
	_, flags := unpack(h.state.Load())
	return flags&flagCanceled != 0
}

// MarkSchedulable implements the "schedule"/"external wake" transitions:
// NEW/IDLE -> NOTIFIED+RUN_QUEUED (caller must enqueue); POLLING ->
// records a wake to requeue once the in-flight poll ends; NOTIFIED/
// COMPLETE are no-ops. Returns whether the caller must enqueue h itself.
func (h *Header) MarkSchedulable() (enqueue bool) {
	for {
		old := h.state.Load()
		ph, flags := unpack(old)
		switch ph {
		case phaseComplete, phaseNotified:
			return false
		case phasePolling:
			neu := pack(ph, flags|flagWokenDuringPoll)
			if h.state.CompareAndSwap(old, neu) {
				return false
			}
		default: // New, Idle
			neu := pack(phaseNotified, flags)
			if h.state.CompareAndSwap(old, neu) {
				return true
			}
		}
	}
}

// StartPoll acquires exclusive polling rights: NOTIFIED -> POLLING.
// Returns false if h was not in NOTIFIED (the scheduler should not have
// dequeued it in that case; callers treat false as "skip this tick").
func (h *Header) StartPoll() bool {
	for {
		old := h.state.Load()
		ph, flags := unpack(old)
		if ph != phaseNotified {
			return false
		}
		neu := pack(phasePolling, flags&^flagWokenDuringPoll)
		if h.state.CompareAndSwap(old, neu) {
			return true
		}
	}
}

// EndPoll implements the POLLING exit transitions of spec.md §4.H's
// table, returning whether the task completed, must be requeued, or has
// a joiner to wake.
func (h *Header) EndPoll(ready bool) PollOutcome {
	for {
		old := h.state.Load()
		ph, flags := unpack(old)
		if ph != phasePolling {
			panic("task: end_poll called outside POLLING")
		}
		if ready {
			neu := pack(phaseComplete, flags)
			if !h.state.CompareAndSwap(old, neu) {
				continue
			}
			outcome := PollOutcome{Completed: true}
			if flags&flagJoinWakerSet != 0 {
				h.mu.Lock()
				w := h.joinWaker
				h.mu.Unlock()
				outcome.WakeJoiner = &w
			}
			return outcome
		}
		if flags&flagWokenDuringPoll != 0 {
			neu := pack(phaseNotified, flags&^flagWokenDuringPoll)
			if h.state.CompareAndSwap(old, neu) {
				return PollOutcome{Requeue: true}
			}
			continue
		}
		neu := pack(phaseIdle, flags)
		if h.state.CompareAndSwap(old, neu) {
			return PollOutcome{}
		}
	}
}

// PollOnce drives the payload forward once: the "poll" v-table entry of
// spec.md §4.H. It is a no-op reporting a zero PollOutcome if h was not
// in NOTIFIED when called.
func (h *Header) PollOnce() PollOutcome {
	if !h.StartPoll() {
		return PollOutcome{}
	}
	ready, out := h.vtable.Poll(h.payload)
	outcome := h.EndPoll(ready)
	if ready {
		h.mu.Lock()
		h.output = out
		h.mu.Unlock()
	}
	return outcome
}

// Cancel sets the CANCELED flag (additive, from any phase) and nudges
// a NEW or IDLE task back onto a run queue. PollOnce does not consult
// the flag: the task's next poll runs its payload as usual, and the
// payload is not dropped early.
func (h *Header) Cancel() {
	for {
		old := h.state.Load()
		ph, flags := unpack(old)
		if flags&flagCanceled != 0 {
			return
		}
		neu := pack(ph, flags|flagCanceled)
		if h.state.CompareAndSwap(old, neu) {
			break
		}
	}
	if h.MarkSchedulable() {
		h.scheduler.Schedule(h)
	}
}

// TryJoin implements the poll_join v-table entry: decide what a joiner
// waiting on this task should do, registering w as the task's join
// waker on first call.
func (h *Header) TryJoin(w Waker) JoinResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph, flags := unpack(h.state.Load())
	canceled := flags&flagCanceled != 0
	switch {
	case ph == phaseComplete && !canceled:
		return JoinResult{Kind: JoinTakeOutput}
	case ph == phaseComplete && canceled:
		return JoinResult{Kind: JoinCanceled, Completed: true}
	case canceled:
		return JoinResult{Kind: JoinCanceled, Completed: false}
	case flags&flagJoinWakerSet != 0:
		h.joinWaker = w
		return JoinResult{Kind: JoinReregister}
	default:
		h.joinWaker = w
		for {
			old := h.state.Load()
			p, f := unpack(old)
			neu := pack(p, f|flagJoinWakerSet)
			if h.state.CompareAndSwap(old, neu) {
				break
			}
		}
		return JoinResult{Kind: JoinRegister}
	}
}

// TakeOutput returns the value a completed task's Poll call produced.
func (h *Header) TakeOutput() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.output
}

// BindScheduler rebinds h onto a new scheduler, the step work-stealing
// performs before handing a stolen task to its new owner.
func (h *Header) BindScheduler(s Schedule) { h.scheduler = s }

// Retain increments the refcount, the Go rendering of RawWaker::clone.
func (h *Header) Retain() { h.refcount.Add(1) }

// Release decrements the refcount, deallocating the payload via the
// v-table once it reaches zero.
func (h *Header) Release() {
	if h.refcount.Add(-1) == 0 && h.vtable.Deallocate != nil {
		h.vtable.Deallocate(h.payload)
	}
}

// WakeByRef flips the task back to schedulable and enqueues it on its
// bound scheduler if that transition requires it, without consuming a
// reference (the "clone the scheduler pointer" step of spec.md's Waker
// description is the scheduler field Header already carries).
func (h *Header) WakeByRef() {
	if h.MarkSchedulable() {
		h.scheduler.Schedule(h)
	}
}

// Waker is a cloneable handle that can wake the task it was made from,
// grounded on spec.md's "Each task exposes a RawWaker whose clone
// increments the header refcount".
type Waker struct {
	h *Header
}

// NewWaker retains h and returns a Waker for it.
func NewWaker(h *Header) Waker {
	h.Retain()
	return Waker{h: h}
}

// Clone retains the underlying task and returns an independent Waker.
func (w Waker) Clone() Waker {
	w.h.Retain()
	return Waker{h: w.h}
}

// Wake consumes w, waking its task and releasing the reference it held.
func (w Waker) Wake() {
	w.h.WakeByRef()
	w.h.Release()
}

// WakeByRef wakes w's task without releasing w's reference.
func (w Waker) WakeByRef() { w.h.WakeByRef() }

// Drop releases w's reference without waking anything, for a joiner
// that is discarding a previously registered waker.
func (w Waker) Drop() { w.h.Release() }
