package syncx

import "sync/atomic"

// once status values, ported from spin/src/once.rs's four-state
// machine (Go's own sync.Once has no poison state, which this codebase
// wants: a panicking initializer poisons the Once, and every later
// caller panics rather than silently re-running it).
const (
	onceIncomplete uint32 = iota
	oncePoisoned
	onceRunning
	onceComplete
)

// Once runs an initializer exactly once across any number of callers,
// poisoning itself if the initializer panics so that every subsequent
// caller observes the panic rather than silently re-running it.
type Once struct {
	status atomic.Uint32
}

// IsCompleted reports whether the initializer has already run
// successfully.
func (o *Once) IsCompleted() bool { return o.status.Load() == onceComplete }

// Do runs f if this is the first call to Do on o, and blocks until any
// concurrent first call finishes otherwise. Do panics if f previously
// panicked on another call (the poison propagates to every caller).
func (o *Once) Do(f func()) {
	if o.IsCompleted() {
		return
	}
	o.slow(f)
}

func (o *Once) slow(f func()) {
	for {
		if o.status.CompareAndSwap(onceIncomplete, onceRunning) {
			o.runLocked(f)
			return
		}
		switch o.status.Load() {
		case onceComplete:
			return
		case oncePoisoned:
			panic("syncx: Once instance has previously been poisoned")
		case onceRunning:
			spin(spinYieldAfter) // always yield: another goroutine owns this
		}
	}
}

func (o *Once) runLocked(f func()) {
	defer func() {
		if r := recover(); r != nil {
			o.status.Store(oncePoisoned)
			panic(r)
		}
	}()
	f()
	o.status.Store(onceComplete)
}

// LazyLock wraps a value computed by f exactly once, on first access,
// the Go rendering of sync/src/lazy_lock.rs's `LazyLock<T>` (a `Once`
// guarding a union of "the initializer" and "the value" — Go's GC and
// interface values make the union unnecessary, so this keeps the
// initializer closure directly rather than reinterpreting storage).
type LazyLock[T any] struct {
	once  Once
	f     func() T
	value T
}

// NewLazyLock returns a LazyLock that computes its value by calling f
// the first time Value is called.
func NewLazyLock[T any](f func() T) *LazyLock[T] {
	return &LazyLock[T]{f: f}
}

// Value returns the lazily-computed value, computing it on the first
// call and returning the cached result on every call after.
func (l *LazyLock[T]) Value() T {
	l.once.Do(func() { l.value = l.f() })
	return l.value
}
