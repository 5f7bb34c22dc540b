// Package syncx provides the concurrency primitives a kernel substrate
// needs below the scheduler: spin-based mutual exclusion for short
// critical sections where parking a whole OS thread would be wasteful,
// a reentrant mutex for call paths that may re-enter a lock they
// already hold, one-time initialization, and a scheduler-aware
// condition variable.
//
// Grounded on `original_source/libs/kstd/src/sync/raw_rwlock.rs` (the
// bit-packed atomic reader/writer/upgraded state), `remutex.rs` (the
// owner+refcount reentrant mutex), and `original_source/libs/spin/src/
// once.rs` (the four-state Once). Go has no `core::hint::spin_loop`
// equivalent in the standard library that also yields to the Go
// scheduler, so spins here call `runtime.Gosched` after a short
// exponential backoff instead of busy-looping unconditionally — a
// necessary adaptation, since a goroutine spinning forever on a single
// OS thread can starve the very goroutine it is waiting on.
package syncx

import (
	"runtime"
	"sync/atomic"
)

const spinYieldAfter = 64

// spin performs one backoff step of iteration i, yielding the
// goroutine to the Go scheduler once busy-spinning has gone on long
// enough that it is more likely to be wasting a core than winning a
// short race.
func spin(i int) {
	if i < spinYieldAfter {
		for n := 0; n < 1<<uint(min(i, 10)); n++ {
			// busy-wait: short critical sections are expected to clear
			// quickly, so a few spins usually beat a context switch.
		}
		return
	}
	runtime.Gosched()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SpinMutex is a simple test-and-set spin lock, the Go rendering of a
// bare `spin::Mutex` (the WRITER-only subset of RawRwLock below,
// without the reader/upgrade bits since a plain mutex needs none of
// them).
type SpinMutex struct {
	locked atomic.Bool
}

// Lock blocks until the mutex is acquired.
func (m *SpinMutex) Lock() {
	for i := 0; !m.TryLock(); i++ {
		spin(i)
	}
}

// TryLock attempts to acquire the mutex without blocking.
func (m *SpinMutex) TryLock() bool {
	return m.locked.CompareAndSwap(false, true)
}

// Unlock releases the mutex. Unlocking an unlocked SpinMutex is a
// programmer error, matching RawMutex's unsafe unlock_exclusive.
func (m *SpinMutex) Unlock() {
	m.locked.Store(false)
}

// IsLocked reports whether the mutex is currently held, for
// diagnostics only — never a substitute for actually taking the lock.
func (m *SpinMutex) IsLocked() bool { return m.locked.Load() }

const (
	rwReader   uint32 = 1 << 2
	rwUpgraded uint32 = 1 << 1
	rwWriter   uint32 = 1
)

// SpinRWLock is a spin-based, upgradable reader/writer lock, a direct
// port of raw_rwlock.rs's bit-packed `AtomicUsize` state (here
// `atomic.Uint32`, since a kernel host process never approaches
// 2^29 concurrent readers): bit 0 is the writer bit, bit 1 the
// "upgradable read held" bit, and the remaining bits count readers.
// Holding the upgraded bit blocks new readers, reducing the writer
// starvation a plain readers-preferred lock would otherwise cause.
type SpinRWLock struct {
	state atomic.Uint32
}

// maxReaders caps the reader count comfortably below where it could
// collide with the WRITER/UPGRADED bits on overflow.
const maxReaders = (1<<32 - 1) / rwReader / 2

// sub adds the two's-complement negation of delta, the Uint32.Add
// idiom for atomic subtraction.
func sub(a *atomic.Uint32, delta uint32) uint32 { return a.Add(^delta + 1) }

func (l *SpinRWLock) acquireReader() uint32 {
	v := l.state.Add(rwReader) - rwReader
	if v > maxReaders*rwReader {
		sub(&l.state, rwReader)
		panic("syncx: too many SpinRWLock readers")
	}
	return v
}

// RLock blocks until a shared (read) hold is acquired.
func (l *SpinRWLock) RLock() {
	for i := 0; !l.TryRLock(); i++ {
		spin(i)
	}
}

// TryRLock attempts to acquire a shared hold without blocking.
func (l *SpinRWLock) TryRLock() bool {
	v := l.acquireReader()
	if v&(rwWriter|rwUpgraded) != 0 {
		sub(&l.state, rwReader)
		return false
	}
	return true
}

// RUnlock releases a shared hold.
func (l *SpinRWLock) RUnlock() {
	sub(&l.state, rwReader)
}

// Lock blocks until an exclusive (write) hold is acquired.
func (l *SpinRWLock) Lock() {
	for i := 0; !l.TryLock(); i++ {
		spin(i)
	}
}

// TryLock attempts to acquire an exclusive hold without blocking.
func (l *SpinRWLock) TryLock() bool {
	return l.state.CompareAndSwap(0, rwWriter)
}

// Unlock releases an exclusive hold, clearing both the writer and
// upgraded bits (an upgrade attempt may have set UPGRADED while this
// writer held the lock; the writer is responsible for clearing it).
func (l *SpinRWLock) Unlock() {
	l.state.And(^(rwWriter | rwUpgraded))
}

// LockUpgradable blocks until an upgradable-read hold is acquired: a
// shared hold that can later be upgraded to exclusive without any
// other writer able to interleave.
func (l *SpinRWLock) LockUpgradable() {
	for i := 0; !l.TryLockUpgradable(); i++ {
		spin(i)
	}
}

// TryLockUpgradable attempts to acquire an upgradable-read hold
// without blocking.
func (l *SpinRWLock) TryLockUpgradable() bool {
	old := l.state.Or(rwUpgraded)
	return old&(rwWriter|rwUpgraded) == 0
}

// UnlockUpgradable releases an upgradable-read hold.
func (l *SpinRWLock) UnlockUpgradable() {
	sub(&l.state, rwUpgraded)
}

// Upgrade blocks until an upgradable-read hold converts to exclusive.
func (l *SpinRWLock) Upgrade() {
	for i := 0; !l.TryUpgrade(); i++ {
		spin(i)
	}
}

// TryUpgrade attempts to convert an upgradable-read hold into an
// exclusive hold without blocking. The caller must already hold the
// upgradable-read lock.
func (l *SpinRWLock) TryUpgrade() bool {
	return l.state.CompareAndSwap(rwUpgraded, rwWriter)
}

// Downgrade converts an exclusive hold directly into a shared hold
// without ever allowing another writer to observe the lock as free.
func (l *SpinRWLock) Downgrade() {
	l.acquireReader()
	l.state.And(^(rwWriter | rwUpgraded))
}
