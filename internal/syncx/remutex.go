package syncx

import "sync/atomic"

// ReentrantMutex is a mutex a caller may re-lock while already holding
// it, grounded on `remutex.rs`'s `ReentrantMutex<T>` (owner id + lock
// count guarding a `RawMutex`). Rust identifies the current holder via
// a thread-local address; Go has no portable goroutine-local storage,
// so the owner is an explicit caller-supplied token instead — in this
// codebase that is almost always a `*task.Header`, which already
// uniquely and stably identifies "who is running" the way a thread-local
// identified a thread in the source.
type ReentrantMutex[K comparable] struct {
	raw   SpinMutex
	owner atomic.Pointer[K]
	count uint32
}

// NewReentrantMutex returns an unlocked reentrant mutex.
func NewReentrantMutex[K comparable]() *ReentrantMutex[K] {
	return &ReentrantMutex[K]{}
}

// IsLocked reports whether the mutex is currently held by anyone.
func (m *ReentrantMutex[K]) IsLocked() bool { return m.raw.IsLocked() }

// IsOwnedBy reports whether owner currently holds the mutex.
func (m *ReentrantMutex[K]) IsOwnedBy(owner K) bool {
	p := m.owner.Load()
	return p != nil && *p == owner
}

// Lock acquires the mutex on behalf of owner, blocking until available.
// If owner already holds it, Lock increments the hold count instead of
// deadlocking against itself.
func (m *ReentrantMutex[K]) Lock(owner K) {
	if m.IsOwnedBy(owner) {
		m.count++
		return
	}
	m.raw.Lock()
	m.owner.Store(&owner)
	m.count = 1
}

// TryLock is the non-blocking form of Lock.
func (m *ReentrantMutex[K]) TryLock(owner K) bool {
	if m.IsOwnedBy(owner) {
		m.count++
		return true
	}
	if !m.raw.TryLock() {
		return false
	}
	m.owner.Store(&owner)
	m.count = 1
	return true
}

// Unlock releases one hold acquired by owner. Once the hold count
// reaches zero the underlying lock is released for other owners. It is
// a programmer error to call Unlock without a matching successful Lock
// or TryLock, mirroring ReentrantMutexGuard's Drop.
func (m *ReentrantMutex[K]) Unlock(owner K) {
	if !m.IsOwnedBy(owner) {
		panic("syncx: Unlock called by non-owner")
	}
	m.count--
	if m.count == 0 {
		m.owner.Store(nil)
		m.raw.Unlock()
	}
}
