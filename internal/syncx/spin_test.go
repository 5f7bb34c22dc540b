package syncx_test

import (
	"sync"
	"testing"

	"github.com/k23-systems/kcore/internal/syncx"
)

func TestSpinMutexMutualExclusion(t *testing.T) {
	var m syncx.SpinMutex
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock()
			counter++
			m.Unlock()
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Fatalf("counter = %d, want 100", counter)
	}
}

func TestSpinMutexTryLockFailsWhileHeld(t *testing.T) {
	var m syncx.SpinMutex
	m.Lock()
	if m.TryLock() {
		t.Fatal("TryLock succeeded on an already-locked SpinMutex")
	}
	m.Unlock()
	if !m.TryLock() {
		t.Fatal("TryLock failed on an unlocked SpinMutex")
	}
}

func TestSpinRWLockMultipleReaders(t *testing.T) {
	var l syncx.SpinRWLock
	l.RLock()
	if !l.TryRLock() {
		t.Fatal("a second reader should be able to join an existing read hold")
	}
	l.RUnlock()
	l.RUnlock()
}

func TestSpinRWLockWriterExcludesReaders(t *testing.T) {
	var l syncx.SpinRWLock
	l.Lock()
	if l.TryRLock() {
		t.Fatal("TryRLock succeeded while a writer held the lock")
	}
	l.Unlock()
	if !l.TryRLock() {
		t.Fatal("TryRLock failed once the writer released the lock")
	}
	l.RUnlock()
}

func TestSpinRWLockUpgradableBlocksNewReadersNotExistingOnes(t *testing.T) {
	var l syncx.SpinRWLock
	l.RLock()
	if !l.TryLockUpgradable() {
		t.Fatal("an upgradable lock should coexist with an existing reader")
	}
	if l.TryLockUpgradable() {
		t.Fatal("only one upgradable hold may be outstanding at a time")
	}
	if l.TryRLock() {
		t.Fatal("a new reader must be refused while an upgradable hold is outstanding")
	}
	l.RUnlock()
	l.UnlockUpgradable()
}

func TestSpinRWLockUpgradeToExclusive(t *testing.T) {
	var l syncx.SpinRWLock
	l.LockUpgradable()
	if !l.TryUpgrade() {
		t.Fatal("TryUpgrade failed with no competing readers")
	}
	l.Unlock()
}

func TestSpinRWLockDowngradeAllowsReaders(t *testing.T) {
	var l syncx.SpinRWLock
	l.Lock()
	l.Downgrade()
	if !l.TryRLock() {
		t.Fatal("a second reader should be admitted once downgraded")
	}
	l.RUnlock()
	l.RUnlock()
}
