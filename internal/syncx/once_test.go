package syncx_test

import (
	"sync"
	"testing"

	"github.com/k23-systems/kcore/internal/syncx"
)

func TestOnceRunsExactlyOnce(t *testing.T) {
	var o syncx.Once
	runs := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Do(func() { runs++ })
		}()
	}
	wg.Wait()
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
	if !o.IsCompleted() {
		t.Fatal("expected IsCompleted to be true after Do")
	}
}

func TestOncePoisonsOnPanicAndPropagates(t *testing.T) {
	var o syncx.Once

	func() {
		defer func() { recover() }()
		o.Do(func() { panic("boom") })
	}()

	defer func() {
		if recover() == nil {
			t.Fatal("expected a poisoned Once to panic on the next Do")
		}
	}()
	o.Do(func() {})
}

func TestLazyLockComputesOnce(t *testing.T) {
	calls := 0
	l := syncx.NewLazyLock(func() int {
		calls++
		return 42
	})
	if v := l.Value(); v != 42 {
		t.Fatalf("Value() = %d, want 42", v)
	}
	if v := l.Value(); v != 42 {
		t.Fatalf("Value() on second call = %d, want 42", v)
	}
	if calls != 1 {
		t.Fatalf("initializer called %d times, want 1", calls)
	}
}
