package syncx_test

import (
	"sync"
	"testing"
	"time"

	"github.com/k23-systems/kcore/internal/syncx"
)

func TestCondvarNotifyOneWakesASingleWaiter(t *testing.T) {
	var mu sync.Mutex
	cv := syncx.NewCondvar()
	ready := false

	done := make(chan struct{})
	go func() {
		mu.Lock()
		for !ready {
			cv.Wait(&mu)
		}
		mu.Unlock()
		close(done)
	}()

	// Give the waiter a chance to register before notifying.
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	ready = true
	mu.Unlock()
	cv.NotifyOne()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken")
	}
}

func TestCondvarNotifyAllWakesEveryWaiter(t *testing.T) {
	var mu sync.Mutex
	cv := syncx.NewCondvar()
	ready := false

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			for !ready {
				cv.Wait(&mu)
			}
			mu.Unlock()
		}()
	}

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	ready = true
	mu.Unlock()
	cv.NotifyAll()

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("not every waiter was woken by NotifyAll")
	}
}

func TestCondvarWaitTimeoutExpires(t *testing.T) {
	var mu sync.Mutex
	cv := syncx.NewCondvar()

	mu.Lock()
	notified := cv.WaitTimeout(&mu, 10*time.Millisecond)
	mu.Unlock()

	if notified {
		t.Fatal("expected WaitTimeout to report false after the timeout elapsed")
	}
}

func TestCondvarRejectsASecondMutex(t *testing.T) {
	var muA, muB sync.Mutex
	cv := syncx.NewCondvar()

	go func() {
		muA.Lock()
		cv.WaitTimeout(&muA, 50*time.Millisecond)
		muA.Unlock()
	}()
	time.Sleep(10 * time.Millisecond)

	defer func() {
		if recover() == nil {
			t.Fatal("expected waiting on a second mutex to panic")
		}
	}()
	muB.Lock()
	defer muB.Unlock()
	cv.Wait(&muB)
}
