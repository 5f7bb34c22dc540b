package sched

import (
	"testing"

	"github.com/k23-systems/kcore/internal/task"
)

func vtableNoop() *task.VTable {
	return &task.VTable{Poll: func(any) (bool, any) { return false, nil }}
}

func TestMPSCQueueFIFOOrder(t *testing.T) {
	q := newMPSCQueue()
	a := task.New(vtableNoop(), "a", nil)
	b := task.New(vtableNoop(), "b", nil)
	c := task.New(vtableNoop(), "c", nil)
	q.enqueue(a)
	q.enqueue(b)
	q.enqueue(c)

	for _, want := range []*task.Header{a, b, c} {
		got, err := q.tryDequeue()
		if err != nil {
			t.Fatalf("tryDequeue: %v", err)
		}
		if got != want {
			t.Fatalf("tryDequeue = %p, want %p", got, want)
		}
	}
	if _, err := q.tryDequeue(); err != errEmpty {
		t.Fatalf("tryDequeue on drained queue = %v, want errEmpty", err)
	}
}

func TestMPSCQueueEmptyInitially(t *testing.T) {
	q := newMPSCQueue()
	if _, err := q.tryDequeue(); err != errEmpty {
		t.Fatalf("tryDequeue = %v, want errEmpty", err)
	}
}

func TestMPSCQueueConsumerExclusivity(t *testing.T) {
	q := newMPSCQueue()
	if !q.tryAcquireConsumer() {
		t.Fatal("first tryAcquireConsumer should succeed")
	}
	if q.tryAcquireConsumer() {
		t.Fatal("second tryAcquireConsumer should fail while the first holds the slot")
	}
	q.releaseConsumer()
	if !q.tryAcquireConsumer() {
		t.Fatal("tryAcquireConsumer should succeed again after release")
	}
}

func TestMPSCQueueInterleavedEnqueueDequeue(t *testing.T) {
	q := newMPSCQueue()
	a := task.New(vtableNoop(), "a", nil)
	q.enqueue(a)
	got, err := q.tryDequeue()
	if err != nil || got != a {
		t.Fatalf("tryDequeue = %v, %v, want a, nil", got, err)
	}
	if _, err := q.tryDequeue(); err != errEmpty {
		t.Fatalf("tryDequeue = %v, want errEmpty", err)
	}

	b := task.New(vtableNoop(), "b", nil)
	q.enqueue(b)
	got, err = q.tryDequeue()
	if err != nil || got != b {
		t.Fatalf("tryDequeue after refill = %v, %v, want b, nil", got, err)
	}
}
