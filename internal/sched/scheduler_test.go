package sched_test

import (
	"testing"

	"github.com/k23-systems/kcore/internal/sched"
	"github.com/k23-systems/kcore/internal/task"
)

func TestSchedulerTickPollsAndCompletes(t *testing.T) {
	s := sched.NewScheduler()
	h := task.New(&task.VTable{Poll: func(payload any) (bool, any) { return true, payload }}, "x", s)
	spawn(s, h)

	tick := s.TickN(10)
	if tick.Polled != 1 || tick.Completed != 1 {
		t.Fatalf("tick = %+v, want Polled=1 Completed=1", tick)
	}
	if tick.WokenExternal != 1 {
		t.Fatalf("tick.WokenExternal = %d, want 1 (the initial Schedule call)", tick.WokenExternal)
	}
}

func TestSchedulerRequeuesWokenDuringPoll(t *testing.T) {
	s := sched.NewScheduler()
	var h *task.Header
	vt := &task.VTable{Poll: func(payload any) (bool, any) {
		h.MarkSchedulable() // simulate an external wake arriving mid-poll
		return false, nil
	}}
	h = task.New(vt, "x", s)
	spawn(s, h)

	tick := s.TickN(3)
	if tick.Polled != 3 {
		t.Fatalf("tick.Polled = %d, want 3", tick.Polled)
	}
	if tick.WokenInternal != 3 {
		t.Fatalf("tick.WokenInternal = %d, want 3", tick.WokenInternal)
	}
	if !tick.HasRemaining {
		t.Fatal("the task requeued by the final poll should leave the queue non-empty")
	}
}

func TestSchedulerBusyDuringStealSkipsTick(t *testing.T) {
	s := sched.NewScheduler()
	h := task.New(&task.VTable{Poll: func(payload any) (bool, any) { return true, payload }}, "x", s)
	spawn(s, h)

	stealer, err := s.TryConsume()
	if err != nil {
		t.Fatalf("TryConsume: %v", err)
	}
	defer stealer.Close()

	tick := s.TickN(10)
	if tick.Polled != 0 {
		t.Fatalf("tick.Polled = %d, want 0 while another consumer holds the queue", tick.Polled)
	}
}

func TestSchedulerTickNEmptyQueueIsANoop(t *testing.T) {
	s := sched.NewScheduler()
	tick := s.TickN(10)
	if tick.Polled != 0 || tick.Completed != 0 || tick.HasRemaining {
		t.Fatalf("tick = %+v, want zero value", tick)
	}
}
