package timer

import "testing"

func TestWheelRegisterImmediateWhenDeadlineAlreadyPassed(t *testing.T) {
	w := NewWheel()
	e := &Entry{Deadline: 0}
	if ready := w.Register(e); !ready {
		t.Fatal("registering a non-future deadline should report ready immediately")
	}
}

func TestWheelFiresAtExactDeadline(t *testing.T) {
	w := NewWheel()
	e := &Entry{Deadline: 5}
	if ready := w.Register(e); ready {
		t.Fatal("a 5-tick-future deadline should not be immediately ready")
	}

	for i := 0; i < 4; i++ {
		if fired := w.Turn(); len(fired) != 0 {
			t.Fatalf("Turn() at tick %d fired %v, want nothing yet", i+1, fired)
		}
	}
	fired := w.Turn()
	if len(fired) != 1 || fired[0] != e {
		t.Fatalf("Turn() at the deadline tick = %v, want [e]", fired)
	}
	if e.Registered() {
		t.Fatal("a fired entry should no longer report Registered")
	}
}

func TestWheelCancelPreventsFiring(t *testing.T) {
	w := NewWheel()
	e := &Entry{Deadline: 3}
	w.Register(e)
	w.Cancel(e)
	if e.Registered() {
		t.Fatal("Registered() should be false immediately after Cancel")
	}

	for i := 0; i < 10; i++ {
		if fired := w.Turn(); len(fired) != 0 {
			t.Fatalf("a canceled entry must never appear in Turn's fired list, got %v", fired)
		}
	}
}

func TestWheelCascadesFromHigherLevel(t *testing.T) {
	w := NewWheel()
	// deadline 67 lands in level 1 initially (delta=67 >= granularity(1)=64),
	// cascades into level 0 at tick 64 (delta becomes 3), then fires at 67.
	e := &Entry{Deadline: 67}
	w.Register(e)

	for i := 0; i < 66; i++ {
		if fired := w.Turn(); len(fired) != 0 {
			t.Fatalf("Turn() at tick %d fired %v, want nothing before the deadline", i+1, fired)
		}
	}
	fired := w.Turn()
	if len(fired) != 1 || fired[0] != e {
		t.Fatalf("Turn() at tick 67 = %v, want [e]", fired)
	}
}

func TestWheelFiresOnCascadeLandingExactlyOnBoundary(t *testing.T) {
	w := NewWheel()
	// deadline 64 is an exact multiple of level 1's granularity (64), so
	// it's placed in level 1 and, when cascaded at tick 64, lands with
	// Deadline == w.current instead of strictly in the future — that
	// cascade step must itself report the entry as fired rather than
	// relinking it for a tick that will never come again.
	e := &Entry{Deadline: 64}
	w.Register(e)

	for i := 0; i < 63; i++ {
		if fired := w.Turn(); len(fired) != 0 {
			t.Fatalf("Turn() at tick %d fired %v, want nothing before the deadline", i+1, fired)
		}
	}
	fired := w.Turn()
	if len(fired) != 1 || fired[0] != e {
		t.Fatalf("Turn() at tick 64 = %v, want [e]", fired)
	}
	if e.Registered() {
		t.Fatal("a fired entry should no longer report Registered")
	}
}

func TestWheelMultipleEntriesInSameSlotAllFire(t *testing.T) {
	w := NewWheel()
	a := &Entry{Deadline: 5}
	b := &Entry{Deadline: 5}
	w.Register(a)
	w.Register(b)

	for i := 0; i < 4; i++ {
		w.Turn()
	}
	fired := w.Turn()
	if len(fired) != 2 {
		t.Fatalf("len(fired) = %d, want 2", len(fired))
	}
}
