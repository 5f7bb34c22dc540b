package frame_test

import (
	"testing"

	"github.com/k23-systems/kcore/internal/addr"
	"github.com/k23-systems/kcore/internal/defs"
	"github.com/k23-systems/kcore/internal/frame"
)

func TestBootstrapAllocatesTopDown(t *testing.T) {
	ranges := []addr.PhysRange{
		{Start: 0x80000000, End: 0x80000000 + 4*defs.PGSIZE},
	}
	b := frame.NewBootstrap(ranges)

	p1, ok := b.Allocate(1)
	if !ok {
		t.Fatal("allocate 1")
	}
	want := addr.Phys(0x80000000 + 3*defs.PGSIZE)
	if p1 != want {
		t.Fatalf("first allocation = %v, want %v (top of range)", p1, want)
	}

	p2, ok := b.Allocate(1)
	if !ok {
		t.Fatal("allocate 2")
	}
	if p2 != p1.Sub(defs.PGSIZE) {
		t.Fatalf("second allocation = %v, want just below the first", p2)
	}
}

func TestBootstrapWastesTailAndMovesOn(t *testing.T) {
	// a 1.5-page region followed by a 1-page region; requesting a full
	// page should waste the half-page tail of the top region rather than
	// straddle the gap.
	ranges := []addr.PhysRange{
		{Start: 0x1000, End: 0x1000 + defs.PGSIZE},               // low region, 1 page
		{Start: 0x10000, End: 0x10000 + defs.PGSIZE + 0x800}, // high region, 1.5 pages
	}
	b := frame.NewBootstrap(ranges)

	p, ok := b.Allocate(1)
	if !ok {
		t.Fatal("allocate")
	}
	if p != 0x10000 {
		t.Fatalf("allocation = %v, want top-region base 0x10000 after wasting the half-page tail", p)
	}
	if b.Wasted() != 0x800 {
		t.Fatalf("wasted = %#x, want 0x800", b.Wasted())
	}

	p2, ok := b.Allocate(1)
	if !ok {
		t.Fatal("allocate from low region")
	}
	if p2 != 0x1000 {
		t.Fatalf("second allocation = %v, want the low region", p2)
	}

	if _, ok := b.Allocate(1); ok {
		t.Fatal("expected exhaustion")
	}

	used := b.Finish()
	total := uintptr(0)
	for _, r := range used {
		total += r.Len()
	}
	if total != defs.PGSIZE*2+0x800 {
		t.Fatalf("Finish reported %#x consumed bytes, want %#x", total, defs.PGSIZE*2+0x800)
	}
}

func TestBootstrapFinishTwicePanics(t *testing.T) {
	b := frame.NewBootstrap([]addr.PhysRange{{Start: 0x1000, End: 0x2000}})
	b.Finish()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on second Finish")
		}
	}()
	b.Finish()
}

func newTestPool(t *testing.T, pages int) *frame.Pool {
	t.Helper()
	ram := frame.NewRAM(0x80000000, uintptr(pages)*defs.PGSIZE)
	pool := frame.NewPool(ram)
	pool.MarkFree(addr.PhysRange{Start: ram.Base, End: ram.End()})
	return pool
}

func TestRefcountLifecycle(t *testing.T) {
	pool := newTestPool(t, 4)
	f, ok := pool.Alloc()
	if !ok {
		t.Fatal("alloc")
	}
	if f.Refcount() != 1 {
		t.Fatalf("refcount = %d, want 1", f.Refcount())
	}

	h2 := f.Clone()
	h3 := f.Clone()
	if f.Refcount() != 3 {
		t.Fatalf("refcount = %d, want 3", f.Refcount())
	}

	h2.Drop()
	if f.Refcount() != 2 {
		t.Fatalf("refcount = %d, want 2", f.Refcount())
	}
	before := pool.FreeCount()

	h3.Drop()
	if f.Refcount() != 1 {
		t.Fatalf("refcount = %d, want 1", f.Refcount())
	}
	if pool.FreeCount() != before {
		t.Fatalf("pool free count changed before last drop")
	}

	f.Drop()
	if pool.FreeCount() != before+1 {
		t.Fatalf("frame did not return to the free list after last drop")
	}

	// LIFO: the page we just freed must be the next one handed out.
	again, ok := pool.Alloc()
	if !ok {
		t.Fatal("realloc")
	}
	if again.Addr() != f.Addr() {
		t.Fatalf("pool is not LIFO: got %v, want %v", again.Addr(), f.Addr())
	}
}

func TestDropUnderflowPanics(t *testing.T) {
	pool := newTestPool(t, 1)
	f, _ := pool.Alloc()
	f.Drop()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double drop")
		}
	}()
	f.Drop()
}

func TestZeroFramePermanentRef(t *testing.T) {
	pool := newTestPool(t, 4)
	z := pool.InitZeroFrame()
	if z.Refcount() != 2 {
		t.Fatalf("zero frame refcount = %d, want 2 (alloc + permanent)", z.Refcount())
	}
	for _, b := range z.Page() {
		if b != 0 {
			t.Fatal("zero frame is not zeroed")
		}
	}
}

func TestPageTableMemoryRoundTrip(t *testing.T) {
	pool := newTestPool(t, 4)
	mem := pool.AsPageTableMemory()
	p, ok := mem.Alloc()
	if !ok {
		t.Fatal("alloc table page")
	}
	table := mem.Table(p)
	if table[0] != 0 {
		t.Fatal("freshly allocated table page should be zeroed")
	}
	mem.Free(p)
}
