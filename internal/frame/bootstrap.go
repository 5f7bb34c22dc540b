package frame

import (
	"sort"

	"github.com/k23-systems/kcore/internal/addr"
	"github.com/k23-systems/kcore/internal/defs"
	"github.com/k23-systems/kcore/internal/kmath"
)

// Bootstrap is the bump allocator used before the reference-counted pool
// (and therefore virtual memory) exists. It is handed the free physical
// ranges the loader discovered and allocates from the top of the
// highest range downward, matching spec.md §4.C. It never frees;
// Finish drains it exactly once and reports every byte it consumed
// (including wasted tails) so the post-boot Pool can skip those pages.
type Bootstrap struct {
	ranges  []addr.PhysRange // ascending by Start
	idx     int              // index of the range currently being consumed
	cur     addr.Phys        // next allocation ceiling within ranges[idx]
	used    []addr.PhysRange
	wasted  uintptr
	drained bool
	// Log receives one line per wasted tail, mirroring biscuit's
	// fmt.Printf diagnostics in Phys_init. Nil disables logging.
	Log func(format string, args ...any)
}

// NewBootstrap builds a Bootstrap over the given free ranges. Ranges
// need not be sorted; they are copied and sorted ascending internally.
func NewBootstrap(free []addr.PhysRange) *Bootstrap {
	ranges := make([]addr.PhysRange, len(free))
	copy(ranges, free)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

	b := &Bootstrap{ranges: ranges, idx: len(ranges) - 1}
	if b.idx >= 0 {
		b.cur = ranges[b.idx].End
	}
	return b
}

// Allocate reserves n page-sized frames and returns the start of the
// contiguous block.
func (b *Bootstrap) Allocate(n int) (addr.Phys, bool) {
	return b.AllocateContiguous(uintptr(n)*defs.PGSIZE, defs.PGSIZE)
}

// AllocateContiguous reserves size bytes aligned to align, which must
// equal defs.PGSIZE. If the remaining tail of the current region is too
// small to satisfy the request, that tail is wasted (and logged) and the
// next-highest region is tried.
func (b *Bootstrap) AllocateContiguous(size, align uintptr) (addr.Phys, bool) {
	if align != defs.PGSIZE {
		panic("frame: bootstrap alignment must equal PGSIZE")
	}
	size = kmath.Roundup(size, defs.PGSIZE)
	if b.drained {
		panic("frame: bootstrap allocator used after Finish")
	}

	for b.idx >= 0 {
		regionStart := b.ranges[b.idx].Start
		top := b.cur.AlignDown(align)
		if top < regionStart || uintptr(top-regionStart) < size {
			b.wasteCurrent()
			continue
		}
		b.wasted += uintptr(b.cur - top)
		alloc := top.Sub(size)
		b.cur = alloc
		return alloc, true
	}
	return 0, false
}

// wasteCurrent records the unusable tail of the current region as
// wasted, records the whole region (allocations plus tail) as used, then
// advances to the next-highest region.
func (b *Bootstrap) wasteCurrent() {
	r := b.ranges[b.idx]
	tail := uintptr(b.cur - r.Start)
	b.wasted += tail
	if r.End > r.Start {
		b.used = append(b.used, r)
	}
	if tail > 0 {
		if b.Log != nil {
			b.Log("frame: wasted %d bytes at the tail of region [%v,%v)", tail, r.Start, r.End)
		}
	}
	b.idx--
	if b.idx >= 0 {
		b.cur = b.ranges[b.idx].End
	}
}

// Wasted returns the total number of bytes lost to tail fragmentation
// so far.
func (b *Bootstrap) Wasted() uintptr { return b.wasted }

// Finish drains the allocator, returning every physical range it
// consumed (including wasted tails) so the caller can mark those pages
// as already in use when building the post-boot Pool. It may only be
// called once.
func (b *Bootstrap) Finish() []addr.PhysRange {
	if b.drained {
		panic("frame: bootstrap allocator Finish called twice")
	}
	b.drained = true
	if b.idx >= 0 && b.cur < b.ranges[b.idx].End {
		b.used = append(b.used, addr.PhysRange{Start: b.cur, End: b.ranges[b.idx].End})
	}
	return b.used
}
