// Package frame implements the two-stage physical-frame allocator
// stack spec.md §4.C describes: a bootstrap bump allocator used before
// virtual memory is live, and a reference-counted frame pool used
// afterwards. Both are grounded on biscuit's src/mem/mem.go
// (Physmem_t/Physpg_t: an LIFO free list threaded through a flat array
// of per-frame metadata, atomic refcounting with "wut"/"no" style panics
// on invariant violations) generalized from biscuit's single hard-coded
// amd64 physical map to an explicit RAM arena so the allocator can run
// host-side without real hardware backing it.
package frame

import (
	"unsafe"

	"github.com/k23-systems/kcore/internal/addr"
	"github.com/k23-systems/kcore/internal/defs"
	"github.com/k23-systems/kcore/internal/ptable"
)

// RAM is a simulated physical address space: a single contiguous Go
// arena standing in for the machine's RAM, addressed by addr.Phys
// offsets from Base. Dmap-style access (biscuit's Physmem_t.Dmap) is
// just a slice into this arena, since there is no real MMU to bypass.
type RAM struct {
	Base  addr.Phys
	bytes []byte
}

// NewRAM allocates an arena of size bytes representing the physical
// range [base, base+size).
func NewRAM(base addr.Phys, size uintptr) *RAM {
	return &RAM{Base: base, bytes: make([]byte, size)}
}

// Size returns the arena's length in bytes.
func (r *RAM) Size() uintptr { return uintptr(len(r.bytes)) }

// End returns the address one past the last byte of the arena.
func (r *RAM) End() addr.Phys { return r.Base.Add(uintptr(len(r.bytes))) }

// Contains reports whether p falls within the arena.
func (r *RAM) Contains(p addr.Phys) bool {
	return p >= r.Base && uintptr(p-r.Base) < uintptr(len(r.bytes))
}

// Page returns the defs.PGSIZE-byte slice backing the page containing p,
// panicking if p is outside the arena or not page-aligned.
func (r *RAM) Page(p addr.Phys) []byte {
	if !r.Contains(p) {
		panic("frame: physical address outside RAM arena")
	}
	off := uintptr(p - r.Base)
	if off%defs.PGSIZE != 0 {
		panic("frame: unaligned page access")
	}
	return r.bytes[off : off+defs.PGSIZE]
}

// Table implements ptable.Memory: a direct-mapped reinterpretation of
// the page's bytes as 512 page-table entries, exactly what biscuit's
// pg2pmap does with an unsafe.Pointer cast over the direct map.
func (r *RAM) Table(p uintptr) *[512]ptable.PTE {
	buf := r.Page(addr.Phys(p))
	return (*[512]ptable.PTE)(unsafe.Pointer(&buf[0]))
}
