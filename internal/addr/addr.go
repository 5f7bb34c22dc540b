// Package addr provides the typed physical and virtual address wrappers
// the rest of the core builds on. Neither type is ever dereferenced
// directly; both forbid silent wraparound the way biscuit's Pa_t arithmetic
// helpers (src/mem/mem.go) do by panicking on overflow instead of wrapping.
package addr

import "fmt"

// PageSize is the base page granule for every architecture this module
// targets. Larger leaf sizes are expressed as multiples of PageSize by
// the arch package, not by a different unit here.
const PageSize = 1 << 12

// Phys is an opaque physical address.
type Phys uintptr

// Virt is an opaque virtual address, canonical-sign-extension rules are
// the caller's (arch package's) responsibility; this type only carries
// the bits.
type Virt uintptr

// Add returns p+n, panicking on overflow.
func (p Phys) Add(n uintptr) Phys {
	r := p + Phys(n)
	if r < p {
		panic(fmt.Sprintf("addr: physical address overflow: %#x + %#x", uintptr(p), n))
	}
	return r
}

// Sub returns p-n, panicking on underflow.
func (p Phys) Sub(n uintptr) Phys {
	if uintptr(p) < n {
		panic(fmt.Sprintf("addr: physical address underflow: %#x - %#x", uintptr(p), n))
	}
	return p - Phys(n)
}

// IsAligned reports whether p is aligned to a 2^p2 boundary.
func (p Phys) IsAligned(p2 uint) bool {
	mask := Phys(1)<<p2 - 1
	return p&mask == 0
}

// AlignDown rounds p down to the nearest multiple of align (which must be
// a power of two).
func (p Phys) AlignDown(align uintptr) Phys {
	return p &^ Phys(align-1)
}

// AlignUp rounds p up to the nearest multiple of align (which must be a
// power of two).
func (p Phys) AlignUp(align uintptr) Phys {
	return (p + Phys(align) - 1).AlignDown(align)
}

// ToVirt converts a physical address to its direct-mapped virtual address
// using base as the physmap base, valid only when p is mapped into that
// physmap region. This mirrors biscuit's Physmem_t.Dmap.
func (p Phys) ToVirt(base Virt) Virt {
	return base + Virt(p)
}

func (p Phys) String() string { return fmt.Sprintf("phys:%#016x", uintptr(p)) }

// Add returns v+n, panicking on overflow.
func (v Virt) Add(n uintptr) Virt {
	r := v + Virt(n)
	if r < v {
		panic(fmt.Sprintf("addr: virtual address overflow: %#x + %#x", uintptr(v), n))
	}
	return r
}

// Sub returns v-n, panicking on underflow.
func (v Virt) Sub(n uintptr) Virt {
	if uintptr(v) < n {
		panic(fmt.Sprintf("addr: virtual address underflow: %#x - %#x", uintptr(v), n))
	}
	return v - Virt(n)
}

// IsAligned reports whether v is aligned to a 2^p2 boundary.
func (v Virt) IsAligned(p2 uint) bool {
	mask := Virt(1)<<p2 - 1
	return v&mask == 0
}

// AlignDown rounds v down to the nearest multiple of align.
func (v Virt) AlignDown(align uintptr) Virt {
	return v &^ Virt(align-1)
}

// AlignUp rounds v up to the nearest multiple of align.
func (v Virt) AlignUp(align uintptr) Virt {
	return (v + Virt(align) - 1).AlignDown(align)
}

// ToPhys converts a direct-mapped virtual address back to its physical
// address using base as the physmap base.
func (v Virt) ToPhys(base Virt) Phys {
	if v < base {
		panic("addr: virtual address below physmap base")
	}
	return Phys(v - base)
}

func (v Virt) String() string { return fmt.Sprintf("virt:%#016x", uintptr(v)) }

// Range is a half-open [Start, End) address range. PageIter walks it in
// PageSize steps.
type Range struct {
	Start Virt
	End   Virt
}

// Len returns End-Start.
func (r Range) Len() uintptr { return uintptr(r.End - r.Start) }

// Empty reports whether the range contains no addresses.
func (r Range) Empty() bool { return r.End <= r.Start }

// Overlaps reports whether r and o share any address.
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// Contains reports whether v lies in [Start, End).
func (r Range) Contains(v Virt) bool {
	return v >= r.Start && v < r.End
}

// PageIter calls f with the start of each PageSize-aligned page in r, in
// ascending order, stopping early if f returns false.
func (r Range) PageIter(f func(Virt) bool) {
	for v := r.Start; v < r.End; v += PageSize {
		if !f(v) {
			return
		}
	}
}

// PhysRange is a half-open [Start, End) physical address range.
type PhysRange struct {
	Start Phys
	End   Phys
}

// Len returns End-Start.
func (r PhysRange) Len() uintptr { return uintptr(r.End - r.Start) }
