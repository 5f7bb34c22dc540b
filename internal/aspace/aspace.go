package aspace

import (
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/k23-systems/kcore/internal/addr"
	"github.com/k23-systems/kcore/internal/defs"
	"github.com/k23-systems/kcore/internal/frame"
	"github.com/k23-systems/kcore/internal/kmath"
	"github.com/k23-systems/kcore/internal/ptable"
	"github.com/k23-systems/kcore/internal/vmo"
)

var (
	// ErrNoSpace is returned by Map when no gap satisfies the requested
	// layout.
	ErrNoSpace = errors.New("aspace: no gap satisfies the requested layout")
	// ErrNoRegion is returned by HandleFault when the faulting address
	// falls outside every region: a fatal fault per spec.md §4.E.
	ErrNoRegion = errors.New("aspace: no region covers the faulting address")
	// ErrPermission is returned by HandleFault when the fault kind is not
	// permitted by the covering region's attributes: also fatal.
	ErrPermission = errors.New("aspace: fault kind not permitted by region attributes")
	// ErrReservation is returned by HandleFault when the covering region
	// is a reservation (no VMO): also fatal.
	ErrReservation = errors.New("aspace: fault in an unbacked reservation")
)

// FaultKind is the permission the faulting access required, translated
// from the trap dispatcher's LoadPageFault/StorePageFault/
// InstructionPageFault distinction (spec.md §4.E step 2).
type FaultKind int

const (
	FaultRead FaultKind = iota
	FaultWrite
	FaultExecute
)

// AddressSpace is one process's (or the kernel's) page table plus its
// region tree: the combination spec.md's §4.D/§4.E describe as working
// together, grounded on biscuit's Vm_t (src/vm/as.go) which likewise
// pairs a Pmap (page table) with a Vmregion (region list) behind one
// lock.
type AddressSpace struct {
	mu sync.Mutex

	table *ptable.Table
	mem   ptable.Memory
	pool  *frame.Pool

	root *Region

	// mappedRefs records, per page-aligned VA with a live leaf installed
	// by HandleFault or Populate, the frame.Ref that mapping owns. A
	// frame's refcount accounts for one reference per live PTE pointing
	// at it (this is what lets HandleFault's copy-on-write path detect
	// sharing via Refcount() > 1), so every install must retain exactly
	// one Ref here and every removal must drop exactly one.
	mappedRefs map[addr.Virt]*frame.Ref

	// lo/hi bound the gap search: the portion of the virtual address
	// space this AddressSpace is allowed to place new mappings in (e.g.
	// the user half of the address space, or a kernel sub-region).
	lo, hi       addr.Virt
	virtAddrBits uint
	rng          *rand.Rand // nil disables ASLR
}

// New creates an address space over the empty page table table, whose
// Map calls place regions in [lo, hi). A nil rng disables ASLR,
// giving lowest-address-first placement.
func New(table *ptable.Table, mem ptable.Memory, pool *frame.Pool, lo, hi addr.Virt, virtAddrBits uint, rng *rand.Rand) *AddressSpace {
	return &AddressSpace{
		table: table, mem: mem, pool: pool,
		mappedRefs: make(map[addr.Virt]*frame.Ref),
		lo:         lo, hi: hi, virtAddrBits: virtAddrBits, rng: rng,
	}
}

// Table returns the underlying page-table engine, for callers (e.g. the
// trap dispatcher) that need to install the root into hardware.
func (as *AddressSpace) Table() *ptable.Table { return as.table }

// gaps returns every free interval in [lo, hi) in ascending order, the
// input the ASLR gap search walks.
func (as *AddressSpace) gaps() []addr.Range {
	regions := inorder(as.root, nil)
	gaps := make([]addr.Range, 0, len(regions)+1)
	cur := as.lo
	for _, r := range regions {
		if r.Start > cur {
			gaps = append(gaps, addr.Range{Start: cur, End: r.Start})
		}
		if r.End > cur {
			cur = r.End
		}
	}
	if cur < as.hi {
		gaps = append(gaps, addr.Range{Start: cur, End: as.hi})
	}
	return gaps
}

// Map finds a free gap of the requested size/alignment (ASLR-aware if
// this AddressSpace was constructed with a non-nil rng) and inserts a
// new region backed by v at vmoOffset. No leaf mappings are installed
// yet: pages are populated lazily through HandleFault, or eagerly via
// Populate.
func (as *AddressSpace) Map(size, align uintptr, v vmo.VMO, vmoOffset uintptr, attrs ptable.MemoryAttributes, name string) (*Region, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	spot, ok := findSpotFor(size, align, as.gaps(), as.virtAddrBits, as.rng)
	if !ok {
		return nil, ErrNoSpace
	}
	r := &Region{Start: spot, End: spot.Add(kmath.Roundup(size, align)), Attrs: attrs, Name: name, VMO: v, VMOOffset: vmoOffset}
	root, err := insert(as.root, r)
	if err != nil {
		return nil, err
	}
	as.root = root
	return r, nil
}

// Reserve inserts a region with no backing VMO at an exact, caller-chosen
// range — used to pin bootloader-provided segments (spec.md §4.D) — and
// fails if it overlaps an existing region.
func (as *AddressSpace) Reserve(rng addr.Range, attrs ptable.MemoryAttributes, name string) (*Region, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	r := &Region{Start: rng.Start, End: rng.End, Attrs: attrs, Name: name}
	root, err := insert(as.root, r)
	if err != nil {
		return nil, err
	}
	as.root = root
	return r, nil
}

// Lookup returns the region covering virt, if any.
func (as *AddressSpace) Lookup(virt addr.Virt) (*Region, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	r := findOverlap(as.root, virt, virt.Add(1))
	return r, r != nil
}

// Unmap removes every region fully covered by rng and splits any region
// that only partially overlaps it, clearing the corresponding page-table
// leaves as it goes.
func (as *AddressSpace) Unmap(rng addr.Range, flush *ptable.Flush) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	for {
		hit := findOverlap(as.root, rng.Start, rng.End)
		if hit == nil {
			break
		}
		as.splitOut(hit, rng)
	}
	as.dropMappedRange(rng)
	return as.table.Unmap(as.mem, rng, flush)
}

// dropMappedRange releases the tracked per-mapping frame references for
// every page-aligned VA in rng, the counterpart to the retain that
// HandleFault/Populate perform on install.
func (as *AddressSpace) dropMappedRange(rng addr.Range) {
	start := rng.Start.AlignDown(addr.PageSize)
	for va := start; va < rng.End; va = va.Add(addr.PageSize) {
		if ref, ok := as.mappedRefs[va]; ok {
			ref.Drop()
			delete(as.mappedRefs, va)
		}
	}
}

// splitOut removes the portion of r that overlaps rng from the tree,
// re-inserting the surviving head and/or tail fragments (with the same
// attributes/backing, adjusted VMOOffset) as their own regions.
func (as *AddressSpace) splitOut(r *Region, rng addr.Range) {
	head, tail := (*Region)(nil), (*Region)(nil)
	if r.Start < rng.Start {
		head = &Region{Start: r.Start, End: rng.Start, Attrs: r.Attrs, Name: r.Name, VMO: r.VMO, VMOOffset: r.VMOOffset}
	}
	if r.End > rng.End {
		tail = &Region{
			Start: rng.End, End: r.End, Attrs: r.Attrs, Name: r.Name, VMO: r.VMO,
			VMOOffset: r.VMOOffset + uintptr(rng.End-r.Start),
		}
	}
	as.root = remove(as.root, r.Start)
	if head != nil {
		as.root, _ = insert(as.root, head)
	}
	if tail != nil {
		as.root, _ = insert(as.root, tail)
	}
}

// Protect rewrites the permissions of every region overlapping rng,
// splitting at rng's boundaries the same way Unmap does, then updates
// the page table to match.
func (as *AddressSpace) Protect(rng addr.Range, attrs ptable.MemoryAttributes, flush *ptable.Flush) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	for cur := rng.Start; cur < rng.End; {
		hit := findOverlap(as.root, cur, rng.End)
		if hit == nil {
			break
		}
		cur = hit.End
		if hit.Start >= rng.Start && hit.End <= rng.End {
			hit.Attrs = attrs
			continue
		}
		as.splitOutProtected(hit, rng, attrs)
	}
	return as.table.Protect(as.mem, rng, attrs, flush)
}

func (as *AddressSpace) splitOutProtected(r *Region, rng addr.Range, attrs ptable.MemoryAttributes) {
	start := r.Start
	if rng.Start > start {
		start = rng.Start
	}
	end := r.End
	if rng.End < end {
		end = rng.End
	}
	var head, mid, tail *Region
	if r.Start < start {
		head = &Region{Start: r.Start, End: start, Attrs: r.Attrs, Name: r.Name, VMO: r.VMO, VMOOffset: r.VMOOffset}
	}
	mid = &Region{Start: start, End: end, Attrs: attrs, Name: r.Name, VMO: r.VMO, VMOOffset: r.VMOOffset + uintptr(start-r.Start)}
	if r.End > end {
		tail = &Region{Start: end, End: r.End, Attrs: r.Attrs, Name: r.Name, VMO: r.VMO, VMOOffset: r.VMOOffset + uintptr(end-r.Start)}
	}
	as.root = remove(as.root, r.Start)
	for _, n := range []*Region{head, mid, tail} {
		if n != nil {
			as.root, _ = insert(as.root, n)
		}
	}
}

// Populate eagerly resolves and maps every page of r, rather than
// leaving them to be demand-paged through HandleFault. This is the path
// Wired and Physical regions typically want: memory that must not incur
// a page fault after being mapped.
func (as *AddressSpace) Populate(r *Region, flush *ptable.Flush) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	if r.VMO == nil {
		return ErrReservation
	}
	for off := uintptr(0); off < r.Len(); off += defs.PGSIZE {
		f, err := r.VMO.GetFrame(r.VMOOffset + off)
		if err != nil {
			return err
		}
		va := r.Start.Add(off)
		rng := addr.Range{Start: va, End: va.Add(defs.PGSIZE)}
		if err := as.table.Map(as.mem, rng, f.Phys, r.Attrs, flush); err != nil {
			return err
		}
		as.retain(va, f.Ref)
	}
	return nil
}

// retain records ref as the owner of the mapping at pageVA, dropping
// whatever reference previously owned that slot.
func (as *AddressSpace) retain(pageVA addr.Virt, ref *frame.Ref) {
	if old, ok := as.mappedRefs[pageVA]; ok {
		old.Drop()
	}
	if ref != nil {
		as.mappedRefs[pageVA] = ref
	} else {
		delete(as.mappedRefs, pageVA)
	}
}

// HandleFault implements the page-fault algorithm of spec.md §4.E:
// look up the covering region, check the fault kind against its
// permissions, resolve the backing frame from its VMO (materializing a
// private copy on a copy-on-write store fault), install the leaf, and
// leave the flush batch for the caller to drain.
func (as *AddressSpace) HandleFault(va addr.Virt, kind FaultKind, flush *ptable.Flush) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	r := findOverlap(as.root, va, va.Add(1))
	if r == nil {
		return ErrNoRegion
	}
	switch kind {
	case FaultWrite:
		if r.Attrs.WriteOrExecute != ptable.WXWrite {
			return ErrPermission
		}
	case FaultExecute:
		if r.Attrs.WriteOrExecute != ptable.WXExecute {
			return ErrPermission
		}
	case FaultRead:
		if !r.Attrs.Read {
			return ErrPermission
		}
	}
	if r.VMO == nil {
		return ErrReservation
	}

	pageVA := va.AlignDown(addr.PageSize)
	offset := r.VMOOffset + uintptr(pageVA-r.Start)
	f, err := r.VMO.GetFrame(offset)
	if err != nil {
		return err
	}

	leafAttrs := r.Attrs
	paged, isPaged := r.VMO.(*vmo.Paged)
	shared := isPaged && f.Ref != nil && (as.pool.IsZeroFrame(f.Ref) || f.Ref.Refcount() > 1)

	switch {
	case kind == FaultWrite && shared:
		fresh, ok := as.pool.AllocZeroed()
		if !ok {
			f.Ref.Drop()
			return defs.ENOMEM
		}
		copy(fresh.Page(), f.Ref.Page())
		f.Ref.Drop()
		if err := paged.CommitFault(offset, fresh); err != nil {
			return err
		}
		f = vmo.Frame{Phys: fresh.Addr(), Ref: fresh}
	case shared:
		// a read fault (or a non-CoW-eligible access) on a shared frame
		// must not install a writable leaf, or a later write would
		// silently corrupt every other sharer instead of faulting.
		leafAttrs.WriteOrExecute = ptable.WXNone
	}

	// Unmap any stale leaf before installing the resolved frame: Protect
	// only ever rewrites permission bits on whatever physical address is
	// already there, which would silently keep a copy-on-write fault
	// pointing at the old shared frame instead of the freshly-copied
	// private one. Re-unmapping an address that turns out to carry the
	// correct mapping already is harmless, just redundant.
	rng := addr.Range{Start: pageVA, End: pageVA.Add(addr.PageSize)}
	if _, mapped := as.table.Translate(as.mem, pageVA); mapped {
		if err = as.table.Unmap(as.mem, rng, flush); err != nil {
			if f.Ref != nil {
				f.Ref.Drop()
			}
			return err
		}
	}
	err = as.table.Map(as.mem, rng, f.Phys, leafAttrs, flush)
	if err != nil {
		if f.Ref != nil {
			f.Ref.Drop()
		}
		return err
	}
	as.retain(pageVA, f.Ref)
	return nil
}
