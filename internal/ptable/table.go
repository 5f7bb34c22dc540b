package ptable

import (
	"errors"

	"github.com/k23-systems/kcore/internal/addr"
	"github.com/k23-systems/kcore/internal/arch"
)

var (
	// ErrAlreadyMapped is returned by Map when the target range overlaps
	// an existing mapping.
	ErrAlreadyMapped = errors.New("ptable: already mapped")
	// ErrAlloc is returned when the supplied Memory cannot produce a new
	// table page.
	ErrAlloc = errors.New("ptable: allocation failed")
	// ErrNotMapped is returned by Protect when the target range is not
	// fully mapped.
	ErrNotMapped = errors.New("ptable: not mapped")
	// ErrMisaligned is returned when a range or address violates the
	// page-size alignment invariant.
	ErrMisaligned = errors.New("ptable: misaligned range")
)

// Memory is the allocator/addressing seam the table engine walks
// through. It mirrors biscuit's Page_i interface (src/mem/mem.go):
// Table is the direct-map accessor (Dmap), Alloc/Free hand out and
// reclaim table pages.
type Memory interface {
	// Table returns the 512-entry PTE array backing the table page at p.
	Table(p uintptr) *[512]PTE
	// Alloc returns a freshly zeroed table page, or ok=false if the
	// allocator is exhausted.
	Alloc() (p uintptr, ok bool)
	// Free returns a table page obtained from Alloc.
	Free(p uintptr)
}

// Table is an owned page-table root for one architecture.
type Table struct {
	desc arch.Descriptor
	root uintptr
}

// New wraps an existing, zeroed root table page.
func New(desc arch.Descriptor, root uintptr) *Table {
	return &Table{desc: desc, root: root}
}

// Root returns the physical address of the root table page.
func (t *Table) Root() uintptr { return t.root }

// undoStep is a single reversible mutation recorded while walking, so a
// failed operation can restore the table to its pre-call state exactly
// as spec.md §7 mandates ("a failed map_contiguous leaves the address
// space unchanged").
type undoStep func()

// Map installs leaf mappings for [virt.Start,virt.End) to the
// corresponding range starting at phys, using the largest leaf size that
// divides both addresses and fits the remaining span at every step.
func (t *Table) Map(mem Memory, virt addr.Range, phys addr.Phys, attrs MemoryAttributes, flush *Flush) error {
	if err := checkAligned(virt, uintptr(phys)); err != nil {
		return err
	}
	var undo []undoStep
	err := t.mapAt(mem, 0, t.root, uintptr(virt.Start), virt.Len(), uintptr(phys), attrs, flush, &undo)
	if err != nil {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return err
	}
	return nil
}

func (t *Table) mapAt(mem Memory, lvlIdx int, tablePhys uintptr, va, remaining, phys uintptr, attrs MemoryAttributes, flush *Flush, undo *[]undoStep) error {
	lvl := t.desc.Levels[lvlIdx]
	table := mem.Table(tablePhys)
	for remaining > 0 {
		idx := lvl.Index(va)
		spanStart := va &^ (lvl.BlockSize - 1)
		spanEnd := spanStart + lvl.BlockSize
		chunk := spanEnd - va
		if chunk > remaining {
			chunk = remaining
		}

		useLeaf := lvl.AllowsLeaf && va == spanStart && chunk == lvl.BlockSize && phys%lvl.BlockSize == 0
		if useLeaf {
			if table[idx].IsValid() {
				return ErrAlreadyMapped
			}
			idxCopy := idx
			tableCopy := table
			pte := NewLeaf(phys, attrs, t.desc.PTEAddrShift)
			tableCopy[idxCopy] = pte
			*undo = append(*undo, func() { tableCopy[idxCopy] = Vacant })
			flush.Add(addr.Virt(va))
		} else {
			if lvlIdx == len(t.desc.Levels)-1 {
				return ErrMisaligned
			}
			var childPhys uintptr
			allocatedHere := false
			if table[idx].IsValid() {
				if !table[idx].IsTable() {
					return ErrAlreadyMapped
				}
				childPhys = table[idx].Addr(t.desc.PTEAddrShift)
			} else {
				p, ok := mem.Alloc()
				if !ok {
					return ErrAlloc
				}
				childPhys = p
				allocatedHere = true
				idxCopy := idx
				tableCopy := table
				tableCopy[idxCopy] = NewTable(childPhys, t.desc.PTEAddrShift)
				*undo = append(*undo, func() {
					tableCopy[idxCopy] = Vacant
					mem.Free(childPhys)
				})
			}
			if err := t.mapAt(mem, lvlIdx+1, childPhys, va, chunk, phys, attrs, flush, undo); err != nil {
				return err
			}
			_ = allocatedHere
		}
		va += chunk
		phys += chunk
		remaining -= chunk
	}
	return nil
}

// Unmap clears every leaf entry covering virt, splitting any large leaf
// that only partially overlaps the range, and frees sub-tables that
// become entirely empty. Unmapping an already-unmapped range is a no-op,
// satisfying the idempotence property in spec.md §8.
func (t *Table) Unmap(mem Memory, virt addr.Range, flush *Flush) error {
	if err := checkAligned(virt, 0); err != nil {
		return err
	}
	_, err := t.unmapAt(mem, 0, t.root, uintptr(virt.Start), virt.Len(), flush)
	return err
}

// unmapAt returns whether the table at tablePhys is now completely
// empty, so the caller can free it.
func (t *Table) unmapAt(mem Memory, lvlIdx int, tablePhys uintptr, va, remaining uintptr, flush *Flush) (bool, error) {
	lvl := t.desc.Levels[lvlIdx]
	table := mem.Table(tablePhys)
	for remaining > 0 {
		idx := lvl.Index(va)
		spanStart := va &^ (lvl.BlockSize - 1)
		spanEnd := spanStart + lvl.BlockSize
		chunk := spanEnd - va
		if chunk > remaining {
			chunk = remaining
		}

		pte := table[idx]
		switch {
		case !pte.IsValid():
			// already unmapped; nothing to do.
		case pte.IsLeaf():
			if va == spanStart && chunk == lvl.BlockSize {
				table[idx] = Vacant
				flush.Add(addr.Virt(va))
			} else {
				if lvlIdx == len(t.desc.Levels)-1 {
					return false, ErrMisaligned
				}
				if err := t.splitLeaf(mem, lvlIdx, table, idx, spanStart, pte); err != nil {
					return false, err
				}
				child := table[idx].Addr(t.desc.PTEAddrShift)
				empty, err := t.unmapAt(mem, lvlIdx+1, child, va, chunk, flush)
				if err != nil {
					return false, err
				}
				if empty {
					table[idx] = Vacant
					mem.Free(child)
				}
			}
		case pte.IsTable():
			child := pte.Addr(t.desc.PTEAddrShift)
			empty, err := t.unmapAt(mem, lvlIdx+1, child, va, chunk, flush)
			if err != nil {
				return false, err
			}
			if empty {
				table[idx] = Vacant
				mem.Free(child)
			}
		}
		va += chunk
		remaining -= chunk
	}
	return tableEmpty(table), nil
}

// splitLeaf replaces a large leaf at table[idx] with a freshly allocated
// sub-table populated with same-attribute leaves of the next level's
// block size, per spec.md §4.B's splitting rule.
func (t *Table) splitLeaf(mem Memory, lvlIdx int, table *[512]PTE, idx int, spanStart uintptr, old PTE) error {
	child, ok := mem.Alloc()
	if !ok {
		return ErrAlloc
	}
	childLvl := t.desc.Levels[lvlIdx+1]
	childTable := mem.Table(child)
	physBase := old.Addr(t.desc.PTEAddrShift)
	attrs := old.Attrs()
	for i := 0; i < childLvl.EntriesPerTable; i++ {
		p := physBase + uintptr(i)*childLvl.BlockSize
		if childLvl.AllowsLeaf {
			childTable[i] = NewLeaf(p, attrs, t.desc.PTEAddrShift)
		}
	}
	table[idx] = NewTable(child, t.desc.PTEAddrShift)
	return nil
}

func tableEmpty(table *[512]PTE) bool {
	for _, e := range table {
		if e.IsValid() {
			return false
		}
	}
	return true
}

// Protect rewrites the attribute bits of every leaf covering virt,
// splitting large leaves as needed. It fails with ErrNotMapped if any
// part of the range has no mapping. Applying Protect twice with the same
// attrs is idempotent (spec.md §8).
func (t *Table) Protect(mem Memory, virt addr.Range, attrs MemoryAttributes, flush *Flush) error {
	if err := checkAligned(virt, 0); err != nil {
		return err
	}
	return t.protectAt(mem, 0, t.root, uintptr(virt.Start), virt.Len(), attrs, flush)
}

func (t *Table) protectAt(mem Memory, lvlIdx int, tablePhys uintptr, va, remaining uintptr, attrs MemoryAttributes, flush *Flush) error {
	lvl := t.desc.Levels[lvlIdx]
	table := mem.Table(tablePhys)
	for remaining > 0 {
		idx := lvl.Index(va)
		spanStart := va &^ (lvl.BlockSize - 1)
		spanEnd := spanStart + lvl.BlockSize
		chunk := spanEnd - va
		if chunk > remaining {
			chunk = remaining
		}

		pte := table[idx]
		switch {
		case !pte.IsValid():
			return ErrNotMapped
		case pte.IsLeaf():
			if va == spanStart && chunk == lvl.BlockSize {
				phys := pte.Addr(t.desc.PTEAddrShift)
				table[idx] = NewLeaf(phys, attrs, t.desc.PTEAddrShift)
				flush.Add(addr.Virt(va))
			} else {
				if lvlIdx == len(t.desc.Levels)-1 {
					return ErrMisaligned
				}
				if err := t.splitLeaf(mem, lvlIdx, table, idx, spanStart, pte); err != nil {
					return err
				}
				child := table[idx].Addr(t.desc.PTEAddrShift)
				if err := t.protectAt(mem, lvlIdx+1, child, va, chunk, attrs, flush); err != nil {
					return err
				}
			}
		case pte.IsTable():
			child := pte.Addr(t.desc.PTEAddrShift)
			if err := t.protectAt(mem, lvlIdx+1, child, va, chunk, attrs, flush); err != nil {
				return err
			}
		}
		va += chunk
		remaining -= chunk
	}
	return nil
}

// Translate walks the table for virt and returns the mapped physical
// address, or ok=false if no leaf covers it.
func (t *Table) Translate(mem Memory, virt addr.Virt) (addr.Phys, bool) {
	va := uintptr(virt)
	tablePhys := t.root
	for lvlIdx, lvl := range t.desc.Levels {
		table := mem.Table(tablePhys)
		idx := lvl.Index(va)
		pte := table[idx]
		if !pte.IsValid() {
			return 0, false
		}
		if pte.IsLeaf() {
			base := pte.Addr(t.desc.PTEAddrShift)
			spanStart := va &^ (lvl.BlockSize - 1)
			off := va - spanStart
			return addr.Phys(base + off), true
		}
		tablePhys = pte.Addr(t.desc.PTEAddrShift)
		_ = lvlIdx
	}
	return 0, false
}

func checkAligned(virt addr.Range, phys uintptr) error {
	const pg = addr.PageSize
	if uintptr(virt.Start)%pg != 0 || uintptr(virt.End)%pg != 0 {
		return ErrMisaligned
	}
	if virt.Len()%pg != 0 {
		return ErrMisaligned
	}
	if phys%pg != 0 {
		return ErrMisaligned
	}
	return nil
}
