// Package arch describes the per-architecture page-table shape: the
// ordered list of translation levels, block sizes and the bit positions
// a PTE packs its fields into. biscuit only ever targeted amd64
// (src/mem/mem.go's PTE_* constants); this package generalizes that
// single layout into the three RISC-V modes plus amd64 the spec
// requires, each exposed as a Descriptor value rather than a compiled-in
// constant set, so ptable.Table holds one at construction and walks it
// at runtime instead of special-casing each architecture in code.
package arch

// Level describes one level of a multi-level radix page table, root
// first.
type Level struct {
	// Name is used only for diagnostics ("Sv39 level 0 (1GiB)").
	Name string
	// BlockSize is the size in bytes of a leaf mapping at this level.
	BlockSize uintptr
	// EntriesPerTable is the number of PTE slots in a table at this level.
	EntriesPerTable int
	// AllowsLeaf reports whether a leaf PTE may terminate at this level.
	// The deepest level always allows leaves; RISC-V superpage levels do
	// too, amd64's PML4 does not.
	AllowsLeaf bool
	// Shift is the bit position of the first VA bit this level indexes.
	Shift uint
	// IndexBits is the number of VA bits this level consumes.
	IndexBits uint
}

// Index returns the table-entry index for virtual address va at this
// level.
func (l Level) Index(va uintptr) int {
	mask := uintptr(1)<<l.IndexBits - 1
	return int((va >> l.Shift) & mask)
}

// Descriptor is the full shape of one architecture's page tables.
type Descriptor struct {
	Name string
	// Levels is root-first: Levels[0] is the top of the table, indexed
	// by the highest VA bits.
	Levels []Level
	// VirtAddrBits is the number of usable virtual address bits, used by
	// aspace's ASLR gap search.
	VirtAddrBits uint
	// PTEAddrShift right-shifts a physical address before it is packed
	// into a table-descriptor PTE (RISC-V packs PPN>>2; amd64 does not
	// shift at all).
	PTEAddrShift uint
	// CanonicalHole reports whether bit patterns between the low and
	// high canonical halves (amd64-style sign extension, absent on
	// RISC-V Sv-modes which are unsigned) must be rejected.
	CanonicalHole bool
}

// LeafLevelFor returns the index into Levels of the leaf-capable level
// whose BlockSize fits in remaining and divides both phys and virt,
// preferring the largest (shallowest) such level. It returns -1 if
// no level satisfies the page-aligned minimum.
func (d Descriptor) LeafLevelFor(virt uintptr, phys uintptr, remaining uintptr) int {
	best := -1
	for i, lvl := range d.Levels {
		if !lvl.AllowsLeaf {
			continue
		}
		if remaining < lvl.BlockSize {
			continue
		}
		if virt%lvl.BlockSize != 0 || phys%lvl.BlockSize != 0 {
			continue
		}
		// Levels are root (largest) first; the first match found walking
		// root-to-leaf order is the greediest (largest) choice.
		if best == -1 {
			best = i
		}
	}
	if best == -1 {
		// fall back to the smallest page-capable level (always the last).
		last := d.Levels[len(d.Levels)-1]
		if remaining >= last.BlockSize && virt%last.BlockSize == 0 && phys%last.BlockSize == 0 {
			return len(d.Levels) - 1
		}
		return -1
	}
	return best
}

func mk(name string, virtBits uint, levels []Level) Descriptor {
	return Descriptor{Name: name, Levels: levels, VirtAddrBits: virtBits, PTEAddrShift: 2}
}

// Sv39 is the RISC-V 3-level, 39-bit virtual address translation mode:
// 1GiB, 2MiB and 4KiB leaves.
var Sv39 = mk("sv39", 39, []Level{
	{Name: "sv39-l2 (1GiB)", BlockSize: 1 << 30, EntriesPerTable: 512, AllowsLeaf: true, Shift: 30, IndexBits: 9},
	{Name: "sv39-l1 (2MiB)", BlockSize: 1 << 21, EntriesPerTable: 512, AllowsLeaf: true, Shift: 21, IndexBits: 9},
	{Name: "sv39-l0 (4KiB)", BlockSize: 1 << 12, EntriesPerTable: 512, AllowsLeaf: true, Shift: 12, IndexBits: 9},
})

// Sv48 adds one more level above Sv39: a 512GiB leaf-capable level.
var Sv48 = mk("sv48", 48, []Level{
	{Name: "sv48-l3 (512GiB)", BlockSize: 1 << 39, EntriesPerTable: 512, AllowsLeaf: true, Shift: 39, IndexBits: 9},
	{Name: "sv48-l2 (1GiB)", BlockSize: 1 << 30, EntriesPerTable: 512, AllowsLeaf: true, Shift: 30, IndexBits: 9},
	{Name: "sv48-l1 (2MiB)", BlockSize: 1 << 21, EntriesPerTable: 512, AllowsLeaf: true, Shift: 21, IndexBits: 9},
	{Name: "sv48-l0 (4KiB)", BlockSize: 1 << 12, EntriesPerTable: 512, AllowsLeaf: true, Shift: 12, IndexBits: 9},
})

// Sv57 adds one more level above Sv48: a 256TiB leaf-capable level.
var Sv57 = mk("sv57", 57, []Level{
	{Name: "sv57-l4 (256TiB)", BlockSize: 1 << 48, EntriesPerTable: 512, AllowsLeaf: true, Shift: 48, IndexBits: 9},
	{Name: "sv57-l3 (512GiB)", BlockSize: 1 << 39, EntriesPerTable: 512, AllowsLeaf: true, Shift: 39, IndexBits: 9},
	{Name: "sv57-l2 (1GiB)", BlockSize: 1 << 30, EntriesPerTable: 512, AllowsLeaf: true, Shift: 30, IndexBits: 9},
	{Name: "sv57-l1 (2MiB)", BlockSize: 1 << 21, EntriesPerTable: 512, AllowsLeaf: true, Shift: 21, IndexBits: 9},
	{Name: "sv57-l0 (4KiB)", BlockSize: 1 << 12, EntriesPerTable: 512, AllowsLeaf: true, Shift: 12, IndexBits: 9},
})

// Amd64 is the x86-64 4-level paging mode (PML4/PDPT/PD/PT), with 1GiB,
// 2MiB and 4KiB leaves; the PML4 level never terminates a mapping.
// Address bits are canonical sign-extended, unlike the RISC-V Sv-modes.
var Amd64 = func() Descriptor {
	d := mk("amd64", 48, []Level{
		{Name: "pml4", BlockSize: 1 << 39, EntriesPerTable: 512, AllowsLeaf: false, Shift: 39, IndexBits: 9},
		{Name: "pdpt (1GiB)", BlockSize: 1 << 30, EntriesPerTable: 512, AllowsLeaf: true, Shift: 30, IndexBits: 9},
		{Name: "pd (2MiB)", BlockSize: 1 << 21, EntriesPerTable: 512, AllowsLeaf: true, Shift: 21, IndexBits: 9},
		{Name: "pt (4KiB)", BlockSize: 1 << 12, EntriesPerTable: 512, AllowsLeaf: true, Shift: 12, IndexBits: 9},
	})
	d.PTEAddrShift = 0
	d.CanonicalHole = true
	return d
}()
