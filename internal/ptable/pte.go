// Package ptable implements the generic multi-level page-table engine
// described in spec.md §4.B: walking, mapping, unmapping, protection
// changes and TLB-fence batching, parameterized over an arch.Descriptor
// so the same code drives Sv39, Sv48, Sv57 and amd64. The bit-packing
// style (a uint64 PTE with accessor methods, PTE_* style flag bits) is
// carried over from biscuit's src/mem/mem.go, generalized from amd64-only
// constants into a MemoryAttributes value so write/execute is a single
// enum slot instead of two independent bits -- enforcing write-xor-execute
// at construction time the way spec.md §3 requires.
package ptable

import "fmt"

// WriteExec is the write/execute permission slot of MemoryAttributes.
// It is a tri-state enum, not two bits, so a PTE can never be both
// writable and executable (W^X).
type WriteExec int

const (
	WXNone WriteExec = iota
	WXWrite
	WXExecute
)

func (w WriteExec) String() string {
	switch w {
	case WXWrite:
		return "W"
	case WXExecute:
		return "X"
	default:
		return "-"
	}
}

// MemoryAttributes is the bitfield over {READ, WRITE_OR_EXECUTE, USER,
// GLOBAL} spec.md §3 describes.
type MemoryAttributes struct {
	Read           bool
	WriteOrExecute WriteExec
	User           bool
	Global         bool
}

func (m MemoryAttributes) String() string {
	r := "-"
	if m.Read {
		r = "R"
	}
	u := "-"
	if m.User {
		u = "U"
	}
	g := "-"
	if m.Global {
		g = "G"
	}
	return fmt.Sprintf("%s%s%s%s", r, m.WriteOrExecute, u, g)
}

// PTE is a bit-packed page-table-entry word. Bit 0 marks the entry
// present/valid, bit 1 discriminates table vs. leaf entries, bits 2-6
// carry the leaf read/write/execute/user/global bits, and the address
// field occupies the
// high bits (shifted per-architecture by Descriptor.PTEAddrShift at
// encode/decode time).
type PTE uint64

const (
	pteValid  PTE = 1 << 0
	pteTable  PTE = 1 << 1
	pteRead   PTE = 1 << 2
	pteWrite  PTE = 1 << 3
	pteExec   PTE = 1 << 4
	pteUser   PTE = 1 << 5
	pteGlobal PTE = 1 << 6
	pteFlags  PTE = (1 << 10) - 1
	addrShift = 10
)

// Vacant is the all-zero PTE: no mapping present.
const Vacant PTE = 0

// IsValid reports whether the entry is present (table or leaf).
func (p PTE) IsValid() bool { return p&pteValid != 0 }

// IsTable reports whether the entry is a non-leaf table pointer.
func (p PTE) IsTable() bool { return p.IsValid() && p&pteTable != 0 }

// IsLeaf reports whether the entry is a leaf mapping.
func (p PTE) IsLeaf() bool { return p.IsValid() && p&pteTable == 0 }

// Addr extracts the address field, reversing the per-architecture
// PTEAddrShift applied when the entry was constructed.
func (p PTE) Addr(addrShiftBits uint) uintptr {
	return uintptr(p>>addrShift) << addrShiftBits
}

// Attrs decodes the permission bits of a leaf PTE. Calling it on a table
// entry or a vacant entry returns the zero value.
func (p PTE) Attrs() MemoryAttributes {
	if !p.IsLeaf() {
		return MemoryAttributes{}
	}
	m := MemoryAttributes{
		Read:   p&pteRead != 0,
		User:   p&pteUser != 0,
		Global: p&pteGlobal != 0,
	}
	switch {
	case p&pteWrite != 0:
		m.WriteOrExecute = WXWrite
	case p&pteExec != 0:
		m.WriteOrExecute = WXExecute
	}
	return m
}

// NewTable packs a non-leaf table pointer entry.
func NewTable(next uintptr, addrShiftBits uint) PTE {
	return pteValid | pteTable | encodeAddr(next, addrShiftBits)
}

// NewLeaf packs a leaf entry mapping phys with the given attributes.
// Construction itself enforces W^X: MemoryAttributes.WriteOrExecute is a
// tri-state enum, so the two bits can never both be set.
func NewLeaf(phys uintptr, attrs MemoryAttributes, addrShiftBits uint) PTE {
	p := pteValid | encodeAddr(phys, addrShiftBits)
	if attrs.Read {
		p |= pteRead
	}
	switch attrs.WriteOrExecute {
	case WXWrite:
		p |= pteWrite
	case WXExecute:
		p |= pteExec
	}
	if attrs.User {
		p |= pteUser
	}
	if attrs.Global {
		p |= pteGlobal
	}
	return p
}

func encodeAddr(phys uintptr, addrShiftBits uint) PTE {
	return PTE(phys>>addrShiftBits) << addrShift
}
