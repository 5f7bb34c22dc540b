// Package vmo implements the three backing-store kinds an
// AddressSpaceRegion can point at: Paged, Physical, and Wired. All three
// satisfy the same narrow VMO interface so the region tree's page-fault
// handler and explicit commit/decommit operations do not need to know
// which kind they are dealing with, mirroring how biscuit's Sys_pgfault
// (biscuit/src/vm/as.go) treats every Vminfo_t uniformly through
// Ptefor/Pgfault regardless of whether the backing is anonymous, a file,
// or a device mapping.
package vmo

import (
	"errors"
	"sync"

	"github.com/k23-systems/kcore/internal/addr"
	"github.com/k23-systems/kcore/internal/defs"
	"github.com/k23-systems/kcore/internal/frame"
)

var (
	// ErrOutOfRange is returned when an offset or range falls outside a
	// VMO's length.
	ErrOutOfRange = errors.New("vmo: offset out of range")
	// ErrNotWired is returned by Decommit on a Wired VMO: wired frames
	// must not be evicted.
	ErrNotWired = errors.New("vmo: wired pages cannot be decommitted")
	// ErrUnbacked is returned by GetFrame on a Wired VMO slot that was
	// never populated.
	ErrUnbacked = errors.New("vmo: wired slot has no frame")
)

// Frame is the result of resolving one page of a VMO. Ref is nil for
// Physical VMOs, whose pages are not reference-counted (MMIO); callers
// must not call Drop on a nil Ref.
type Frame struct {
	Phys addr.Phys
	Ref  *frame.Ref
}

// VMO is a backing store for a range of virtual memory, one page at a
// time. Offsets are byte offsets from the start of the object and must
// be page-aligned.
type VMO interface {
	// Len reports the object's size in bytes.
	Len() uintptr
	// GetFrame resolves the page at offset, allocating or faulting it in
	// as needed, and returns a reference the caller owns.
	GetFrame(offset uintptr) (Frame, error)
	// Commit pre-populates every page in [r.Start, r.End) (byte offsets).
	Commit(r addr.Range) error
	// Decommit drops every frame backing [r.Start, r.End); subsequent
	// accesses re-fault.
	Decommit(r addr.Range) error
}

func checkRange(length uintptr, r addr.Range) error {
	if !r.Start.IsAligned(defs.PGSHIFT) || !r.End.IsAligned(defs.PGSHIFT) {
		return ErrOutOfRange
	}
	if uintptr(r.End) > length {
		return ErrOutOfRange
	}
	return nil
}

// Paged is an anonymous, demand-paged VMO: an ordered sequence of
// optional frame references, one per page. An unpopulated slot resolves
// to a shared clone of the pool's zero frame (spec's zero-page
// optimization) rather than a private allocation, so reading never costs
// a frame; only a subsequent write triggers copy-on-write and gives the
// slot its own private frame.
type Paged struct {
	pool  *frame.Pool
	mu    sync.Mutex
	slots []*frame.Ref // nil == unpopulated
}

// NewPaged creates a Paged VMO of the given byte length (rounded up to a
// whole number of pages), backed by pool.
func NewPaged(pool *frame.Pool, length uintptr) *Paged {
	n := (length + defs.PGSIZE - 1) / defs.PGSIZE
	return &Paged{pool: pool, slots: make([]*frame.Ref, n)}
}

func (p *Paged) Len() uintptr { return uintptr(len(p.slots)) * defs.PGSIZE }

func (p *Paged) slotIndex(offset uintptr) (int, error) {
	if offset%defs.PGSIZE != 0 || offset >= p.Len() {
		return 0, ErrOutOfRange
	}
	return int(offset / defs.PGSIZE), nil
}

// GetFrame implements the spec's get_frame: "if the slot is occupied,
// clone; else [resolve the shared zero frame]". The zero-frame clone is
// never written back into the slot, so the optimization keeps sharing
// one physical page across every still-unwritten slot in every Paged
// VMO, not one zero-filled frame per slot.
func (p *Paged) GetFrame(offset uintptr) (Frame, error) {
	idx, err := p.slotIndex(offset)
	if err != nil {
		return Frame{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.slots[idx] != nil {
		ref := p.slots[idx].Clone()
		return Frame{Phys: ref.Addr(), Ref: ref}, nil
	}
	zero := p.pool.ZeroFrame().Clone()
	return Frame{Phys: zero.Addr(), Ref: zero}, nil
}

// CommitFault installs ref as the private, writable backing of the page
// at offset, replacing whatever was there (the zero frame or nothing).
// This is how the copy-on-write path in the address-space fault handler
// gives a slot its own frame.
func (p *Paged) CommitFault(offset uintptr, ref *frame.Ref) error {
	idx, err := p.slotIndex(offset)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if old := p.slots[idx]; old != nil {
		old.Drop()
	}
	p.slots[idx] = ref
	return nil
}

// Commit pre-populates every unpopulated slot in r with a freshly
// allocated, privately-owned zeroed frame (distinct from the implicit
// shared-zero-frame read path GetFrame takes).
func (p *Paged) Commit(r addr.Range) error {
	if err := checkRange(p.Len(), r); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for off := uintptr(r.Start); off < uintptr(r.End); off += defs.PGSIZE {
		idx := int(off / defs.PGSIZE)
		if p.slots[idx] != nil {
			continue
		}
		ref, ok := p.pool.AllocZeroed()
		if !ok {
			return defs.ENOMEM
		}
		p.slots[idx] = ref
	}
	return nil
}

// Decommit drops every frame backing r and resets those slots to
// unpopulated.
func (p *Paged) Decommit(r addr.Range) error {
	if err := checkRange(p.Len(), r); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for off := uintptr(r.Start); off < uintptr(r.End); off += defs.PGSIZE {
		idx := int(off / defs.PGSIZE)
		if p.slots[idx] != nil {
			p.slots[idx].Drop()
			p.slots[idx] = nil
		}
	}
	return nil
}

// Physical is a fixed physical range VMO used for device/MMIO mappings.
// It is not reference-counted: GetFrame always resolves to the same
// physical addresses and Commit/Decommit are no-ops, matching biscuit's
// treatment of device memory regions that bypass the frame pool
// entirely.
type Physical struct {
	Base addr.Phys
	Size uintptr
}

func (p *Physical) Len() uintptr { return p.Size }

func (p *Physical) GetFrame(offset uintptr) (Frame, error) {
	if offset%defs.PGSIZE != 0 || offset >= p.Size {
		return Frame{}, ErrOutOfRange
	}
	return Frame{Phys: p.Base.Add(offset)}, nil
}

func (p *Physical) Commit(r addr.Range) error {
	return checkRange(p.Size, r)
}

func (p *Physical) Decommit(r addr.Range) error {
	return checkRange(p.Size, r)
}

// Wired is a VMO backed by an explicit list of frames that must never be
// evicted: kernel stacks, DMA buffers, anything the caller has promised
// will stay resident.
type Wired struct {
	refs []*frame.Ref
}

// NewWired allocates n zeroed, permanently-held frames from pool.
func NewWired(pool *frame.Pool, n int) (*Wired, error) {
	refs := make([]*frame.Ref, n)
	for i := range refs {
		ref, ok := pool.AllocZeroed()
		if !ok {
			for _, r := range refs[:i] {
				r.Drop()
			}
			return nil, defs.ENOMEM
		}
		refs[i] = ref
	}
	return &Wired{refs: refs}, nil
}

func (w *Wired) Len() uintptr { return uintptr(len(w.refs)) * defs.PGSIZE }

func (w *Wired) GetFrame(offset uintptr) (Frame, error) {
	if offset%defs.PGSIZE != 0 || offset >= w.Len() {
		return Frame{}, ErrOutOfRange
	}
	idx := offset / defs.PGSIZE
	ref := w.refs[idx]
	if ref == nil {
		return Frame{}, ErrUnbacked
	}
	clone := ref.Clone()
	return Frame{Phys: clone.Addr(), Ref: clone}, nil
}

func (w *Wired) Commit(r addr.Range) error {
	return checkRange(w.Len(), r)
}

// Decommit always fails: wired memory is, by definition, pinned.
func (w *Wired) Decommit(r addr.Range) error {
	if err := checkRange(w.Len(), r); err != nil {
		return err
	}
	return ErrNotWired
}
