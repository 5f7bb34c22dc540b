package ptable

import "github.com/k23-systems/kcore/internal/addr"

// Flush batches the virtual addresses a mapping operation modified so
// fencing happens once the operation is done rather than as each entry
// changes. No ptable operation touches the TLB directly; the caller decides when and
// how to fence by calling Flush or Ignore on the returned batch, exactly
// as spec.md §4.B's TLB discipline requires.
type Flush struct {
	vas    []addr.Virt
	global bool
}

// Add records that va's translation changed.
func (f *Flush) Add(va addr.Virt) {
	f.vas = append(f.vas, va)
}

// MarkGlobal marks the batch as requiring a global (all-ASID) fence,
// regardless of how many addresses were recorded. Unmap of a range large
// enough that per-page invalidation would be slower than a full fence
// should call this instead of relying on the address list.
func (f *Flush) MarkGlobal() { f.global = true }

// Fencer issues the actual architecture fence (sfence.vma on RISC-V,
// invlpg/cr3-reload on amd64). Implementations live outside this package
// since they require privileged instructions. Flush calls FenceAll once
// for a global batch or one of more than 32 addresses, and FenceAddr once
// per recorded address otherwise.
type Fencer interface {
	FenceAddr(addr.Virt)
	FenceAll()
}

// Flush issues the pending invalidations against f, the no-op case
// (empty batch) is explicitly idempotent per spec.md §8.
func (f *Flush) Flush(f2 Fencer) {
	if len(f.vas) == 0 && !f.global {
		return
	}
	if f.global || len(f.vas) > 32 {
		f2.FenceAll()
	} else {
		for _, va := range f.vas {
			f2.FenceAddr(va)
		}
	}
	f.vas = nil
	f.global = false
}

// Ignore discards the batch without fencing. It exists for the
// bootstrap path, where no CPU has yet loaded the table being built so
// no translation can be cached.
func (f *Flush) Ignore() {
	f.vas = nil
	f.global = false
}

// Len reports the number of recorded addresses, for tests.
func (f *Flush) Len() int { return len(f.vas) }
