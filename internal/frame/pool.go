package frame

import (
	"sync"
	"sync/atomic"

	"github.com/k23-systems/kcore/internal/addr"
	"github.com/k23-systems/kcore/internal/defs"
	"github.com/k23-systems/kcore/internal/ptable"
)

const sentinel = ^uint32(0)

// meta is one frame's bookkeeping record, the Go analogue of biscuit's
// Physpg_t: a refcount plus an intrusive singly-linked free-list index.
type meta struct {
	refcount atomic.Int32
	next     uint32
}

// Pool is the reference-counted frame allocator used once virtual
// memory is live. Every usable page in ram gets a meta record; frames
// start unusable (refcount -1) until MarkFree brings them onto the free
// list, the same convention Phys_init uses in biscuit before walking the
// firmware-reported free ranges.
type Pool struct {
	ram       *RAM
	start     addr.Phys
	frames    []meta
	mu        sync.Mutex
	freeHead  uint32
	freeLen   int
	zeroFrame *Ref
}

// NewPool creates a Pool covering every page in ram, all initially
// unusable.
func NewPool(ram *RAM) *Pool {
	n := ram.Size() / defs.PGSIZE
	p := &Pool{
		ram:      ram,
		start:    ram.Base,
		frames:   make([]meta, n),
		freeHead: sentinel,
	}
	for i := range p.frames {
		p.frames[i].refcount.Store(-1)
		p.frames[i].next = sentinel
	}
	return p
}

func (p *Pool) indexOf(a addr.Phys) uint32 {
	if !p.ram.Contains(a) {
		panic("frame: address outside pool's RAM arena")
	}
	return uint32(uintptr(a-p.start) / defs.PGSIZE)
}

func (p *Pool) addrOf(idx uint32) addr.Phys {
	return p.start.Add(uintptr(idx) * defs.PGSIZE)
}

// MarkFree brings every page in r onto the free list. Callers pass the
// firmware/loader-reported free ranges minus whatever the Bootstrap
// allocator already consumed (Bootstrap.Finish's result).
func (p *Pool) MarkFree(r addr.PhysRange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for a := r.Start; a < r.End; a = a.Add(defs.PGSIZE) {
		idx := p.indexOf(a)
		p.frames[idx].refcount.Store(0)
		p.frames[idx].next = p.freeHead
		p.freeHead = idx
		p.freeLen++
	}
}

// InitZeroFrame allocates THE_ZERO_FRAME: a single frame held with a
// permanent extra reference, used as the backing of any page that is
// initially read-only in a paged VMO (spec.md §4.C). It must be called
// after MarkFree has seeded the free list.
func (p *Pool) InitZeroFrame() *Ref {
	ref, ok := p.AllocZeroed()
	if !ok {
		panic("frame: no frames available for the zero frame")
	}
	ref.refcount().Add(1) // permanent extra reference; never torn down
	p.zeroFrame = ref
	return ref
}

// ZeroFrame returns the global zero frame. It panics if InitZeroFrame
// has not run.
func (p *Pool) ZeroFrame() *Ref {
	if p.zeroFrame == nil {
		panic("frame: zero frame not initialized")
	}
	return p.zeroFrame
}

// IsZeroFrame reports whether ref points at THE_ZERO_FRAME. It never
// panics, unlike ZeroFrame, so callers on a copy-on-write fault path can
// check this before knowing whether InitZeroFrame ever ran.
func (p *Pool) IsZeroFrame(ref *Ref) bool {
	return p.zeroFrame != nil && ref.Addr() == p.zeroFrame.Addr()
}

// Alloc pops a frame off the free list (LIFO) and returns a Ref with
// refcount 1.
func (p *Pool) Alloc() (*Ref, bool) {
	p.mu.Lock()
	idx := p.freeHead
	if idx == sentinel {
		p.mu.Unlock()
		return nil, false
	}
	p.freeHead = p.frames[idx].next
	p.freeLen--
	if p.frames[idx].refcount.Load() != 0 {
		p.mu.Unlock()
		panic("frame: popped a frame with a nonzero refcount")
	}
	p.frames[idx].refcount.Store(1)
	p.mu.Unlock()
	return &Ref{pool: p, idx: idx}, true
}

// AllocZeroed behaves like Alloc but additionally zeroes the frame, the
// Go analogue of biscuit's Refpg_new (as opposed to Refpg_new_nozero).
func (p *Pool) AllocZeroed() (*Ref, bool) {
	ref, ok := p.Alloc()
	if !ok {
		return nil, false
	}
	page := p.ram.Page(ref.Addr())
	for i := range page {
		page[i] = 0
	}
	return ref, true
}

// FreeCount reports the number of frames currently on the free list.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeLen
}

func (p *Pool) push(idx uint32) {
	p.mu.Lock()
	p.frames[idx].next = p.freeHead
	p.freeHead = idx
	p.freeLen++
	p.mu.Unlock()
}

// Ref is a reference-counted handle to one physical frame. Clone/Drop
// implement the Arc-style discipline spec.md §5 requires: relaxed
// increment, release decrement, acquire fence before the frame is
// returned to the pool. Go's sync/atomic operations are all
// sequentially consistent, a strictly stronger guarantee than the
// spec's minimum, so this satisfies the invariant without needing a
// separate fence primitive.
type Ref struct {
	pool *Pool
	idx  uint32
}

// Addr returns the physical address this reference points to.
func (r *Ref) Addr() addr.Phys { return r.pool.addrOf(r.idx) }

// Page returns the byte slice backing this frame.
func (r *Ref) Page() []byte { return r.pool.ram.Page(r.Addr()) }

// Refcount returns the current reference count.
func (r *Ref) Refcount() int32 { return r.refcount().Load() }

func (r *Ref) refcount() *atomic.Int32 {
	return &r.pool.frames[r.idx].refcount
}

// Clone increments the refcount and returns a new handle to the same
// frame. The refcount must never exceed math.MaxInt32; an overflow is a
// programming error and aborts, per spec.md §3.
func (r *Ref) Clone() *Ref {
	c := r.refcount().Add(1)
	if c <= 1 {
		panic("frame: clone of a frame with nonpositive refcount")
	}
	return &Ref{pool: r.pool, idx: r.idx}
}

// Drop decrements the refcount, returning the frame to the pool's free
// list when it reaches zero.
func (r *Ref) Drop() {
	c := r.refcount().Add(-1)
	if c < 0 {
		panic("frame: refcount underflow")
	}
	if c == 0 {
		r.pool.push(r.idx)
	}
}

// PageTableMemory exposes a Pool as a ptable.Memory, carving table pages
// out of the same refcounted pool page-table walks allocate user and
// kernel leaves from.
type PageTableMemory struct {
	pool *Pool
	// held retains the Refs backing allocated table pages so their
	// refcount stays above zero until Free releases them; table pages
	// are not otherwise reachable through a FrameRef chain.
	mu   sync.Mutex
	held map[uintptr]*Ref
}

// AsPageTableMemory adapts p for use as a ptable.Memory.
func (p *Pool) AsPageTableMemory() *PageTableMemory {
	return &PageTableMemory{pool: p, held: make(map[uintptr]*Ref)}
}

// Table returns the direct-mapped PTE array for the table page at p.
func (m *PageTableMemory) Table(p uintptr) *[512]ptable.PTE {
	return m.pool.ram.Table(p)
}

// Alloc hands out a freshly zeroed frame for use as a table page.
func (m *PageTableMemory) Alloc() (uintptr, bool) {
	ref, ok := m.pool.AllocZeroed()
	if !ok {
		return 0, false
	}
	m.mu.Lock()
	m.held[uintptr(ref.Addr())] = ref
	m.mu.Unlock()
	return uintptr(ref.Addr()), true
}

// Free returns a table page obtained from Alloc.
func (m *PageTableMemory) Free(p uintptr) {
	m.mu.Lock()
	ref, ok := m.held[p]
	delete(m.held, p)
	m.mu.Unlock()
	if !ok {
		panic("frame: freeing a table page not obtained from Alloc")
	}
	ref.Drop()
}
