// Package trap models the architectural trap entry/exit contract and the
// typed dispatch that follows it: what a naked trampoline would save into
// before calling into Go, and how the cause code fans out to the
// page-fault, timer, software-interrupt and syscall paths.
//
// biscuit runs as ordinary Go code under the host scheduler and has no
// trap trampoline of its own to borrow; this package instead renders the
// RISC-V trampoline contract in `original_source/crates/kernel/src/arch/
// riscv64/trap.rs` (`TrapFrame`, `default_trap_entry`, `default_trap_handler`)
// directly as Go types and a dispatch function, since a host-portable
// reimplementation has no naked assembly to write in the first place.
package trap

import (
	"fmt"

	"github.com/k23-systems/kcore/internal/addr"
	"github.com/k23-systems/kcore/internal/aspace"
	"github.com/k23-systems/kcore/internal/ptable"
)

// Frame is the saved-register contract a trap trampoline would populate
// before calling into Dispatch and restore from afterward. Field order
// and the register groupings (t/a/s) mirror the Rust TrapFrame this is
// ported from; a real trampoline relies on `#[repr(C, align(16))]` for
// fixed assembly offsets, which this Go struct cannot express directly,
// but the field order here is the documented ABI a trampoline would
// match. Callers must not move a Frame while a trap is in flight — the
// spec's PhantomPinned requirement becomes a documented caller
// obligation rather than a compiler-checked one.
type Frame struct {
	RA uintptr
	SP uintptr
	T  [7]uintptr
	A  [8]uintptr
	S  [12]uintptr
}

// Cause identifies why a trap was taken, in the scause CSR's
// interrupt-bit-plus-code encoding.
type Cause struct {
	Interrupt bool
	Code      uint
}

// Exception causes (scause.Interrupt == false).
const (
	InstructionAddressMisaligned uint = 0
	InstructionAccessFault       uint = 1
	IllegalInstruction           uint = 2
	Breakpoint                   uint = 3
	LoadAddressMisaligned        uint = 4
	LoadAccessFault              uint = 5
	StoreAddressMisaligned       uint = 6
	StoreAccessFault             uint = 7
	UserEnvCall                  uint = 8
	SupervisorEnvCall            uint = 9
	InstructionPageFault         uint = 12
	LoadPageFault                uint = 13
	StorePageFault               uint = 15
)

// Interrupt causes (scause.Interrupt == true).
const (
	SupervisorSoftware uint = 1
	SupervisorTimer    uint = 5
	SupervisorExternal uint = 9
)

func exc(code uint) Cause { return Cause{Interrupt: false, Code: code} }
func irq(code uint) Cause { return Cause{Interrupt: true, Code: code} }

// Named causes the dispatcher recognizes by value.
var (
	CauseInstructionPageFault = exc(InstructionPageFault)
	CauseLoadPageFault        = exc(LoadPageFault)
	CauseStorePageFault       = exc(StorePageFault)
	CauseUserEnvCall          = exc(UserEnvCall)
	CauseSupervisorTimer      = irq(SupervisorTimer)
	CauseSupervisorSoftware   = irq(SupervisorSoftware)
)

// IsPageFault reports whether c is one of the three page-fault
// exceptions the page-fault handler (internal/aspace) services.
func (c Cause) IsPageFault() bool {
	return !c.Interrupt && (c.Code == InstructionPageFault || c.Code == LoadPageFault || c.Code == StorePageFault)
}

// FaultKind translates a page-fault cause into the access kind
// aspace.AddressSpace.HandleFault expects. ok is false for any
// non-page-fault cause.
func (c Cause) FaultKind() (kind aspace.FaultKind, ok bool) {
	if c.Interrupt {
		return 0, false
	}
	switch c.Code {
	case InstructionPageFault:
		return aspace.FaultExecute, true
	case LoadPageFault:
		return aspace.FaultRead, true
	case StorePageFault:
		return aspace.FaultWrite, true
	default:
		return 0, false
	}
}

func (c Cause) String() string {
	kind := "exception"
	if c.Interrupt {
		kind = "interrupt"
	}
	return fmt.Sprintf("%s %d", kind, c.Code)
}

// PageFaultContext carries what Dispatch needs to route a page-fault
// cause into the faulting address space. Callers constructing the
// trampoline supply the AddressSpace for whichever task or kernel
// context took the trap.
type PageFaultContext struct {
	Space *aspace.AddressSpace
	Addr  addr.Virt
	Flush *ptable.Flush
}

// Dispatcher fans a trap cause out to typed handlers, per spec.md §4.F's
// dispatch list. Any field left nil falls through to the panic path for
// that cause.
type Dispatcher struct {
	// OnTimer services a supervisor timer interrupt: advance the timer
	// wheel, then the caller is responsible for clearing stimer.
	OnTimer func()
	// OnSoftwareInterrupt services an IPI wake.
	OnSoftwareInterrupt func()
	// OnSyscall services a user environment call. Not part of this
	// spec's scope; left nil falls through to panic, matching
	// default_trap_handler's catch-all.
	OnSyscall func(frame *Frame)
	// OnPanic receives every unrecognized or unhandled cause, with a
	// formatted register dump. If nil, Dispatch panics directly.
	OnPanic func(frame *Frame, cause Cause, dump string)
}

// Dispatch routes one trap. pf is required (non-nil) when cause is a
// page-fault cause and ignored otherwise.
func (d *Dispatcher) Dispatch(frame *Frame, cause Cause, pf *PageFaultContext) error {
	switch {
	case cause.IsPageFault():
		if pf == nil {
			panic("trap: page-fault cause dispatched without a PageFaultContext")
		}
		kind, _ := cause.FaultKind()
		return pf.Space.HandleFault(pf.Addr, kind, pf.Flush)

	case cause == CauseSupervisorTimer:
		if d.OnTimer != nil {
			d.OnTimer()
		}
		return nil

	case cause == CauseSupervisorSoftware:
		if d.OnSoftwareInterrupt != nil {
			d.OnSoftwareInterrupt()
		}
		return nil

	case cause == CauseUserEnvCall:
		if d.OnSyscall != nil {
			d.OnSyscall(frame)
			return nil
		}
		fallthrough

	default:
		dump := d.dump(frame, cause)
		if d.OnPanic != nil {
			d.OnPanic(frame, cause, dump)
			return nil
		}
		panic(dump)
	}
}

func (d *Dispatcher) dump(frame *Frame, cause Cause) string {
	return fmt.Sprintf(
		"trap: unhandled cause %s ra=%#x sp=%#x t=%#x a=%#x s=%#x",
		cause, frame.RA, frame.SP, frame.T, frame.A, frame.S,
	)
}
