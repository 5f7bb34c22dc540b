package boot

import (
	"fmt"

	"github.com/k23-systems/kcore/internal/addr"
)

// AddrRange is a half-open [Start, End) physical address range, the Go
// rendering of `Range<PhysicalAddress>`.
type AddrRange struct {
	Start, End addr.Phys
}

// Len returns the range's size in bytes.
func (r AddrRange) Len() uintptr { return uintptr(r.End) - uintptr(r.Start) }

// Serial describes the board's console UART, mirroring board_info.rs's
// `Serial`.
type Serial struct {
	MMIORegs       AddrRange
	ClockFrequency uint32
}

// BoardInfo is the parsed subset of a device tree the kernel needs to
// bring a machine up: how many harts exist, their timebase, the
// console, the core-local interruptor, an optional QEMU test-exit
// device, and the usable memory range. Device-tree parsing itself
// (reading the raw `.dtb` blob into these fields) is explicitly out of
// scope — BoardInfo is only the contract a parser populates, mirroring
// `original_source/crates/kernel/src/board_info.rs`'s `BoardInfo`
// struct with `dtb_parser` walking it.
type BoardInfo struct {
	CPUs          int
	BaseFrequency uint32
	Serial        Serial
	CLINT         AddrRange
	QEMUTest      *AddrRange
	Memory        AddrRange
}

// MissingFieldError reports which required board-info field a
// device-tree walk failed to populate, mirroring
// `Error::MissingBordInfo`.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("boot: device tree is missing required field %q", e.Field)
}

// BoardInfoBuilder accumulates the fields a device-tree walk discovers
// one property/node at a time, the same incremental-visitor shape
// board_info.rs's `BoardInfoVisitor` uses, then validates that every
// required field was set before producing a BoardInfo.
type BoardInfoBuilder struct {
	cpus          int
	baseFrequency *uint32
	serialRegs    *AddrRange
	serialClock   *uint32
	clint         *AddrRange
	qemuTest      *AddrRange
	memory        *AddrRange
}

// AddCPU records one more `cpu@...` node visited.
func (b *BoardInfoBuilder) AddCPU() { b.cpus++ }

// SetBaseFrequency records the `cpus` node's `timebase-frequency`.
func (b *BoardInfoBuilder) SetBaseFrequency(hz uint32) { b.baseFrequency = &hz }

// SetSerial records the console UART's MMIO range and clock.
func (b *BoardInfoBuilder) SetSerial(regs AddrRange, clockHz uint32) {
	b.serialRegs = &regs
	b.serialClock = &clockHz
}

// SetCLINT records the core-local interruptor's MMIO range.
func (b *BoardInfoBuilder) SetCLINT(regs AddrRange) { b.clint = &regs }

// SetQEMUTest records the optional QEMU `test@...` exit device.
func (b *BoardInfoBuilder) SetQEMUTest(regs AddrRange) { b.qemuTest = &regs }

// SetMemory records the usable `memory@...` range.
func (b *BoardInfoBuilder) SetMemory(regs AddrRange) { b.memory = &regs }

// Build validates that every required field was set and returns the
// finished BoardInfo, or the first MissingFieldError encountered.
func (b *BoardInfoBuilder) Build() (*BoardInfo, error) {
	if b.baseFrequency == nil {
		return nil, &MissingFieldError{"base_frequency"}
	}
	if b.serialRegs == nil {
		return nil, &MissingFieldError{"serial.regs"}
	}
	if b.serialClock == nil {
		return nil, &MissingFieldError{"serial.clock_frequency"}
	}
	if b.clint == nil {
		return nil, &MissingFieldError{"clint"}
	}
	if b.memory == nil {
		return nil, &MissingFieldError{"memory"}
	}
	return &BoardInfo{
		CPUs:          b.cpus,
		BaseFrequency: *b.baseFrequency,
		Serial: Serial{
			MMIORegs:       *b.serialRegs,
			ClockFrequency: *b.serialClock,
		},
		CLINT:    *b.clint,
		QEMUTest: b.qemuTest,
		Memory:   *b.memory,
	}, nil
}
