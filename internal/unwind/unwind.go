// Package unwind implements the DWARF-CFI-driven stack walk and the
// panic-safe catch/resume mechanism spec.md §4.G describes, grounded on
// `original_source/crates/kernel/src/unwind.rs` (the CFI row application
// loop: `construct_frame`/`update_regs_from_frame`) and
// `original_source/libs/kstd/src/unwinding/personality.rs` (the
// LSDA/landing-pad catch-vs-cleanup decision `find_eh_action` makes).
//
// Real `.eh_frame`/CFI byte parsing (the source's `gimli` dependency) is
// explicitly out of scope — the pack's Non-goals list `gimli` itself as
// a parsing-library external collaborator, and spec.md §4.G separately
// states DWARF expression support is not required. This package instead
// operates on an already-decoded CFITable: whatever loads a compiled
// module is responsible for turning its raw CFI bytecode into Rows, and
// this package does the row lookup, register-rule application and
// landing-pad dispatch spec.md actually asks the unwinder to do.
package unwind

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDWARFExpression is returned when a CFA or register rule requires
// evaluating a DWARF expression, the stated non-requirement in spec.md
// §4.G: "encountering one aborts."
var ErrDWARFExpression = errors.New("unwind: DWARF expressions are unsupported")

// ErrNoUnwindInfo is returned when a PC falls outside every row in a
// CFITable: the source's "stack end is reached" case.
var ErrNoUnwindInfo = errors.New("unwind: no unwind row covers this pc")

// ErrNoUnwind is returned when the walk reaches a frame explicitly
// marked NoUnwind (the source's "frame marked nounwind" case).
var ErrNoUnwind = errors.New("unwind: reached a nounwind frame")

// RuleKind is the DWARF CFI register-rule discriminant, restricted to
// the subset spec.md §4.G lists: Offset, ValOffset, Register, Constant,
// SameValue, Undefined.
type RuleKind int

const (
	RuleUndefined RuleKind = iota
	RuleSameValue
	RuleOffset
	RuleValOffset
	RuleRegister
	RuleConstant
	RuleExpression // unsupported; present so a decoder can say "I saw one"
)

// RegisterRule is one row's rule for recovering a single callee-saved
// register's value in the caller's frame.
type RegisterRule struct {
	Kind RuleKind
	// Value holds an Offset/ValOffset displacement, a Constant, or
	// (when Kind is RuleRegister) the source register number.
	Value int64
}

// CFARule computes the canonical frame address as ctx[Register] +
// Offset. The source also supports a DWARF-expression CFA rule, which
// this package represents as Register == RegCFAExpression and rejects
// with ErrDWARFExpression.
type CFARule struct {
	Register int
	Offset   int64
}

// LandingPad is one call-site's LSDA entry, the Go rendering of
// personality.rs's EHAction: either no action, a Cleanup (continue
// unwinding after running it) or a Catch (installs the handler context
// and stops unwinding there).
type LandingPad struct {
	PC    uintptr
	Catch bool
}

// Row is one FDE's decoded unwind info, covering the PC half-open range
// [Low, High).
type Row struct {
	Low, High uintptr
	CFA       CFARule
	Rules     map[int]RegisterRule
	NoUnwind  bool
	Landing   *LandingPad
}

func (r *Row) contains(pc uintptr) bool { return pc >= r.Low && pc < r.High }

// CFITable is an ordered set of Rows, looked up by containing PC range
// the way `fde_for_address` looks up an FDE in .eh_frame.
type CFITable struct {
	rows []Row
}

// NewCFITable builds a table from decoded rows, sorting them by starting
// PC so RowFor can binary search.
func NewCFITable(rows []Row) *CFITable {
	sorted := append([]Row(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Low < sorted[j].Low })
	return &CFITable{rows: sorted}
}

// RowFor returns the row covering pc, if any.
func (t *CFITable) RowFor(pc uintptr) (*Row, bool) {
	i := sort.Search(len(t.rows), func(i int) bool { return t.rows[i].Low > pc })
	if i == 0 {
		return nil, false
	}
	row := &t.rows[i-1]
	if !row.contains(pc) {
		return nil, false
	}
	return row, true
}

// Register numbers for Context.reg/setReg, matching trap.Frame's
// grouping: RA and SP are addressed directly, s0..s11 by index into S.
const (
	RegRA = -1
	RegSP = -2
	// RegCFAExpression marks a CFARule that would require evaluating a
	// DWARF expression, distinct from RegRA/RegSP so a legitimate CFA
	// register never collides with the "unsupported" sentinel.
	RegCFAExpression = -3
)

// Context is the register state at one point of the walk: return
// address, stack pointer, and the architecture's callee-saved registers
// (s0..s11 on RISC-V), the same shape as the source's Context/ctx[reg]
// indexing.
type Context struct {
	RA uintptr
	SP uintptr
	S  [12]uintptr
}

func (c *Context) reg(n int) uintptr {
	switch {
	case n == RegRA:
		return c.RA
	case n == RegSP:
		return c.SP
	case n >= 0 && n < len(c.S):
		return c.S[n]
	default:
		panic(fmt.Sprintf("unwind: unsupported register %d", n))
	}
}

func (c *Context) setReg(n int, v uintptr) {
	switch {
	case n == RegRA:
		c.RA = v
	case n == RegSP:
		c.SP = v
	case n >= 0 && n < len(c.S):
		c.S[n] = v
	default:
		panic(fmt.Sprintf("unwind: unsupported register %d", n))
	}
}

// Memory reads one machine word from the stack at addr, standing in for
// the source's unsafe pointer dereferences (`*((cfa + offset) as *const
// usize)`) which Go cannot express directly; a real stack walk backs
// this with the live stack, tests back it with a fake.
type Memory func(addr uintptr) (uintptr, error)

// Frame is one step of a completed walk: the return-address PC and the
// row that produced it.
type Frame struct {
	PC  uintptr
	Row *Row
}

// Step applies row's rules to ctx in place, the Go rendering of
// update_regs_from_frame: compute the CFA, then resolve every register
// rule against it, finally setting PC (via RA) and SP to the caller's
// values.
func Step(ctx *Context, row *Row, mem Memory) error {
	if row.CFA.Register == RegCFAExpression {
		return ErrDWARFExpression
	}
	cfa := ctx.reg(row.CFA.Register) + uintptr(row.CFA.Offset)

	// SP becomes the CFA and RA defaults to 0 (end of stack) before rules
	// are applied, matching update_regs_from_frame's unconditional
	// `self.ctx[SP] = cfa; self.ctx[RA] = 0;` ahead of its rule loop. Any
	// other register keeps its current value unless a rule overrides it.
	next := *ctx
	next.SP = cfa
	next.RA = 0
	for reg, rule := range row.Rules {
		switch rule.Kind {
		case RuleUndefined, RuleSameValue:
			// leave next's copy of reg untouched
		case RuleOffset:
			v, err := mem(uintptr(int64(cfa) + rule.Value))
			if err != nil {
				return err
			}
			next.setReg(reg, v)
		case RuleValOffset:
			next.setReg(reg, uintptr(int64(cfa)+rule.Value))
		case RuleRegister:
			next.setReg(reg, ctx.reg(int(rule.Value)))
		case RuleConstant:
			next.setReg(reg, uintptr(rule.Value))
		case RuleExpression:
			return ErrDWARFExpression
		default:
			return fmt.Errorf("unwind: unknown register rule kind %d", rule.Kind)
		}
	}
	*ctx = next
	return nil
}

// Walk performs a full stack walk from ctx using table to resolve each
// successive PC, per spec.md §4.G steps 1-4: for the current PC find the
// covering row, run it to update ctx, collect the frame, repeat from the
// new return address. It stops at the first zero return address (the
// bottom of the stack) or returns an error if it meets a nounwind row or
// a PC with no covering row.
func Walk(ctx Context, table *CFITable, mem Memory) ([]Frame, error) {
	var frames []Frame
	for ctx.RA != 0 {
		row, ok := table.RowFor(ctx.RA)
		if !ok {
			return frames, ErrNoUnwindInfo
		}
		if row.NoUnwind {
			return frames, ErrNoUnwind
		}
		frames = append(frames, Frame{PC: ctx.RA, Row: row})
		if err := Step(&ctx, row, mem); err != nil {
			return frames, err
		}
	}
	return frames, nil
}
