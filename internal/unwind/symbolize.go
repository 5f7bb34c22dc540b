package unwind

import (
	"fmt"
	"strings"

	"github.com/google/pprof/profile"
	"github.com/ianlancetaylor/demangle"
	"golang.org/x/arch/x86/x86asm"
)

// Symbolize demangles a C++ or Rust mangled symbol name for display in a
// backtrace line, the "pretty-print the way a real symbolizer would"
// sibling task spec.md §1 calls out alongside the unwinder. Names that
// don't look mangled are returned unchanged.
func Symbolize(name string) string {
	return demangle.Filter(name, demangle.NoParams)
}

// SymbolTable resolves addresses to function metadata for a backtrace,
// built from a pprof Profile's Function/Location tables the way a
// profiling tool would already have them in memory rather than needing
// its own symbol lookup — see DESIGN.md for why pprof's profile package
// was picked over re-deriving ELF symtab lookups from scratch.
type SymbolTable struct {
	byAddr map[uint64]*profile.Line
}

// NewSymbolTable indexes every location/line in p by its mapped address.
func NewSymbolTable(p *profile.Profile) *SymbolTable {
	st := &SymbolTable{byAddr: make(map[uint64]*profile.Line)}
	for _, loc := range p.Location {
		if len(loc.Line) == 0 {
			continue
		}
		st.byAddr[loc.Address] = &loc.Line[0]
	}
	return st
}

// Lookup returns the demangled function name and source location for
// addr, if the profile covers it.
func (st *SymbolTable) Lookup(addr uint64) (name, file string, line int64, ok bool) {
	l, ok := st.byAddr[addr]
	if !ok || l.Function == nil {
		return "", "", 0, false
	}
	return Symbolize(l.Function.Name), l.Function.Filename, l.Line, true
}

// DisassembleOne decodes a single x86-64 instruction at the start of
// code, for the "faulting instruction" line a register-dump panic
// report wants. mode64 selects 64- vs 32-bit decoding.
func DisassembleOne(code []byte, mode64 bool) (x86asm.Inst, string, error) {
	mode := 32
	if mode64 {
		mode = 64
	}
	inst, err := x86asm.Decode(code, mode)
	if err != nil {
		return x86asm.Inst{}, "", err
	}
	return inst, inst.String(), nil
}

// FormatFrame renders one unwound Frame as a single backtrace line in
// the `N - 0x<pc> <symbol> (<file>:<line>)` shape biscuit's stats/stat
// packages use for tabular diagnostic output.
func FormatFrame(index int, f Frame, st *SymbolTable) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%2d - %#x", index, f.PC)
	if st != nil {
		if name, file, line, ok := st.Lookup(uint64(f.PC)); ok {
			fmt.Fprintf(&b, " %s (%s:%d)", name, file, line)
		}
	}
	return b.String()
}
