package wasmabi

// OSABI is the custom ELF OS/ABI byte the JIT stamps into every object
// it emits, exactly as spec.md §6 specifies.
const OSABI = 0xDF // 223

// Section names the JIT's object emitter uses, beyond the standard
// `.text`/`.rodata.wasm`: `.k23.*` metadata sections plus the
// conventional `.name.wasm` function-name section.
const (
	SectionText       = ".text"
	SectionRodataWasm = ".rodata.wasm"
	SectionTraps      = ".k23.traps"
	SectionInfo       = ".k23.info"
	SectionBTI        = ".k23.bti"
	SectionEngine     = ".k23.engine"
	SectionNameWasm   = ".name.wasm"
	SectionDWARF      = ".k23.dwarf"
)

// Sections lists every section name the JIT is expected to emit, in
// the order spec.md §6 lists them.
var Sections = []string{
	SectionText,
	SectionRodataWasm,
	SectionTraps,
	SectionInfo,
	SectionBTI,
	SectionEngine,
	SectionNameWasm,
	SectionDWARF,
}
