package wasmabi

// PointerWidth is the machine word size VMContextShape lays fields out
// against. Both Sv39/Sv48/Sv57 (RISC-V) and Amd64 targets this module
// supports are 64-bit, so this is fixed rather than parameterized —
// a 32-bit target is out of scope (spec.md names no 32-bit arch).
const PointerWidth = 8

// Field identifies one VMContext member for layout purposes. The fixed
// header fields come first, in the exact order spec.md §6 specifies;
// the variable-length per-module groups follow in the same order the
// spec's layout diagram lists them.
type Field int

const (
	FieldMagic Field = iota
	FieldBuiltinTable
	FieldStoreContext
	FieldStackLimit
	FieldImportedFuncs
	FieldImportedTables
	FieldImportedMemories
	FieldImportedGlobals
	FieldImportedTags
	FieldDefinedTables
	FieldDefinedMemories
	FieldOwnedMemories
	FieldDefinedGlobals
	FieldDefinedFuncRefs
)

// fieldOrder is the layout order VMContextShape walks; the four fixed
// header fields have a constant size (one pointer width each), the
// remaining groups are sized by the module's own counts.
var fieldOrder = [...]Field{
	FieldMagic,
	FieldBuiltinTable,
	FieldStoreContext,
	FieldStackLimit,
	FieldImportedFuncs,
	FieldImportedTables,
	FieldImportedMemories,
	FieldImportedGlobals,
	FieldImportedTags,
	FieldDefinedTables,
	FieldDefinedMemories,
	FieldOwnedMemories,
	FieldDefinedGlobals,
	FieldDefinedFuncRefs,
}

// ModuleCounts is how many of each variable-length group a module
// instance owns; these come from the translated module, not from
// wasmabi itself (the compiler pipeline that produces them is out of
// scope here).
type ModuleCounts struct {
	ImportedFuncs    int
	ImportedTables   int
	ImportedMemories int
	ImportedGlobals  int
	ImportedTags     int
	DefinedTables    int
	DefinedMemories  int
	OwnedMemories    int
	DefinedGlobals   int
	DefinedFuncRefs  int
}

func (c ModuleCounts) countFor(f Field) int {
	switch f {
	case FieldImportedFuncs:
		return c.ImportedFuncs
	case FieldImportedTables:
		return c.ImportedTables
	case FieldImportedMemories:
		return c.ImportedMemories
	case FieldImportedGlobals:
		return c.ImportedGlobals
	case FieldImportedTags:
		return c.ImportedTags
	case FieldDefinedTables:
		return c.DefinedTables
	case FieldDefinedMemories:
		return c.DefinedMemories
	case FieldOwnedMemories:
		return c.OwnedMemories
	case FieldDefinedGlobals:
		return c.DefinedGlobals
	case FieldDefinedFuncRefs:
		return c.DefinedFuncRefs
	default:
		return 1 // the four fixed header fields: exactly one slot each
	}
}

// VMContextShape computes the stable, bit-exact byte offsets of every
// VMContext field for one module instance, the Go rendering of the
// `VMContextShape` builder spec.md §6 calls for. Offsets are pointer-
// width-aligned throughout, matching the layout diagram: the four
// fixed header words, then imported funcs/tables/memories/globals/tags,
// then defined tables/memories (pointers), owned memories, globals,
// and func-refs, each group sized by the module's own counts and
// packed contiguously with no padding between entries (every entry in
// every group is exactly one pointer width).
type VMContextShape struct {
	offsets map[Field]uintptr
	size    uintptr
}

// NewVMContextShape computes the layout for a module with the given
// per-group element counts.
func NewVMContextShape(counts ModuleCounts) *VMContextShape {
	s := &VMContextShape{offsets: make(map[Field]uintptr, len(fieldOrder))}
	var off uintptr
	for _, f := range fieldOrder {
		s.offsets[f] = off
		off += uintptr(counts.countFor(f)) * PointerWidth
	}
	s.size = off
	return s
}

// Offset returns the byte offset of f within the VMContext, panicking
// if f is not a field this shape knows about (a JIT bug, not a runtime
// condition to recover from).
func (s *VMContextShape) Offset(f Field) uintptr {
	off, ok := s.offsets[f]
	if !ok {
		panic("wasmabi: unknown VMContext field")
	}
	return off
}

// Size returns the total byte size of the VMContext this shape
// describes.
func (s *VMContextShape) Size() uintptr { return s.size }
