package wasmabi_test

import (
	"testing"

	"github.com/k23-systems/kcore/internal/wasmabi"
)

func TestTrapCodeValuesMatchSpec(t *testing.T) {
	cases := []struct {
		code wasmabi.TrapCode
		want int
	}{
		{wasmabi.InternalAssertionFailed, 0},
		{wasmabi.HeapMisaligned, 1},
		{wasmabi.TableOutOfBounds, 2},
		{wasmabi.IndirectCallToNull, 3},
		{wasmabi.BadSignature, 4},
		{wasmabi.UnreachableCodeReached, 5},
		{wasmabi.NullReference, 6},
		{wasmabi.NullI31Ref, 7},
		{wasmabi.StackOverflow, 8},
		{wasmabi.MemoryOutOfBounds, 9},
		{wasmabi.IntegerOverflow, 10},
		{wasmabi.IntegerDivisionByZero, 11},
		{wasmabi.BadConversionToInteger, 12},
	}
	for _, c := range cases {
		if int(c.code) != c.want {
			t.Errorf("%v = %d, want %d", c.code, c.code, c.want)
		}
		if !c.code.Valid() {
			t.Errorf("%v.Valid() = false, want true", c.code)
		}
	}
}

func TestTrapCodeOutOfRangeIsInvalid(t *testing.T) {
	c := wasmabi.TrapCode(13)
	if c.Valid() {
		t.Fatal("TrapCode(13) should be invalid — only 0-12 are defined")
	}
}

func TestOSABIValue(t *testing.T) {
	if wasmabi.OSABI != 0xDF {
		t.Fatalf("OSABI = %#x, want 0xDF", wasmabi.OSABI)
	}
}

func TestVMContextShapeFixedHeaderOrder(t *testing.T) {
	s := wasmabi.NewVMContextShape(wasmabi.ModuleCounts{})
	if off := s.Offset(wasmabi.FieldMagic); off != 0 {
		t.Fatalf("magic offset = %d, want 0", off)
	}
	if off := s.Offset(wasmabi.FieldBuiltinTable); off != wasmabi.PointerWidth {
		t.Fatalf("builtin table offset = %d, want %d", off, wasmabi.PointerWidth)
	}
	if off := s.Offset(wasmabi.FieldStoreContext); off != 2*wasmabi.PointerWidth {
		t.Fatalf("store context offset = %d, want %d", off, 2*wasmabi.PointerWidth)
	}
	if off := s.Offset(wasmabi.FieldStackLimit); off != 3*wasmabi.PointerWidth {
		t.Fatalf("stack limit offset = %d, want %d", off, 3*wasmabi.PointerWidth)
	}
}

func TestVMContextShapeVariableGroupsAreSizedByCounts(t *testing.T) {
	counts := wasmabi.ModuleCounts{
		ImportedFuncs:  3,
		ImportedTables: 1,
		DefinedTables:  2,
	}
	s := wasmabi.NewVMContextShape(counts)

	headerEnd := uintptr(4 * wasmabi.PointerWidth)
	if off := s.Offset(wasmabi.FieldImportedFuncs); off != headerEnd {
		t.Fatalf("imported funcs offset = %d, want %d", off, headerEnd)
	}
	wantImportedTables := headerEnd + 3*wasmabi.PointerWidth
	if off := s.Offset(wasmabi.FieldImportedTables); off != wantImportedTables {
		t.Fatalf("imported tables offset = %d, want %d", off, wantImportedTables)
	}
	// ImportedMemories/Globals/Tags all have count 0 so DefinedTables
	// immediately follows ImportedTables's one entry.
	wantDefinedTables := wantImportedTables + 1*wasmabi.PointerWidth
	if off := s.Offset(wasmabi.FieldDefinedTables); off != wantDefinedTables {
		t.Fatalf("defined tables offset = %d, want %d", off, wantDefinedTables)
	}
	wantSize := wantDefinedTables + 2*wasmabi.PointerWidth
	if s.Size() != wantSize {
		t.Fatalf("Size() = %d, want %d", s.Size(), wantSize)
	}
}

func TestVMContextShapeOffsetPanicsOnUnknownField(t *testing.T) {
	s := wasmabi.NewVMContextShape(wasmabi.ModuleCounts{})
	defer func() {
		if recover() == nil {
			t.Fatal("expected Offset to panic on an unknown field")
		}
	}()
	s.Offset(wasmabi.Field(999))
}

func TestSectionsIncludesAllK23Sections(t *testing.T) {
	want := []string{".k23.traps", ".k23.info", ".k23.bti", ".k23.engine", ".k23.dwarf"}
	for _, name := range want {
		found := false
		for _, s := range wasmabi.Sections {
			if s == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Sections missing %q", name)
		}
	}
}
