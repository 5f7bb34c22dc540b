package main

import (
	"fmt"
	"strconv"

	"github.com/k23-systems/kcore/internal/wasmabi"
)

var vmContextFields = []wasmabi.Field{
	wasmabi.FieldMagic,
	wasmabi.FieldBuiltinTable,
	wasmabi.FieldStoreContext,
	wasmabi.FieldStackLimit,
	wasmabi.FieldImportedFuncs,
	wasmabi.FieldImportedTables,
	wasmabi.FieldImportedMemories,
	wasmabi.FieldImportedGlobals,
	wasmabi.FieldImportedTags,
	wasmabi.FieldDefinedTables,
	wasmabi.FieldDefinedMemories,
	wasmabi.FieldOwnedMemories,
	wasmabi.FieldDefinedGlobals,
	wasmabi.FieldDefinedFuncRefs,
}

var vmContextFieldNames = map[wasmabi.Field]string{
	wasmabi.FieldMagic:            "magic",
	wasmabi.FieldBuiltinTable:     "builtin_table",
	wasmabi.FieldStoreContext:     "store_context",
	wasmabi.FieldStackLimit:       "stack_limit",
	wasmabi.FieldImportedFuncs:    "imported_funcs",
	wasmabi.FieldImportedTables:   "imported_tables",
	wasmabi.FieldImportedMemories: "imported_memories",
	wasmabi.FieldImportedGlobals:  "imported_globals",
	wasmabi.FieldImportedTags:     "imported_tags",
	wasmabi.FieldDefinedTables:    "defined_tables",
	wasmabi.FieldDefinedMemories:  "defined_memories",
	wasmabi.FieldOwnedMemories:    "owned_memories",
	wasmabi.FieldDefinedGlobals:   "defined_globals",
	wasmabi.FieldDefinedFuncRefs:  "defined_func_refs",
}

func runVMContext(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("vmcontext: want <imported-funcs> <defined-memories>")
	}
	importedFuncs, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("vmcontext: imported-funcs: %w", err)
	}
	definedMemories, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("vmcontext: defined-memories: %w", err)
	}

	counts := wasmabi.ModuleCounts{
		ImportedFuncs:   importedFuncs,
		DefinedMemories: definedMemories,
	}
	shape := wasmabi.NewVMContextShape(counts)

	for _, f := range vmContextFields {
		fmt.Printf("%-20s %d\n", vmContextFieldNames[f], shape.Offset(f))
	}
	fmt.Printf("%-20s %d\n", "total_size", shape.Size())
	return nil
}
