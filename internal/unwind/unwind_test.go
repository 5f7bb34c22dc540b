package unwind_test

import (
	"errors"
	"testing"

	"github.com/k23-systems/kcore/internal/unwind"
)

// buildStack constructs a tiny two-frame synthetic stack: frame A called
// frame B, which is currently executing at pc=0x2050. Frame B's row says
// its caller's RA is read from the stack at cfa-8, and SP is simply the
// CFA (a typical RISC-V prologue shape: "sd ra,-8(sp); addi sp,sp,-16").
func buildStack(t *testing.T) (unwind.Context, *unwind.CFITable, unwind.Memory) {
	t.Helper()
	// frame B: pc in [0x2000, 0x2100), CFA = sp + 16, caller RA stored at
	// cfa-8.
	rowB := unwind.Row{
		Low: 0x2000, High: 0x2100,
		CFA:   unwind.CFARule{Register: unwind.RegSP, Offset: 16},
		Rules: map[int]unwind.RegisterRule{unwind.RegRA: {Kind: unwind.RuleOffset, Value: -8}},
	}
	// frame A: pc in [0x1000, 0x1100), returns to the (synthetic) stack
	// bottom: RA rule resolves to 0, ending the walk.
	rowA := unwind.Row{
		Low: 0x1000, High: 0x1100,
		CFA:   unwind.CFARule{Register: unwind.RegSP, Offset: 16},
		Rules: map[int]unwind.RegisterRule{unwind.RegRA: {Kind: unwind.RuleConstant, Value: 0}},
	}
	table := unwind.NewCFITable([]unwind.Row{rowB, rowA})

	ctx := unwind.Context{RA: 0x2050, SP: 0x7000}
	mem := unwind.Memory(func(addr uintptr) (uintptr, error) {
		if addr == 0x7000+16-8 { // cfa(=0x7010) - 8
			return 0x1050, nil
		}
		return 0, errors.New("unmapped stack address")
	})
	return ctx, table, mem
}

func TestRowForFindsCoveringRow(t *testing.T) {
	_, table, _ := buildStack(t)
	row, ok := table.RowFor(0x2050)
	if !ok || row.Low != 0x2000 {
		t.Fatalf("RowFor(0x2050) = %v, %v", row, ok)
	}
	if _, ok := table.RowFor(0x9999); ok {
		t.Fatal("RowFor should miss a pc with no covering row")
	}
}

func TestWalkProducesBothFramesThenStops(t *testing.T) {
	ctx, table, mem := buildStack(t)
	frames, err := unwind.Walk(ctx, table, mem)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("len(frames) = %d, want 2", len(frames))
	}
	if frames[0].PC != 0x2050 {
		t.Fatalf("frames[0].PC = %#x, want 0x2050", frames[0].PC)
	}
	if frames[1].PC != 0x1050 {
		t.Fatalf("frames[1].PC = %#x, want 0x1050", frames[1].PC)
	}
}

func TestWalkReportsNoUnwindInfo(t *testing.T) {
	ctx := unwind.Context{RA: 0xdead, SP: 0x7000}
	table := unwind.NewCFITable(nil)
	if _, err := unwind.Walk(ctx, table, func(uintptr) (uintptr, error) { return 0, nil }); !errors.Is(err, unwind.ErrNoUnwindInfo) {
		t.Fatalf("err = %v, want ErrNoUnwindInfo", err)
	}
}

func TestWalkReportsNoUnwindFrame(t *testing.T) {
	row := unwind.Row{Low: 0x1000, High: 0x1100, NoUnwind: true}
	table := unwind.NewCFITable([]unwind.Row{row})
	ctx := unwind.Context{RA: 0x1050, SP: 0x7000}
	if _, err := unwind.Walk(ctx, table, func(uintptr) (uintptr, error) { return 0, nil }); !errors.Is(err, unwind.ErrNoUnwind) {
		t.Fatalf("err = %v, want ErrNoUnwind", err)
	}
}

func TestStepRejectsDWARFExpressionCFA(t *testing.T) {
	row := unwind.Row{Low: 0x1000, High: 0x1100, CFA: unwind.CFARule{Register: unwind.RegCFAExpression}}
	ctx := unwind.Context{RA: 0x1050, SP: 0x7000}
	if err := unwind.Step(&ctx, &row, nil); !errors.Is(err, unwind.ErrDWARFExpression) {
		t.Fatalf("err = %v, want ErrDWARFExpression", err)
	}
}

func TestCatchUnwindRecoversPanicPayload(t *testing.T) {
	var g unwind.PanicGuard
	payload, recovered := unwind.CatchUnwind(&g, func() { panic("boom") })
	if !recovered || payload != "boom" {
		t.Fatalf("payload, recovered = %v, %v; want boom, true", payload, recovered)
	}
	if g.Unwinding() {
		t.Fatal("guard should not still be unwinding after CatchUnwind returns")
	}
}

func TestCatchUnwindReturnsNotRecoveredOnNormalReturn(t *testing.T) {
	var g unwind.PanicGuard
	payload, recovered := unwind.CatchUnwind(&g, func() {})
	if recovered || payload != nil {
		t.Fatalf("payload, recovered = %v, %v; want nil, false", payload, recovered)
	}
}

func TestCatchUnwindRunsCleanupsBeforeRecovering(t *testing.T) {
	var g unwind.PanicGuard
	var ran []string
	unwind.CatchUnwind(&g, func() {
		defer func() { ran = append(ran, "inner") }()
		defer func() { ran = append(ran, "outer") }()
		panic("boom")
	})
	if len(ran) != 2 || ran[0] != "inner" || ran[1] != "outer" {
		t.Fatalf("ran = %v, want [inner outer] (LIFO defer order)", ran)
	}
}

func TestDoublePanicDuringCleanupRoutesToAbort(t *testing.T) {
	var g unwind.PanicGuard
	var aborted any
	origAbort := unwind.Abort
	unwind.Abort = func(payload any) { aborted = payload }
	defer func() { unwind.Abort = origAbort }()

	// outer CatchUnwind's cleanup triggers a second, nested CatchUnwind
	// on the SAME guard while the outer one is still unwinding.
	unwind.CatchUnwind(&g, func() {
		defer func() {
			unwind.CatchUnwind(&g, func() { panic("second panic") })
		}()
		panic("first panic")
	})
	if aborted != "second panic" {
		t.Fatalf("aborted = %v, want %q", aborted, "second panic")
	}
}

func TestResumeUnwindRepanics(t *testing.T) {
	var g unwind.PanicGuard
	payload, _ := unwind.CatchUnwind(&g, func() { panic("original") })

	outer, recovered := unwind.CatchUnwind(&g, func() { unwind.ResumeUnwind(payload) })
	if !recovered || outer != "original" {
		t.Fatalf("outer, recovered = %v, %v; want original, true", outer, recovered)
	}
}

func TestPanicRunsRegisteredHookBeforeUnwinding(t *testing.T) {
	var got unwind.PanicHookInfo
	orig := unwind.Hook
	unwind.Hook = func(info unwind.PanicHookInfo) { got = info }
	defer func() { unwind.Hook = orig }()

	var g unwind.PanicGuard
	payload, recovered := unwind.CatchUnwind(&g, func() {
		unwind.Panic("somewhere.go:42", true, "trouble")
	})
	if !recovered || payload != "trouble" {
		t.Fatalf("payload, recovered = %v, %v", payload, recovered)
	}
	if got.Payload != "trouble" || got.Location != "somewhere.go:42" || !got.CanUnwind {
		t.Fatalf("hook info = %+v", got)
	}
}
