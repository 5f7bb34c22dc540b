package boot_test

import (
	"testing"

	"github.com/k23-systems/kcore/internal/addr"
	"github.com/k23-systems/kcore/internal/boot"
)

func TestBoardInfoBuilderBuildsWhenComplete(t *testing.T) {
	var b boot.BoardInfoBuilder
	b.AddCPU()
	b.AddCPU()
	b.SetBaseFrequency(10_000_000)
	b.SetSerial(boot.AddrRange{Start: 0x1000_0000, End: 0x1000_0100}, 3_686_400)
	b.SetCLINT(boot.AddrRange{Start: 0x0200_0000, End: 0x0201_0000})
	b.SetMemory(boot.AddrRange{Start: addr.Phys(0x8000_0000), End: addr.Phys(0x8800_0000)})

	info, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if info.CPUs != 2 {
		t.Fatalf("CPUs = %d, want 2", info.CPUs)
	}
	if info.QEMUTest != nil {
		t.Fatal("QEMUTest should be nil when never set")
	}
	if info.Memory.Len() != 0x0800_0000 {
		t.Fatalf("Memory.Len() = %#x, want 0x8000000", info.Memory.Len())
	}
}

func TestBoardInfoBuilderReportsMissingField(t *testing.T) {
	var b boot.BoardInfoBuilder
	b.SetBaseFrequency(1)
	_, err := b.Build()
	var mfe *boot.MissingFieldError
	if err == nil {
		t.Fatal("expected an error when serial info was never set")
	}
	if !asMissingField(err, &mfe) {
		t.Fatalf("err = %v, want *MissingFieldError", err)
	}
	if mfe.Field != "serial.regs" {
		t.Fatalf("Field = %q, want %q", mfe.Field, "serial.regs")
	}
}

func asMissingField(err error, target **boot.MissingFieldError) bool {
	if mfe, ok := err.(*boot.MissingFieldError); ok {
		*target = mfe
		return true
	}
	return false
}
