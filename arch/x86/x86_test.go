package x86

import (
	"testing"

	"github.com/intuitionamiga/wdbgcore/arch"
)

func TestRegisterRoundTrip(t *testing.T) {
	a := New()
	ctx := a.NewContext()

	regs := []string{"EAX", "EBX", "ECX", "EDX", "ESI", "EDI", "EBP", "ESP", "EIP"}
	for i, name := range regs {
		want := uint64(0x1000 + i)
		if !a.WriteRegister(ctx, name, want) {
			t.Fatalf("WriteRegister(%s) reported failure", name)
		}
		got, ok := a.ReadRegister(ctx, name)
		if !ok {
			t.Fatalf("ReadRegister(%s) reported failure", name)
		}
		if got != want {
			t.Errorf("%s round-trip = 0x%x, want 0x%x", name, got, want)
		}
	}
}

func TestRegisterNameIsCaseInsensitive(t *testing.T) {
	a := New()
	ctx := a.NewContext()
	a.WriteRegister(ctx, "eax", 42)
	got, ok := a.ReadRegister(ctx, "EAX")
	if !ok || got != 42 {
		t.Errorf("case-insensitive register lookup failed: got %d, ok=%v", got, ok)
	}
}

func TestUnknownRegisterNameFails(t *testing.T) {
	a := New()
	ctx := a.NewContext()
	if _, ok := a.ReadRegister(ctx, "ZMM0"); ok {
		t.Error("ReadRegister should report failure for a register x86 doesn't have")
	}
	if a.WriteRegister(ctx, "ZMM0", 1) {
		t.Error("WriteRegister should report failure for a register x86 doesn't have")
	}
}

func TestFlagSetGetRoundTrip(t *testing.T) {
	a := New()
	ctx := a.NewContext()
	for _, f := range []arch.Flag{arch.FlagCF, arch.FlagZF, arch.FlagTF, arch.FlagOF} {
		a.SetFlag(ctx, f, true)
		if !a.GetFlag(ctx, f) {
			t.Errorf("flag %v should read true after SetFlag(true)", f)
		}
		a.SetFlag(ctx, f, false)
		if a.GetFlag(ctx, f) {
			t.Errorf("flag %v should read false after SetFlag(false)", f)
		}
	}
}

func TestInstructionPointerAndRewind(t *testing.T) {
	a := New()
	ctx := a.NewContext()
	a.InstructionPointerSet(ctx, 0x401005)
	a.ProgramCounterRewind(ctx, a.BreakpointSize())
	if got := a.InstructionPointerGet(ctx); got != 0x401004 {
		t.Errorf("IP after rewind = 0x%x, want 0x401004", got)
	}
}

func TestDebugRegisterRoundTrip(t *testing.T) {
	a := New()
	ctx := a.NewContext()
	a.SetDebugRegister(ctx, arch.DR0, 0xDEADBEEF)
	if got := a.GetDebugRegister(ctx, arch.DR0); got != 0xDEADBEEF {
		t.Errorf("DR0 = 0x%x, want 0xDEADBEEF", got)
	}
	a.SetDR7(ctx, 0x1)
	if got := a.GetDR7(ctx); got != 0x1 {
		t.Errorf("DR7 = 0x%x, want 0x1", got)
	}
}

func TestBreakpointInstruction(t *testing.T) {
	a := New()
	insn := a.BreakpointInstruction()
	if len(insn) != 1 || insn[0] != 0xCC {
		t.Errorf("BreakpointInstruction = %v, want [0xCC]", insn)
	}
	if a.BreakpointSize() != 1 {
		t.Errorf("BreakpointSize = %d, want 1", a.BreakpointSize())
	}
}
