package x64

import (
	"testing"

	"github.com/intuitionamiga/wdbgcore/arch"
	"github.com/intuitionamiga/wdbgcore/winapi"
)

func TestRegisterRoundTrip(t *testing.T) {
	a := New()
	ctx := a.NewContext()

	regs := []string{"RAX", "RBX", "RCX", "RDX", "RSI", "RDI", "RBP", "RSP", "RIP", "R8", "R15"}
	for i, name := range regs {
		want := uint64(0x100000000 + i)
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

func TestFlagSetGetRoundTrip(t *testing.T) {
	a := New()
	ctx := a.NewContext()
	a.SetFlag(ctx, arch.FlagZF, true)
	if !a.GetFlag(ctx, arch.FlagZF) {
		t.Error("ZF should read true after SetFlag(true)")
	}
	a.SetFlag(ctx, arch.FlagZF, false)
	if a.GetFlag(ctx, arch.FlagZF) {
		t.Error("ZF should read false after SetFlag(false)")
	}
}

func TestInstructionPointerAndRewind(t *testing.T) {
	a := New()
	ctx := a.NewContext()
	a.InstructionPointerSet(ctx, 0x140001005)
	a.ProgramCounterRewind(ctx, a.BreakpointSize())
	if got := a.InstructionPointerGet(ctx); got != 0x140001004 {
		t.Errorf("IP after rewind = 0x%x, want 0x140001004", got)
	}
}

func TestDebugRegisterAndDR6RoundTrip(t *testing.T) {
	a := New()
	ctx := a.NewContext()
	a.SetDebugRegister(ctx, arch.DR2, 0x7FF600000000)
	if got := a.GetDebugRegister(ctx, arch.DR2); got != 0x7FF600000000 {
		t.Errorf("DR2 = 0x%x, want 0x7FF600000000", got)
	}
	a.SetDR6(ctx, 0xF)
	if got := a.GetDR6(ctx); got != 0xF {
		t.Errorf("DR6 = 0x%x, want 0xF", got)
	}
}

func TestNewContextSetsDebugFlags(t *testing.T) {
	a := New()
	ctx := a.NewContext()
	native, ok := ctx.Native().(*winapi.Context64)
	if !ok {
		t.Fatalf("Native() returned %T, want *winapi.Context64", ctx.Native())
	}
	if native.ContextFlags&winapi.ContextAmd64Debug == 0 {
		t.Error("NewContext should set CONTEXT_DEBUG_REGISTERS so DR0-DR7 round-trip through Get/SetThreadContext")
	}
}
