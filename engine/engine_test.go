//go:build windows

package engine

import (
	"syscall"
	"testing"

	"github.com/intuitionamiga/wdbgcore/arch"
	"github.com/intuitionamiga/wdbgcore/debugtarget"
)

// fakeContext/fakeArch stand in for a real CONTEXT so the control-surface
// dispatch in engine.go (GetRegister/SetRegister/SetFlag) can be tested
// without a live debuggee or any Windows syscall.
type fakeContext struct {
	regs  map[string]uint64
	flags map[arch.Flag]bool
}

func (c *fakeContext) Native() any { return c }

// fakeArch keeps one saved register file standing in for the thread's:
// GetThreadContext copies it into ctx and SetThreadContext copies ctx
// back, so values persist across the engine's fresh-context fetches.
type fakeArch struct{ thread *fakeContext }

func (fakeArch) Name() string     { return "fake" }
func (fakeArch) PointerSize() int { return 8 }
func (fakeArch) NewContext() arch.Context {
	return &fakeContext{regs: map[string]uint64{}, flags: map[arch.Flag]bool{}}
}
func (a fakeArch) GetThreadContext(_ syscall.Handle, ctx arch.Context) error {
	copyFakeContext(ctx.(*fakeContext), a.thread)
	return nil
}
func (a fakeArch) SetThreadContext(_ syscall.Handle, ctx arch.Context) error {
	copyFakeContext(a.thread, ctx.(*fakeContext))
	return nil
}
func copyFakeContext(dst, src *fakeContext) {
	for k, v := range src.regs {
		dst.regs[k] = v
	}
	for k, v := range src.flags {
		dst.flags[k] = v
	}
}
func (fakeArch) ReadRegister(ctx arch.Context, name string) (uint64, bool) {
	v, ok := ctx.(*fakeContext).regs[name]
	return v, ok
}
func (fakeArch) WriteRegister(ctx arch.Context, name string, value uint64) bool {
	ctx.(*fakeContext).regs[name] = value
	return true
}
func (fakeArch) SetFlag(ctx arch.Context, flag arch.Flag, set bool) {
	ctx.(*fakeContext).flags[flag] = set
}
func (fakeArch) GetFlag(ctx arch.Context, flag arch.Flag) bool {
	return ctx.(*fakeContext).flags[flag]
}
func (fakeArch) InstructionPointerGet(arch.Context) uint64          { return 0 }
func (fakeArch) InstructionPointerSet(arch.Context, uint64)         {}
func (fakeArch) ProgramCounterRewind(arch.Context, uint64)          {}
func (fakeArch) GetDebugRegister(arch.Context, arch.DRReg) uint64   { return 0 }
func (fakeArch) SetDebugRegister(arch.Context, arch.DRReg, uint64)  {}
func (fakeArch) GetDR6(arch.Context) uint64                         { return 0 }
func (fakeArch) SetDR6(arch.Context, uint64)                        {}
func (fakeArch) GetDR7(arch.Context) uint64                         { return 0 }
func (fakeArch) SetDR7(arch.Context, uint64)                        {}
func (fakeArch) BreakpointInstruction() []byte                      { return []byte{0xCC} }
func (fakeArch) BreakpointSize() uint64                             { return 1 }

func newTestEngine() *Engine {
	target := debugtarget.New(&debugtarget.Debuggee{PID: 1})
	target.AddThread(1, 0)
	thread := fakeArch{}.NewContext().(*fakeContext)
	return newEngine(target, fakeArch{thread: thread}, nil)
}

func TestGetSetRegisterRoundTrip(t *testing.T) {
	e := newTestEngine()
	if err := e.SetRegister(1, "RAX", 0x42); err != nil {
		t.Fatalf("SetRegister failed: %v", err)
	}
	got, err := e.GetRegister(1, "RAX")
	if err != nil {
		t.Fatalf("GetRegister failed: %v", err)
	}
	if got != 0x42 {
		t.Errorf("GetRegister = 0x%x, want 0x42", got)
	}
}

func TestGetRegisterUnknownThreadFails(t *testing.T) {
	e := newTestEngine()
	if _, err := e.GetRegister(999, "RAX"); err == nil {
		t.Error("GetRegister should fail for an unknown thread id")
	}
}

func TestSetFlagRoundTrip(t *testing.T) {
	e := newTestEngine()
	if err := e.SetFlag(1, arch.FlagZF, true); err != nil {
		t.Fatalf("SetFlag failed: %v", err)
	}
	rec, _ := e.Target.Thread(1)
	ctx, err := e.getThreadContext(rec)
	if err != nil {
		t.Fatalf("getThreadContext failed: %v", err)
	}
	if !e.Arch.GetFlag(ctx, arch.FlagZF) {
		t.Error("ZF should read true after SetFlag(1, FlagZF, true)")
	}
}

func TestASLRUsesObservedImageBase(t *testing.T) {
	e := newTestEngine()
	e.Target.Debuggee.ImageBase = 0x140000000
	if got := e.ASLR(0x2000); got != 0x140002000 {
		t.Errorf("ASLR = 0x%x, want 0x140002000", got)
	}
}

func TestGetProcessIDAndHandle(t *testing.T) {
	e := newTestEngine()
	if e.GetProcessID() != 1 {
		t.Errorf("GetProcessID = %d, want 1", e.GetProcessID())
	}
	_ = e.GetProcessHandle()
}
