//go:build windows

// These tests exercise the manager against the test binary's own address
// space: Windows lets a process call ReadProcessMemory/WriteProcessMemory
// against its own pseudo-handle (windows.CurrentProcess()), which gives
// breakpoint tests a real, writable target without spawning a debuggee.
package breakpoint

import (
	"syscall"
	"testing"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/intuitionamiga/wdbgcore/arch"
	"github.com/intuitionamiga/wdbgcore/arch/x86"
	"github.com/intuitionamiga/wdbgcore/debugtarget"
	"github.com/intuitionamiga/wdbgcore/memio"
)

func selfMemory() *memio.Memory {
	return memio.New(syscall.Handle(windows.CurrentProcess()), nil)
}

func addrOf(buf []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(&buf[0])))
}

func TestSetBreakpointPatchesAndRestoresTransparently(t *testing.T) {
	buf := []byte{0x90, 0x90, 0x90, 0x90}
	addr := addrOf(buf)
	mem := selfMemory()
	m := New(mem, x86.New())
	mem.Shadows = m

	if err := m.SetBreakpoint(addr); err != nil {
		t.Fatalf("SetBreakpoint failed: %v", err)
	}
	if buf[0] != 0xCC {
		t.Fatalf("expected 0xCC patched into memory, got 0x%x", buf[0])
	}

	// Reads must be breakpoint-transparent: they should see the original byte.
	got, err := mem.Read(addr, 1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got[0] != 0x90 {
		t.Errorf("Read returned 0x%x, want the original 0x90 (shadow not patched out)", got[0])
	}

	if err := m.ClearBreakpoint(addr); err != nil {
		t.Fatalf("ClearBreakpoint failed: %v", err)
	}
	if buf[0] != 0x90 {
		t.Errorf("expected original byte restored, got 0x%x", buf[0])
	}
}

func TestSetBreakpointRejectsDuplicate(t *testing.T) {
	buf := []byte{0x90}
	addr := addrOf(buf)
	mem := selfMemory()
	m := New(mem, x86.New())
	mem.Shadows = m

	if err := m.SetBreakpoint(addr); err != nil {
		t.Fatalf("first SetBreakpoint failed: %v", err)
	}
	if err := m.SetBreakpoint(addr); err == nil {
		t.Error("second SetBreakpoint at the same address should fail")
	}
	m.ClearBreakpoint(addr)
}

func TestClearUnknownBreakpointFails(t *testing.T) {
	m := New(selfMemory(), x86.New())
	if err := m.ClearBreakpoint(0x12345678); err == nil {
		t.Error("ClearBreakpoint on an address with no breakpoint should fail")
	}
}

func TestHandleBreakpointHitActionBreakDisablesPermanently(t *testing.T) {
	buf := []byte{0x90}
	addr := addrOf(buf)
	mem := selfMemory()
	m := New(mem, x86.New())
	mem.Shadows = m
	m.SetBreakpoint(addr)

	a := x86.New()
	ctx := a.NewContext()
	thread := &debugtarget.ThreadRec{TID: 1}

	known, err := m.HandleBreakpointHit(thread, ctx, addr, ActionBreak)
	if err != nil {
		t.Fatalf("HandleBreakpointHit failed: %v", err)
	}
	if !known {
		t.Fatal("expected addr to be recognized as a known breakpoint")
	}
	if buf[0] != 0x90 {
		t.Errorf("ActionBreak should leave the original byte restored, got 0x%x", buf[0])
	}
	if thread.Step.Kind != debugtarget.StepNone {
		t.Errorf("ActionBreak should leave Step.Kind = StepNone, got %v", thread.Step.Kind)
	}
	if m.HasBreakpoint(addr) {
		t.Error("ActionBreak should disable the breakpoint, not just restore the byte once")
	}
}

func TestHandleBreakpointHitActionRestoreArmsSingleStep(t *testing.T) {
	buf := []byte{0x90}
	addr := addrOf(buf)
	mem := selfMemory()
	m := New(mem, x86.New())
	mem.Shadows = m
	m.SetBreakpoint(addr)

	a := x86.New()
	ctx := a.NewContext()
	thread := &debugtarget.ThreadRec{TID: 1}

	if _, err := m.HandleBreakpointHit(thread, ctx, addr, ActionRestore); err != nil {
		t.Fatalf("HandleBreakpointHit failed: %v", err)
	}
	if !a.GetFlag(ctx, arch.FlagTF) {
		t.Error("ActionRestore should set the trap flag to single-step over the restored instruction")
	}
	if thread.Step.Kind != debugtarget.StepResumingSW || thread.Step.BPAddress != addr {
		t.Errorf("thread.Step = %+v, want {StepResumingSW, %d}", thread.Step, addr)
	}

	if ok, err := m.HandleSingleStepRearm(thread, ctx); err != nil || !ok {
		t.Fatalf("HandleSingleStepRearm: ok=%v err=%v", ok, err)
	}
	if buf[0] != 0xCC {
		t.Errorf("HandleSingleStepRearm should re-arm 0xCC, got 0x%x", buf[0])
	}
	if a.GetFlag(ctx, arch.FlagTF) {
		t.Error("HandleSingleStepRearm should clear the trap flag")
	}
	if thread.Step.Kind != debugtarget.StepNone {
		t.Errorf("thread.Step.Kind after rearm = %v, want StepNone", thread.Step.Kind)
	}
	m.ClearBreakpoint(addr)
}

func TestHardwareBreakpointDR7Fields(t *testing.T) {
	a := x86.New()
	ctx := a.NewContext()
	m := New(selfMemory(), a)
	thread := &debugtarget.ThreadRec{TID: 1}

	getCtx := func(*debugtarget.ThreadRec) (arch.Context, error) { return ctx, nil }
	setCtx := func(*debugtarget.ThreadRec, arch.Context) error { return nil }

	err := m.SetHardwareBreakpoint([]*debugtarget.ThreadRec{thread}, getCtx, setCtx,
		0x401000, arch.DR1, arch.AccessWrite, arch.LengthDword)
	if err != nil {
		t.Fatalf("SetHardwareBreakpoint failed: %v", err)
	}

	if got := a.GetDebugRegister(ctx, arch.DR1); got != 0x401000 {
		t.Errorf("DR1 = 0x%x, want 0x401000", got)
	}
	dr7 := a.GetDR7(ctx)
	if dr7&(1<<2) == 0 {
		t.Error("DR7 local-enable bit for DR1 should be set")
	}
	typeBits := (dr7 >> (16 + 1*4)) & 0x3
	if typeBits != 0x1 {
		t.Errorf("DR7 type field for DR1 = %d, want 0x1 (write)", typeBits)
	}
	lenBits := (dr7 >> (18 + 1*4)) & 0x3
	if lenBits != 0x3 {
		t.Errorf("DR7 length field for DR1 = %d, want 0x3 (4 bytes)", lenBits)
	}

	if err := m.ClearHardwareBreakpoint([]*debugtarget.ThreadRec{thread}, getCtx, setCtx, arch.DR1); err != nil {
		t.Fatalf("ClearHardwareBreakpoint failed: %v", err)
	}
	if got := a.GetDR7(ctx); got&(1<<2) != 0 {
		t.Errorf("DR7 local-enable bit should be cleared after ClearHardwareBreakpoint, got 0x%x", got)
	}
}

func TestMatchedSlotPicksLowestIndex(t *testing.T) {
	m := New(selfMemory(), x86.New())
	if got := m.MatchedSlot(0); got != -1 {
		t.Errorf("MatchedSlot(0) = %d, want -1", got)
	}
	if got := m.MatchedSlot(0b1010); got != 1 {
		t.Errorf("MatchedSlot(0b1010) = %d, want 1 (lowest set bit)", got)
	}
}
