package engine

import (
	"syscall"

	"github.com/intuitionamiga/wdbgcore/antidebug"
	"github.com/intuitionamiga/wdbgcore/arch"
	"github.com/intuitionamiga/wdbgcore/breakpoint"
	"github.com/intuitionamiga/wdbgcore/debugtarget"
	"github.com/intuitionamiga/wdbgcore/memio"
	"github.com/intuitionamiga/wdbgcore/wdbgerr"
)

// Engine is one debug session: a live Target, its architecture, its
// breakpoint manager, its memory accessor, and the callback table the
// user installed.
type Engine struct {
	Target *debugtarget.Target
	Arch   arch.Arch
	Mem    *memio.Memory
	BP     *breakpoint.Manager
	CB     Callbacks

	running bool
}

func newEngine(target *debugtarget.Target, a arch.Arch, cb Callbacks) *Engine {
	if cb == nil {
		cb = DefaultCallbacks{}
	}
	mem := memio.New(target.Debuggee.ProcessHandle, nil)
	bp := breakpoint.New(mem, a)
	mem.Shadows = bp
	return &Engine{Target: target, Arch: a, Mem: mem, BP: bp, CB: cb}
}

// GetProcessHandle returns the debuggee's process handle.
func (e *Engine) GetProcessHandle() syscall.Handle { return e.Target.Debuggee.ProcessHandle }

// GetProcessID returns the debuggee's pid.
func (e *Engine) GetProcessID() uint32 { return e.Target.Debuggee.PID }

// ASLR maps an RVA to an absolute address using the observed image base.
func (e *Engine) ASLR(rva uint64) uint64 {
	return memio.ASLR(e.Target.Debuggee.ImageBase, rva)
}

// ReadMemory reads n bytes from the debuggee at addr.
func (e *Engine) ReadMemory(addr uint64, n int) ([]byte, error) {
	return e.Mem.Read(addr, n)
}

// WriteMemory writes data into the debuggee at addr.
func (e *Engine) WriteMemory(addr uint64, data []byte) error {
	return e.Mem.Write(addr, data)
}

// SearchInMemory scans the debuggee's committed memory for pattern.
func (e *Engine) SearchInMemory(pattern memio.Pattern) ([]uint64, error) {
	return e.Mem.Search(pattern)
}

// SetBreakpoint installs a software breakpoint at addr.
func (e *Engine) SetBreakpoint(addr uint64) error {
	return e.BP.SetBreakpoint(addr)
}

// ClearBreakpoint removes the software breakpoint at addr.
func (e *Engine) ClearBreakpoint(addr uint64) error {
	return e.BP.ClearBreakpoint(addr)
}

// getThreadContext fetches a fresh context for the given thread on every
// call rather than caching one, since the underlying register file can
// change between accesses.
func (e *Engine) getThreadContext(rec *debugtarget.ThreadRec) (arch.Context, error) {
	ctx := e.Arch.NewContext()
	if err := e.Arch.GetThreadContext(rec.Handle, ctx); err != nil {
		return nil, wdbgerr.Wrap(wdbgerr.KindInvalidHandle, "GetThreadContext", 0, err)
	}
	return ctx, nil
}

func (e *Engine) setThreadContext(rec *debugtarget.ThreadRec, ctx arch.Context) error {
	if err := e.Arch.SetThreadContext(rec.Handle, ctx); err != nil {
		return wdbgerr.Wrap(wdbgerr.KindInvalidHandle, "SetThreadContext", 0, err)
	}
	return nil
}

// HideDebugger clears the PEB's BeingDebugged flag, NtGlobalFlag, and the
// default heap's debug flags, for targets that probe their own PEB to
// detect a debugger.
func (e *Engine) HideDebugger() error {
	return antidebug.HideDebugger(e.Target, e.Mem, e.Arch.PointerSize() == 8)
}

// GetRegister32 reads a 32-bit (x86) register from the named thread's
// context.
func (e *Engine) GetRegister32(tid uint32, reg arch.Register32) (uint64, error) {
	return e.GetRegister(tid, reg.String())
}

// SetRegister32 writes value into a 32-bit (x86) register on the named
// thread's context.
func (e *Engine) SetRegister32(tid uint32, reg arch.Register32, value uint64) error {
	return e.SetRegister(tid, reg.String(), value)
}

// GetRegister64 reads a 64-bit (x64) register from the named thread's
// context.
func (e *Engine) GetRegister64(tid uint32, reg arch.Register64) (uint64, error) {
	return e.GetRegister(tid, reg.String())
}

// SetRegister64 writes value into a 64-bit (x64) register on the named
// thread's context.
func (e *Engine) SetRegister64(tid uint32, reg arch.Register64, value uint64) error {
	return e.SetRegister(tid, reg.String(), value)
}

// GetRegister reads register name from the named thread's context.
func (e *Engine) GetRegister(tid uint32, name string) (uint64, error) {
	rec, ok := e.Target.Thread(tid)
	if !ok {
		return 0, wdbgerr.New(wdbgerr.KindInvalidHandle, "get_register: unknown thread")
	}
	ctx, err := e.getThreadContext(rec)
	if err != nil {
		return 0, err
	}
	v, ok := e.Arch.ReadRegister(ctx, name)
	if !ok {
		return 0, wdbgerr.Wrap(wdbgerr.KindArchMismatch, "get_register: "+name, 0, wdbgerr.ArchMismatch)
	}
	return v, nil
}

// SetRegister writes value into register name on the named thread's context.
func (e *Engine) SetRegister(tid uint32, name string, value uint64) error {
	rec, ok := e.Target.Thread(tid)
	if !ok {
		return wdbgerr.New(wdbgerr.KindInvalidHandle, "set_register: unknown thread")
	}
	ctx, err := e.getThreadContext(rec)
	if err != nil {
		return err
	}
	if !e.Arch.WriteRegister(ctx, name, value) {
		return wdbgerr.Wrap(wdbgerr.KindArchMismatch, "set_register: "+name, 0, wdbgerr.ArchMismatch)
	}
	return e.setThreadContext(rec, ctx)
}

// SetFlag sets or clears a single EFLAGS/RFLAGS bit on the named thread,
// e.g. to force a conditional jump down the opposite branch.
func (e *Engine) SetFlag(tid uint32, flag arch.Flag, value bool) error {
	rec, ok := e.Target.Thread(tid)
	if !ok {
		return wdbgerr.New(wdbgerr.KindInvalidHandle, "set_flag: unknown thread")
	}
	ctx, err := e.getThreadContext(rec)
	if err != nil {
		return err
	}
	e.Arch.SetFlag(ctx, flag, value)
	return e.setThreadContext(rec, ctx)
}

// SetHardwareBreakpoint installs a debug-register breakpoint in slot on
// every live thread in the process, so it triggers regardless of which
// thread hits it.
func (e *Engine) SetHardwareBreakpoint(addr uint64, slot arch.DRReg, access arch.AccessType, length arch.BreakpointLength) error {
	threads := make([]*debugtarget.ThreadRec, 0, len(e.Target.Threads))
	for _, rec := range e.Target.Threads {
		threads = append(threads, rec)
	}
	return e.BP.SetHardwareBreakpoint(threads, e.getThreadContext, e.setThreadContext, addr, slot, access, length)
}

// ClearHardwareBreakpoint removes the debug-register breakpoint in slot
// from every live thread in the process.
func (e *Engine) ClearHardwareBreakpoint(slot arch.DRReg) error {
	threads := make([]*debugtarget.ThreadRec, 0, len(e.Target.Threads))
	for _, rec := range e.Target.Threads {
		threads = append(threads, rec)
	}
	return e.BP.ClearHardwareBreakpoint(threads, e.getThreadContext, e.setThreadContext, slot)
}
