//go:build windows

package engine

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/intuitionamiga/wdbgcore/arch"
	"github.com/intuitionamiga/wdbgcore/arch/x64"
	"github.com/intuitionamiga/wdbgcore/arch/x86"
	"github.com/intuitionamiga/wdbgcore/debugtarget"
	"github.com/intuitionamiga/wdbgcore/wdbgerr"
	"github.com/intuitionamiga/wdbgcore/winapi"
)

const processAllAccess = 0x1F0FFF

// Launch starts cmdLine suspended-as-debuggee and attaches as its
// debugger via DEBUG_ONLY_THIS_PROCESS, returning an Engine whose Loop
// has not yet been started. cb may be nil, in which case
// DefaultCallbacks is used.
func Launch(cmdLine string, cb Callbacks) (*Engine, error) {
	var si windows.StartupInfo
	var pi windows.ProcessInformation
	cmdLinePtr, err := windows.UTF16PtrFromString(cmdLine)
	if err != nil {
		return nil, wdbgerr.Wrap(wdbgerr.KindAttachFailed, "launch: bad command line", 0, err)
	}
	si.Cb = uint32(unsafe.Sizeof(si))

	err = windows.CreateProcess(
		nil, cmdLinePtr, nil, nil, false,
		windows.CREATE_NEW_CONSOLE|winapi.DebugOnlyThisProcess,
		nil, nil, &si, &pi)
	if err != nil {
		return nil, wdbgerr.Wrap(wdbgerr.KindAttachFailed, "CreateProcess", 0, err)
	}

	d := &debugtarget.Debuggee{
		PID:           pi.ProcessId,
		ProcessHandle: syscall.Handle(pi.Process),
		Attached:      false,
	}
	a, bitness := selectArch(d.ProcessHandle)
	d.Bitness = bitness
	target := debugtarget.New(d)
	e := newEngine(target, a, cb)
	windows.CloseHandle(pi.Thread)
	return e, nil
}

// Attach attaches to an already-running process by pid.
func Attach(pid uint32, cb Callbacks) (*Engine, error) {
	if err := winapi.DebugActiveProcess(pid); err != nil {
		return nil, wdbgerr.Wrap(wdbgerr.KindAttachFailed, "DebugActiveProcess", 0, err)
	}
	handle, err := windows.OpenProcess(processAllAccess, false, pid)
	if err != nil {
		winapi.DebugActiveProcessStop(pid)
		return nil, wdbgerr.Wrap(wdbgerr.KindAttachFailed, "OpenProcess", 0, err)
	}
	d := &debugtarget.Debuggee{
		PID:           pid,
		ProcessHandle: syscall.Handle(handle),
		Attached:      true,
	}
	a, bitness := selectArch(d.ProcessHandle)
	d.Bitness = bitness
	target := debugtarget.New(d)
	return newEngine(target, a, cb), nil
}

// Detach stops debugging and lets the debuggee run free, clearing every
// installed breakpoint and hardware debug register first on a
// best-effort basis so it leaves no trace.
func (e *Engine) Detach() error {
	for _, addr := range e.BP.ListBreakpoints() {
		e.BP.ClearBreakpoint(addr)
	}
	threads := make([]*debugtarget.ThreadRec, 0, len(e.Target.Threads))
	for _, rec := range e.Target.Threads {
		threads = append(threads, rec)
	}
	for slot := arch.DRReg(0); slot < 4; slot++ {
		e.BP.ClearHardwareBreakpoint(threads, e.getThreadContext, e.setThreadContext, slot)
	}
	e.running = false
	if err := winapi.DebugActiveProcessStop(e.Target.Debuggee.PID); err != nil {
		return wdbgerr.Wrap(wdbgerr.KindDetachFailed, "DebugActiveProcessStop", 0, err)
	}
	return nil
}

// Terminate kills the debuggee outright.
func (e *Engine) Terminate() error {
	e.running = false
	if err := windows.TerminateProcess(windows.Handle(e.Target.Debuggee.ProcessHandle), 1); err != nil {
		return wdbgerr.Wrap(wdbgerr.KindDetachFailed, "TerminateProcess", 0, err)
	}
	return nil
}

// selectArch probes the debuggee's WOW64 status to pick the register
// layout to drive: a 32-bit process running under WOW64 on 64-bit
// Windows still exposes 32-bit CONTEXT semantics to the debugger. The
// observed bitness is reported back so it can be recorded on the
// Debuggee alongside the Arch it drives.
func selectArch(process syscall.Handle) (arch.Arch, debugtarget.Bitness) {
	var isWow64 bool
	windows.IsWow64Process(windows.Handle(process), &isWow64)
	if isWow64 {
		return x86.New(), debugtarget.Bitness32
	}
	return x64.New(), debugtarget.Bitness64
}
