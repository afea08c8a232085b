//go:build windows

package engine

import (
	"context"
	"errors"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/intuitionamiga/wdbgcore/arch"
	"github.com/intuitionamiga/wdbgcore/debugtarget"
	"github.com/intuitionamiga/wdbgcore/wdbgerr"
	"github.com/intuitionamiga/wdbgcore/winapi"
)

// errSemTimeout is ERROR_SEM_TIMEOUT, what WaitForDebugEvent returns when
// its millis budget elapses with no event pending — a normal poll result,
// not a failure.
const errSemTimeout = syscall.Errno(121)

// loopPollMillis bounds how long a single WaitForDebugEvent call blocks,
// so Loop can notice ctx cancellation between events instead of only at
// EXIT_PROCESS.
const loopPollMillis = 200

// Loop runs the single-threaded dispatch loop: wait for the next debug
// event, hand it to the matching handler, decide the continuation
// status, and repeat until the debuggee's last thread exits,
// Stop/Detach/Terminate is called, or ctx is cancelled. It owns the
// debugger thread for its whole lifetime — Windows requires debug events
// to be waited on and continued from the same thread that attached. A
// nil ctx behaves like context.Background().
func (e *Engine) Loop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.running = true
	for e.running {
		select {
		case <-ctx.Done():
			e.running = false
			return ctx.Err()
		default:
		}

		var ev winapi.DebugEvent
		if err := winapi.WaitForDebugEvent(&ev, loopPollMillis); err != nil {
			if errors.Is(err, errSemTimeout) {
				continue
			}
			return wdbgerr.Wrap(wdbgerr.KindInvalidHandle, "WaitForDebugEvent", 0, err)
		}

		status := uint32(winapi.DbgContinue)
		stop, derr := e.dispatch(&ev, &status)
		if derr != nil {
			return derr
		}

		if err := winapi.ContinueDebugEvent(ev.ProcessId, ev.ThreadId, status); err != nil {
			return wdbgerr.Wrap(wdbgerr.KindInvalidHandle, "ContinueDebugEvent", 0, err)
		}
		if stop {
			e.running = false
		}
	}
	return nil
}

// Stop asks the loop to exit after the current event finishes
// continuing, used by callbacks that decide to end the session early.
func (e *Engine) Stop() { e.running = false }

// dispatch routes one DEBUG_EVENT to its handler, recovering from a
// panicking user callback via OnCallbackError instead of taking the
// whole loop down.
func (e *Engine) dispatch(ev *winapi.DebugEvent, status *uint32) (stop bool, err error) {
	event := eventName(ev.DebugEventCode)
	defer func() {
		if r := recover(); r != nil {
			*status = winapi.DbgExceptionNotHandled
			e.CB.OnCallbackError(event, r)
		}
	}()

	switch ev.DebugEventCode {
	case winapi.CreateProcessDebugEvent:
		info := (*winapi.CreateProcessDebugInfo)(unsafe.Pointer(&ev.U[0]))
		e.onCreateProcess(ev.ThreadId, info)

	case winapi.CreateThreadDebugEvent:
		info := (*winapi.CreateThreadDebugInfo)(unsafe.Pointer(&ev.U[0]))
		e.onCreateThread(ev.ThreadId, info)

	case winapi.ExitThreadDebugEvent:
		info := (*winapi.ExitThreadDebugInfo)(unsafe.Pointer(&ev.U[0]))
		e.onExitThread(ev.ThreadId, info)

	case winapi.ExitProcessDebugEvent:
		info := (*winapi.ExitProcessDebugInfo)(unsafe.Pointer(&ev.U[0]))
		e.CB.OnEnd(int32(info.ExitCode), ev.ProcessId)
		stop = true

	case winapi.LoadDllDebugEvent:
		info := (*winapi.LoadDllDebugInfo)(unsafe.Pointer(&ev.U[0]))
		e.onLoadDll(info)

	case winapi.UnloadDllDebugEvent:
		info := (*winapi.UnloadDllDebugInfo)(unsafe.Pointer(&ev.U[0]))
		base := uint64(info.BaseOfDll)
		name := ""
		if mod, ok := e.Target.Modules[base]; ok {
			name = mod.Name
		}
		e.Target.RemoveModule(base)
		e.CB.OnDLLUnload(base, name)

	case winapi.OutputDebugStringEvent:
		info := (*winapi.OutputDebugStringInfo)(unsafe.Pointer(&ev.U[0]))
		e.onDebugString(ev.ProcessId, info)

	case winapi.RipEvent:
		info := (*winapi.RipInfo)(unsafe.Pointer(&ev.U[0]))
		e.CB.OnRIPError(uint64(info.Error))

	case winapi.ExceptionDebugEvent:
		info := (*winapi.ExceptionDebugInfo)(unsafe.Pointer(&ev.U[0]))
		e.onException(ev.ThreadId, info, status)

	default:
		e.CB.OnUnknownDebugEvent(ev.DebugEventCode)
	}
	return stop, nil
}

func eventName(code uint32) string {
	switch code {
	case winapi.ExceptionDebugEvent:
		return "EXCEPTION_DEBUG_EVENT"
	case winapi.CreateThreadDebugEvent:
		return "CREATE_THREAD_DEBUG_EVENT"
	case winapi.CreateProcessDebugEvent:
		return "CREATE_PROCESS_DEBUG_EVENT"
	case winapi.ExitThreadDebugEvent:
		return "EXIT_THREAD_DEBUG_EVENT"
	case winapi.ExitProcessDebugEvent:
		return "EXIT_PROCESS_DEBUG_EVENT"
	case winapi.LoadDllDebugEvent:
		return "LOAD_DLL_DEBUG_EVENT"
	case winapi.UnloadDllDebugEvent:
		return "UNLOAD_DLL_DEBUG_EVENT"
	case winapi.OutputDebugStringEvent:
		return "OUTPUT_DEBUG_STRING_EVENT"
	case winapi.RipEvent:
		return "RIP_EVENT"
	default:
		return "UNKNOWN_DEBUG_EVENT"
	}
}

func (e *Engine) onCreateProcess(tid uint32, info *winapi.CreateProcessDebugInfo) {
	e.Target.Debuggee.ProcessHandle = info.Process
	e.Target.Debuggee.ImageBase = uint64(info.BaseOfImage)
	e.Target.Debuggee.EntryPoint = uint64(info.StartAddress)
	e.Target.MainThreadID = tid
	e.Target.AddThread(tid, info.Thread)
	e.Mem.Process = info.Process
	name := readImageName(info.Process, info.ImageName, info.Unicode != 0, e.Arch.PointerSize())
	e.Target.AddModule(e.Target.Debuggee.ImageBase, name, e.Target.Debuggee.EntryPoint)
	if info.File != 0 {
		windows.CloseHandle(windows.Handle(info.File))
	}
	e.CB.OnStart(e.Target.Debuggee.ImageBase, e.Target.Debuggee.EntryPoint)
	if e.Target.Debuggee.Attached {
		e.CB.OnAttach()
	}
}

func (e *Engine) onCreateThread(tid uint32, info *winapi.CreateThreadDebugInfo) {
	rec := e.Target.AddThread(tid, info.Thread)
	ctx := e.Arch.NewContext()
	if err := e.Arch.GetThreadContext(rec.Handle, ctx); err == nil {
		e.BP.InstallOnNewThread(ctx)
		e.Arch.SetThreadContext(rec.Handle, ctx)
	}
	e.CB.OnThreadCreate(uintptr(info.Thread), tid, uint64(info.ThreadLocalBase), uint64(info.StartAddress))
}

func (e *Engine) onExitThread(tid uint32, info *winapi.ExitThreadDebugInfo) {
	if rec, ok := e.Target.Thread(tid); ok {
		e.BP.ClearOnThreadExit(rec)
	}
	e.Target.RemoveThread(tid)
	e.CB.OnThreadExit(tid)
}

func (e *Engine) onLoadDll(info *winapi.LoadDllDebugInfo) {
	base := uint64(info.BaseOfDll)
	name := readImageName(e.Mem.Process, info.ImageName, info.Unicode != 0, e.Arch.PointerSize())
	e.Target.AddModule(base, name, 0)
	if info.File != 0 {
		defer windows.CloseHandle(windows.Handle(info.File))
	}
	e.CB.OnDLLLoad(base, name, 0)
}

func (e *Engine) onDebugString(pid uint32, info *winapi.OutputDebugStringInfo) {
	buf, err := e.Mem.Read(uint64(info.DebugStringData), int(info.DebugStringLen))
	if err != nil {
		return
	}
	text := string(buf)
	if info.Unicode != 0 {
		text = utf16BytesToString(buf)
	}
	e.CB.OnDebugString(text)
}

func (e *Engine) onException(tid uint32, info *winapi.ExceptionDebugInfo, status *uint32) {
	rec, ok := e.Target.Thread(tid)
	if !ok {
		*status = winapi.DbgExceptionNotHandled
		return
	}
	ctx := e.Arch.NewContext()
	if err := e.Arch.GetThreadContext(rec.Handle, ctx); err != nil {
		*status = winapi.DbgExceptionNotHandled
		return
	}

	switch info.ExceptionRecord.ExceptionCode {
	case winapi.ExceptionBreakpoint:
		e.handleBreakpointException(rec, ctx, &info.ExceptionRecord)
	case winapi.ExceptionSingleStep:
		e.handleSingleStepException(rec, ctx)
	case winapi.ExceptionAccessViolation:
		e.handleAccessViolation(rec, ctx, &info.ExceptionRecord, status)
		return
	default:
		if info.FirstChance != 0 {
			*status = winapi.DbgExceptionNotHandled
		}
		e.CB.OnUnknownException(uint64(info.ExceptionRecord.ExceptionAddress), info.ExceptionRecord.ExceptionCode)
		return
	}
	e.Arch.SetThreadContext(rec.Handle, ctx)
}

func (e *Engine) handleBreakpointException(rec *debugtarget.ThreadRec, ctx arch.Context, er *winapi.ExceptionRecord) {
	// INT3 always leaves IP one byte past the breakpoint, whether or not
	// it's one of ours.
	rewound := e.Arch.InstructionPointerGet(ctx) - e.Arch.BreakpointSize()

	if !e.BP.HasBreakpoint(rewound) {
		// Not one of ours (e.g. the loader's injected first breakpoint):
		// deliver the callback without bookkeeping. The INT3 is a real
		// instruction, so IP is left past it rather than rewound.
		e.CB.OnBreakpoint(rewound, uintptr(rec.Handle))
		return
	}

	// Ours: rewind onto the address so the restored original byte runs.
	e.Arch.ProgramCounterRewind(ctx, e.Arch.BreakpointSize())
	action := e.CB.OnBreakpoint(rewound, uintptr(rec.Handle))
	if _, err := e.BP.HandleBreakpointHit(rec, ctx, rewound, action); err != nil {
		e.CB.OnCallbackError("EXCEPTION_BREAKPOINT", err)
	}
}

func (e *Engine) handleSingleStepException(rec *debugtarget.ThreadRec, ctx arch.Context) {
	if ok, err := e.BP.HandleSingleStepRearm(rec, ctx); ok {
		if err != nil {
			e.CB.OnCallbackError("EXCEPTION_SINGLE_STEP", err)
		}
		return
	}
	if e.BP.HandleHardwareSingleStepRearm(rec, ctx) {
		return
	}
	dr6 := e.Arch.GetDR6(ctx)
	if slot := e.BP.MatchedSlot(dr6); slot >= 0 {
		ip := e.Arch.InstructionPointerGet(ctx)
		action := e.CB.OnHardwareBreakpoint(ip, uintptr(rec.Handle), slot)
		if err := e.BP.HandleHardwareBreakpointHit(rec, ctx, arch.DRReg(slot), action); err != nil {
			e.CB.OnCallbackError("EXCEPTION_SINGLE_STEP", err)
		}
		return
	}
	e.CB.OnSingleStep(e.Arch.InstructionPointerGet(ctx), uintptr(rec.Handle))
}

func (e *Engine) handleAccessViolation(rec *debugtarget.ThreadRec, ctx arch.Context, er *winapi.ExceptionRecord, status *uint32) {
	access := AccessRead
	faultAddr := uint64(0)
	if er.NumberParameters >= 2 {
		if er.ExceptionInformation[0] == 1 {
			access = AccessWrite
		} else if er.ExceptionInformation[0] == 8 {
			access = AccessExecute
		}
		faultAddr = uint64(er.ExceptionInformation[1])
	}
	e.CB.OnAccessViolation(uint64(er.ExceptionAddress), faultAddr, access)
	*status = winapi.DbgExceptionNotHandled
}
