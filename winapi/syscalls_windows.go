//go:build windows

package winapi

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")
	modntdll    = windows.NewLazySystemDLL("ntdll.dll")

	procWaitForDebugEvent      = modkernel32.NewProc("WaitForDebugEvent")
	procContinueDebugEvent     = modkernel32.NewProc("ContinueDebugEvent")
	procDebugActiveProcess     = modkernel32.NewProc("DebugActiveProcess")
	procDebugActiveProcessStop = modkernel32.NewProc("DebugActiveProcessStop")
	procDebugBreakProcess      = modkernel32.NewProc("DebugBreakProcess")
	procDebugSetProcessKillOnExit = modkernel32.NewProc("DebugSetProcessKillOnExit")

	procGetThreadContext = modkernel32.NewProc("GetThreadContext")
	procSetThreadContext = modkernel32.NewProc("SetThreadContext")
	procSuspendThread    = modkernel32.NewProc("SuspendThread")
	procResumeThread     = modkernel32.NewProc("ResumeThread")

	procReadProcessMemory  = modkernel32.NewProc("ReadProcessMemory")
	procWriteProcessMemory = modkernel32.NewProc("WriteProcessMemory")
	procVirtualProtectEx   = modkernel32.NewProc("VirtualProtectEx")
	procVirtualQueryEx     = modkernel32.NewProc("VirtualQueryEx")

	procNtQueryInformationThread = modntdll.NewProc("NtQueryInformationThread")
)

// WaitForDebugEvent blocks (up to millis, or forever when millis is
// windows.INFINITE) for the next debug event targeting a process this
// thread is attached to as debugger.
func WaitForDebugEvent(ev *DebugEvent, millis uint32) error {
	r, _, e := procWaitForDebugEvent.Call(uintptr(unsafe.Pointer(ev)), uintptr(millis))
	if r == 0 {
		return e
	}
	return nil
}

// ContinueDebugEvent resumes the thread that produced the last debug
// event with the given continuation status (DbgContinue or
// DbgExceptionNotHandled).
func ContinueDebugEvent(pid, tid uint32, continueStatus uint32) error {
	r, _, e := procContinueDebugEvent.Call(uintptr(pid), uintptr(tid), uintptr(continueStatus))
	if r == 0 {
		return e
	}
	return nil
}

// DebugActiveProcess attaches the calling process as debugger of pid.
func DebugActiveProcess(pid uint32) error {
	r, _, e := procDebugActiveProcess.Call(uintptr(pid))
	if r == 0 {
		return e
	}
	return nil
}

// DebugActiveProcessStop detaches the debugger from pid, letting it run free.
func DebugActiveProcessStop(pid uint32) error {
	r, _, e := procDebugActiveProcessStop.Call(uintptr(pid))
	if r == 0 {
		return e
	}
	return nil
}

// DebugBreakProcess injects a breakpoint into a running debuggee, asking
// it to raise EXCEPTION_BREAKPOINT on its own.
func DebugBreakProcess(process syscall.Handle) error {
	r, _, e := procDebugBreakProcess.Call(uintptr(process))
	if r == 0 {
		return e
	}
	return nil
}

// DebugSetProcessKillOnExit controls whether debuggees die when this
// debugger process exits without detaching first.
func DebugSetProcessKillOnExit(killOnExit bool) error {
	var v uintptr
	if killOnExit {
		v = 1
	}
	r, _, e := procDebugSetProcessKillOnExit.Call(v)
	if r == 0 {
		return e
	}
	return nil
}

// The context helpers below operate on raw pointers so the same wrapper
// serves both Context386 and Context64.

// GetThreadContext fills ctx (either *Context386 or *Context64, passed as
// unsafe.Pointer by the arch package) from the given suspended thread.
func GetThreadContext(thread syscall.Handle, ctx unsafe.Pointer) error {
	r, _, e := procGetThreadContext.Call(uintptr(thread), uintptr(ctx))
	if r == 0 {
		return e
	}
	return nil
}

// SetThreadContext writes ctx back to the given suspended thread.
func SetThreadContext(thread syscall.Handle, ctx unsafe.Pointer) error {
	r, _, e := procSetThreadContext.Call(uintptr(thread), uintptr(ctx))
	if r == 0 {
		return e
	}
	return nil
}

// SuspendThread increments the thread's suspend count, returning the
// previous count.
func SuspendThread(thread syscall.Handle) (prev uint32, err error) {
	r, _, e := procSuspendThread.Call(uintptr(thread))
	if int32(r) == -1 {
		return 0, e
	}
	return uint32(r), nil
}

// ResumeThread decrements the thread's suspend count, returning the
// previous count.
func ResumeThread(thread syscall.Handle) (prev uint32, err error) {
	r, _, e := procResumeThread.Call(uintptr(thread))
	if int32(r) == -1 {
		return 0, e
	}
	return uint32(r), nil
}

// ReadProcessMemory copies len(buf) bytes from addr in process into buf,
// returning the number of bytes actually transferred.
func ReadProcessMemory(process syscall.Handle, addr uintptr, buf []byte) (int, error) {
	var n uintptr
	var basePtr unsafe.Pointer
	if len(buf) > 0 {
		basePtr = unsafe.Pointer(&buf[0])
	}
	r, _, e := procReadProcessMemory.Call(
		uintptr(process), addr, uintptr(basePtr), uintptr(len(buf)), uintptr(unsafe.Pointer(&n)))
	if r == 0 {
		return int(n), e
	}
	return int(n), nil
}

// WriteProcessMemory copies buf into addr in process, returning the
// number of bytes actually transferred.
func WriteProcessMemory(process syscall.Handle, addr uintptr, buf []byte) (int, error) {
	var n uintptr
	var basePtr unsafe.Pointer
	if len(buf) > 0 {
		basePtr = unsafe.Pointer(&buf[0])
	}
	r, _, e := procWriteProcessMemory.Call(
		uintptr(process), addr, uintptr(basePtr), uintptr(len(buf)), uintptr(unsafe.Pointer(&n)))
	if r == 0 {
		return int(n), e
	}
	return int(n), nil
}

// VirtualProtectEx changes the protection of size bytes at addr in
// process to newProtect, returning the protection that was in effect
// before the call.
func VirtualProtectEx(process syscall.Handle, addr uintptr, size uintptr, newProtect uint32) (oldProtect uint32, err error) {
	r, _, e := procVirtualProtectEx.Call(
		uintptr(process), addr, size, uintptr(newProtect), uintptr(unsafe.Pointer(&oldProtect)))
	if r == 0 {
		return 0, e
	}
	return oldProtect, nil
}

// MemoryBasicInformation mirrors MEMORY_BASIC_INFORMATION.
type MemoryBasicInformation struct {
	BaseAddress       uintptr
	AllocationBase    uintptr
	AllocationProtect uint32
	PartitionID       uint16
	_                 uint16 // alignment padding present on amd64
	RegionSize        uintptr
	State             uint32
	Protect           uint32
	Type              uint32
}

// VirtualQueryEx queries the page/region containing addr in process.
func VirtualQueryEx(process syscall.Handle, addr uintptr) (MemoryBasicInformation, error) {
	var mbi MemoryBasicInformation
	r, _, e := procVirtualQueryEx.Call(
		uintptr(process), addr, uintptr(unsafe.Pointer(&mbi)), unsafe.Sizeof(mbi))
	if r == 0 {
		return mbi, e
	}
	return mbi, nil
}

// ThreadBasicInformation mirrors THREAD_BASIC_INFORMATION (NT internal,
// used only to recover a thread's TEB base address).
type ThreadBasicInformation struct {
	ExitStatus     int32
	TebBaseAddress uintptr
	UniqueProcess  uintptr
	UniqueThread   uintptr
	AffinityMask   uintptr
	Priority       int32
	BasePriority   int32
}

const threadBasicInformationClass = 0

// NtQueryInformationThread recovers the TEB base address of a suspended
// thread, the entry point used by the anti-detection package to locate
// the PEB.
func NtQueryInformationThread(thread syscall.Handle) (ThreadBasicInformation, error) {
	var tbi ThreadBasicInformation
	var retLen uint32
	r, _, _ := procNtQueryInformationThread.Call(
		uintptr(thread), threadBasicInformationClass,
		uintptr(unsafe.Pointer(&tbi)), unsafe.Sizeof(tbi), uintptr(unsafe.Pointer(&retLen)))
	// NTSTATUS: >= 0 is success.
	if int32(r) < 0 {
		return tbi, syscall.Errno(r)
	}
	return tbi, nil
}
