//go:build windows

// Exercises hideDebugger against synthetic TEB/PEB/heap buffers laid out
// in the test binary's own memory, read and written through the real
// self-process ReadProcessMemory/WriteProcessMemory path (see the note in
// breakpoint/manager_test.go on why that's a legitimate target for these
// tests).
package antidebug

import (
	"encoding/binary"
	"syscall"
	"testing"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/intuitionamiga/wdbgcore/debugtarget"
	"github.com/intuitionamiga/wdbgcore/memio"
	"github.com/intuitionamiga/wdbgcore/winapi"
)

func addrOf(buf []byte) uint64 { return uint64(uintptr(unsafe.Pointer(&buf[0]))) }

func putPtr64(buf []byte, off uint64, v uint64) { binary.LittleEndian.PutUint64(buf[off:], v) }
func putU32(buf []byte, off uint64, v uint32)   { binary.LittleEndian.PutUint32(buf[off:], v) }

func TestHideDebuggerClearsPEBAndHeapFlagsX64(t *testing.T) {
	heap := make([]byte, 0x78)
	putU32(heap, winapi.HeapFlagsX64Off, 0x50000062)      // debug bits set in the low word
	putU32(heap, winapi.HeapForceFlagsX64Off, 0x40000040) // debug bits set in the low word

	peb := make([]byte, 0xC4)
	peb[winapi.PebBeingDebuggedOff] = 1
	putU32(peb, winapi.PebNtGlobalFlagX64, 0x70)
	putPtr64(peb, winapi.PebProcessHeapX64, addrOf(heap))

	teb := make([]byte, 0x68)
	putPtr64(teb, winapi.PebOffsetX64, addrOf(peb))

	mem := memio.New(syscall.Handle(windows.CurrentProcess()), nil)
	target := debugtarget.New(&debugtarget.Debuggee{})
	target.MainThreadID = 1
	target.AddThread(1, 0)

	locate := func(syscall.Handle) (uint64, error) { return addrOf(teb), nil }

	if err := hideDebugger(target, mem, true, locate); err != nil {
		t.Fatalf("hideDebugger failed: %v", err)
	}

	if peb[winapi.PebBeingDebuggedOff] != 0 {
		t.Error("BeingDebugged should be cleared")
	}
	if got := binary.LittleEndian.Uint32(peb[winapi.PebNtGlobalFlagX64:]); got != 0 {
		t.Errorf("NtGlobalFlag = 0x%x, want 0", got)
	}
	if got := binary.LittleEndian.Uint32(heap[winapi.HeapFlagsX64Off:]); got&winapi.HeapDebugFlagMask != 0 {
		t.Errorf("Heap Flags low word = 0x%x, still has debug bits set", got)
	}
	if got := binary.LittleEndian.Uint32(heap[winapi.HeapForceFlagsX64Off:]); got&winapi.HeapDebugFlagMask != 0 {
		t.Errorf("Heap ForceFlags low word = 0x%x, still has debug bits set", got)
	}
}

func TestHideDebuggerFailsWithNoMainThread(t *testing.T) {
	mem := memio.New(syscall.Handle(windows.CurrentProcess()), nil)
	target := debugtarget.New(&debugtarget.Debuggee{})
	locate := func(syscall.Handle) (uint64, error) { return 0, nil }

	if err := hideDebugger(target, mem, true, locate); err == nil {
		t.Error("hideDebugger should fail when the target has no main thread recorded")
	}
}
