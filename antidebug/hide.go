// Package antidebug implements PEB-patching anti-detection primitives:
// clearing BeingDebugged, zeroing NtGlobalFlag, and masking the heap
// debug flags on the default process heap.
package antidebug

import (
	"syscall"

	"github.com/intuitionamiga/wdbgcore/debugtarget"
	"github.com/intuitionamiga/wdbgcore/memio"
	"github.com/intuitionamiga/wdbgcore/wdbgerr"
	"github.com/intuitionamiga/wdbgcore/winapi"
)

// tebLocator recovers a thread's TEB base address. Production code uses
// winapi.NtQueryInformationThread; tests substitute a stub.
type tebLocator func(thread syscall.Handle) (uint64, error)

// HideDebugger locates the PEB via the main thread's TEB and clears
// BeingDebugged, NtGlobalFlag, and the heap debug flags. Safe to call
// multiple times: each field is simply re-written to its cleared value,
// so repeat calls are idempotent.
func HideDebugger(target *debugtarget.Target, mem *memio.Memory, is64 bool) error {
	return hideDebugger(target, mem, is64, defaultTEBLocator)
}

func defaultTEBLocator(thread syscall.Handle) (uint64, error) {
	tbi, err := winapi.NtQueryInformationThread(thread)
	if err != nil {
		return 0, wdbgerr.Wrap(wdbgerr.KindAccessDenied, "NtQueryInformationThread", 0, err)
	}
	return uint64(tbi.TebBaseAddress), nil
}

func hideDebugger(target *debugtarget.Target, mem *memio.Memory, is64 bool, locate tebLocator) error {
	main, ok := target.Thread(target.MainThreadID)
	if !ok {
		return wdbgerr.Wrap(wdbgerr.KindInvalidHandle, "hide_debugger: no main thread", 0, wdbgerr.InvalidHandle)
	}
	tebBase, err := locate(main.Handle)
	if err != nil {
		return err
	}

	pebOff := uint64(winapi.PebOffsetX86)
	ntGlobalFlagOff := uint64(winapi.PebNtGlobalFlagX86)
	processHeapOff := uint64(winapi.PebProcessHeapX86)
	heapFlagsOff := uint64(winapi.HeapFlagsX86Off)
	heapForceFlagsOff := uint64(winapi.HeapForceFlagsX86Off)
	ptrSize := 4
	if is64 {
		pebOff = winapi.PebOffsetX64
		ntGlobalFlagOff = winapi.PebNtGlobalFlagX64
		processHeapOff = winapi.PebProcessHeapX64
		heapFlagsOff = winapi.HeapFlagsX64Off
		heapForceFlagsOff = winapi.HeapForceFlagsX64Off
		ptrSize = 8
	}

	pebBytes, err := mem.Read(tebBase+pebOff, ptrSize)
	if err != nil {
		return err
	}
	peb := bytesToUint(pebBytes)

	// BeingDebugged: single byte, offset 0x02.
	if err := mem.Write(peb+winapi.PebBeingDebuggedOff, []byte{0}); err != nil {
		return err
	}

	// NtGlobalFlag: DWORD.
	if err := mem.Write(peb+ntGlobalFlagOff, []byte{0, 0, 0, 0}); err != nil {
		return err
	}

	// ProcessHeap pointer, then its Flags/ForceFlags DWORDs.
	heapPtrBytes, err := mem.Read(peb+processHeapOff, ptrSize)
	if err != nil {
		return err
	}
	heap := bytesToUint(heapPtrBytes)
	if heap == 0 {
		return nil
	}

	flagsBytes, err := mem.Read(heap+heapFlagsOff, 4)
	if err != nil {
		return err
	}
	flags := uint32(flagsBytes[0]) | uint32(flagsBytes[1])<<8 | uint32(flagsBytes[2])<<16 | uint32(flagsBytes[3])<<24
	flags &^= winapi.HeapDebugFlagMask
	if err := mem.Write(heap+heapFlagsOff, uint32ToBytes(flags)); err != nil {
		return err
	}

	forceBytes, err := mem.Read(heap+heapForceFlagsOff, 4)
	if err != nil {
		return err
	}
	force := uint32(forceBytes[0]) | uint32(forceBytes[1])<<8 | uint32(forceBytes[2])<<16 | uint32(forceBytes[3])<<24
	force &^= winapi.HeapDebugFlagMask
	return mem.Write(heap+heapForceFlagsOff, uint32ToBytes(force))
}

func bytesToUint(b []byte) uint64 {
	var v uint64
	for i, by := range b {
		v |= uint64(by) << (8 * uint(i))
	}
	return v
}

func uint32ToBytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
