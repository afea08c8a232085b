//go:build windows

package engine

import (
	"encoding/binary"
	"syscall"
	"unicode/utf16"

	"github.com/intuitionamiga/wdbgcore/winapi"
)

const maxImageNameBytes = 520 // 260 UTF-16 code units, generous for a MAX_PATH name

// readImageName best-effort resolves a LOAD_DLL_DEBUG_INFO/CREATE_PROCESS
// image name. lpImageName in the Win32 API points to the address of a
// pointer to the string (not the string itself), and debuggers are told
// not to rely on it; a zero or unreadable pointer simply yields "". The
// pointer-to-pointer is native-width, so ptrSize must match the
// debuggee's bitness (4 for x86, 8 for x64) or the read will pull in
// unrelated bytes from beyond the real pointer.
func readImageName(process syscall.Handle, lpImageName uintptr, unicode bool, ptrSize int) string {
	if lpImageName == 0 {
		return ""
	}
	ptrBuf, err := readRaw(process, uint64(lpImageName), ptrSize)
	if err != nil || len(ptrBuf) < ptrSize {
		return ""
	}
	var strAddr uint64
	if ptrSize == 8 {
		strAddr = binary.LittleEndian.Uint64(ptrBuf)
	} else {
		strAddr = uint64(binary.LittleEndian.Uint32(ptrBuf))
	}
	if strAddr == 0 {
		return ""
	}
	buf, err := readRaw(process, strAddr, maxImageNameBytes)
	if err != nil && len(buf) == 0 {
		return ""
	}
	if unicode {
		return utf16BytesToString(buf)
	}
	return cString(buf)
}

func readRaw(process syscall.Handle, addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := winapi.ReadProcessMemory(process, uintptr(addr), buf)
	return buf[:got], err
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func utf16BytesToString(b []byte) string {
	u16 := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		v := uint16(b[i]) | uint16(b[i+1])<<8
		if v == 0 {
			break
		}
		u16 = append(u16, v)
	}
	return string(utf16.Decode(u16))
}
