// Package memio implements virtual-memory access against a debuggee:
// reads, writes, protection changes, region enumeration, and pattern
// search. Reads and searches are breakpoint-transparent: any enabled
// software breakpoint's 0xCC shadow is patched back to the original byte
// before the caller ever sees it.
//
// Memory access runs over real cross-process ReadProcessMemory/
// WriteProcessMemory calls, and region enumeration is a runtime walk via
// VirtualQueryEx rather than a static compiled-in table.
package memio

import (
	"fmt"
	"syscall"

	"github.com/intuitionamiga/wdbgcore/wdbgerr"
	"github.com/intuitionamiga/wdbgcore/winapi"
)

// ShadowSource supplies the original byte beneath any enabled software
// breakpoint at a given address, so reads/searches can stay transparent
// without memio depending on the breakpoint package directly (the
// breakpoint manager depends on memio, not the other way around).
type ShadowSource interface {
	// OriginalByte returns the byte that was present before a software
	// breakpoint was installed at addr, and whether one is installed.
	OriginalByte(addr uint64) (byte, bool)
}

const maxScanChunk = 1 << 20 // 1 MiB, bounds a single scan read

// Memory wraps a debuggee process handle with read/write/search plus
// protect/query.
type Memory struct {
	Process syscall.Handle
	Shadows ShadowSource
}

// New creates a Memory accessor for the given process handle. shadows
// may be nil until a breakpoint manager is wired in (e.g. during early
// launch bookkeeping before any breakpoint exists).
func New(process syscall.Handle, shadows ShadowSource) *Memory {
	return &Memory{Process: process, Shadows: shadows}
}

// Read copies n bytes starting at addr out of the debuggee, patching out
// any enabled software breakpoint shadow bytes. A short read returns the
// bytes actually transferred alongside a wdbgerr.MemoryReadShort error;
// callers may still use the partial buffer.
func (m *Memory) Read(addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := winapi.ReadProcessMemory(m.Process, uintptr(addr), buf)
	if err != nil || got < n {
		buf = buf[:got]
		m.unshadow(addr, buf)
		if err == nil {
			err = wdbgerr.MemoryReadShort
		}
		return buf, wdbgerr.Wrap(wdbgerr.KindMemoryReadShort, "read_memory", 0, err)
	}
	m.unshadow(addr, buf)
	return buf, nil
}

func (m *Memory) unshadow(addr uint64, buf []byte) {
	if m.Shadows == nil {
		return
	}
	for i := range buf {
		if orig, ok := m.Shadows.OriginalByte(addr + uint64(i)); ok {
			buf[i] = orig
		}
	}
}

// Write copies data into the debuggee at addr. It temporarily grants
// PAGE_EXECUTE_READWRITE over the destination range, whatever its current
// protection, and restores the original protection afterward.
func (m *Memory) Write(addr uint64, data []byte) error {
	const pageExecuteReadWrite = 0x40
	old, err := winapi.VirtualProtectEx(m.Process, uintptr(addr), uintptr(len(data)), pageExecuteReadWrite)
	if err != nil {
		return wdbgerr.Wrap(wdbgerr.KindMemoryWriteProtected, "write_memory: protect", 0, err)
	}
	defer winapi.VirtualProtectEx(m.Process, uintptr(addr), uintptr(len(data)), old)

	n, werr := winapi.WriteProcessMemory(m.Process, uintptr(addr), data)
	if werr != nil || n < len(data) {
		if werr == nil {
			werr = wdbgerr.MemoryReadShort
		}
		return wdbgerr.Wrap(wdbgerr.KindMemoryWriteProtected, "write_memory", 0, werr)
	}
	return nil
}

// Protect changes the protection of n bytes at addr, returning the
// protection that was previously in effect.
func (m *Memory) Protect(addr uint64, n int, prot uint32) (uint32, error) {
	old, err := winapi.VirtualProtectEx(m.Process, uintptr(addr), uintptr(n), prot)
	if err != nil {
		return 0, wdbgerr.Wrap(wdbgerr.KindAccessDenied, "protect", 0, err)
	}
	return old, nil
}

// Region describes one committed, queryable memory region.
type Region struct {
	Base    uint64
	Size    uint64
	Protect uint32
	State   uint32
}

// Query returns the region containing addr.
func (m *Memory) Query(addr uint64) (Region, error) {
	mbi, err := winapi.VirtualQueryEx(m.Process, uintptr(addr))
	if err != nil {
		return Region{}, wdbgerr.Wrap(wdbgerr.KindAccessDenied, "query", 0, err)
	}
	return Region{
		Base:    uint64(mbi.BaseAddress),
		Size:    uint64(mbi.RegionSize),
		Protect: mbi.Protect,
		State:   mbi.State,
	}, nil
}

const (
	memCommit  = 0x1000
	memFree    = 0x10000
	pageGuard  = 0x100
	pageNoAcc  = 0x01
)

// EnumerateCommittedRegions walks the debuggee's address space, skipping
// free, guard, and no-access pages, returning every committed region.
func (m *Memory) EnumerateCommittedRegions() ([]Region, error) {
	var regions []Region
	var addr uint64
	for {
		mbi, err := winapi.VirtualQueryEx(m.Process, uintptr(addr))
		if err != nil {
			break // VirtualQueryEx fails once addr walks past the address space
		}
		if mbi.RegionSize == 0 {
			break
		}
		if mbi.State == memCommit && mbi.Protect&pageGuard == 0 && mbi.Protect != pageNoAcc {
			regions = append(regions, Region{
				Base:    uint64(mbi.BaseAddress),
				Size:    uint64(mbi.RegionSize),
				Protect: mbi.Protect,
				State:   mbi.State,
			})
		}
		next := uint64(mbi.BaseAddress) + uint64(mbi.RegionSize)
		if next <= addr {
			break // guard against a zero-size or non-advancing region
		}
		addr = next
	}
	return regions, nil
}

// matches reports whether data[offset:] equals pattern, where a pattern
// byte value of wildcard (any value >255 is impossible for a byte, so
// wildcard is modeled as a parallel bool mask) is always satisfied.
func matches(data []byte, offset int, pattern []byte, mask []bool) bool {
	if offset+len(pattern) > len(data) {
		return false
	}
	for i, p := range pattern {
		if mask[i] {
			continue
		}
		if data[offset+i] != p {
			return false
		}
	}
	return true
}

// Pattern is a byte pattern with '?' wildcard positions, as produced by
// ParsePattern.
type Pattern struct {
	bytes []byte
	mask  []bool // true at wildcard positions
}

// ParsePattern builds a Pattern from a "DE AD ? EF"-style token list,
// where a "?"/"??" token marks a wildcard position. Callers building an
// exact pattern from literal bytes use NewExactPattern instead;
// ParsePattern exists for the string-based input case.
func ParsePattern(tokens []string) (Pattern, error) {
	p := Pattern{bytes: make([]byte, len(tokens)), mask: make([]bool, len(tokens))}
	for i, tok := range tokens {
		if tok == "?" || tok == "??" {
			p.mask[i] = true
			continue
		}
		var b uint8
		if _, err := fmt.Sscanf(tok, "%02X", &b); err != nil {
			return Pattern{}, wdbgerr.Wrap(wdbgerr.KindAccessDenied, "parse pattern byte "+tok, 0, err)
		}
		p.bytes[i] = b
	}
	return p, nil
}

// NewExactPattern builds a Pattern with no wildcards from a literal byte
// slice.
func NewExactPattern(data []byte) Pattern {
	return Pattern{bytes: append([]byte(nil), data...), mask: make([]bool, len(data))}
}

// Search scans every committed, non-guard region for pattern, honoring
// '?' wildcard bytes, and returns every absolute address where it
// matches. Each region is read in chunks of at most 1 MiB (maxScanChunk),
// each extended by len(pattern)-1 bytes so matches straddling a chunk
// boundary are found, so a single read never exceeds maxScanChunk plus
// that overlap.
func (m *Memory) Search(pattern Pattern) ([]uint64, error) {
	if len(pattern.bytes) == 0 {
		return nil, nil
	}
	regions, err := m.EnumerateCommittedRegions()
	if err != nil {
		return nil, err
	}
	var hits []uint64
	overlap := len(pattern.bytes) - 1
	for _, r := range regions {
		var pos uint64
		for pos < r.Size {
			chunkLen := r.Size - pos
			if chunkLen > maxScanChunk {
				chunkLen = maxScanChunk
			}
			// Extend the read by `overlap` bytes so a match straddling a
			// chunk boundary is not missed, capped at the region end.
			readLen := chunkLen
			if pos+readLen+uint64(overlap) <= r.Size {
				readLen += uint64(overlap)
			} else {
				readLen = r.Size - pos
			}
			buf, rerr := m.Read(r.Base+pos, int(readLen))
			if rerr != nil && len(buf) == 0 {
				break
			}
			for i := 0; i+len(pattern.bytes) <= len(buf); i++ {
				if matches(buf, i, pattern.bytes, pattern.mask) {
					hits = append(hits, r.Base+pos+uint64(i))
				}
			}
			pos += chunkLen
		}
	}
	return hits, nil
}

// ASLR maps a relative virtual address to an absolute one given the
// debuggee's observed image base.
func ASLR(imageBase, rva uint64) uint64 {
	return imageBase + rva
}
