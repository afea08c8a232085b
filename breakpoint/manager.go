// Package breakpoint implements the software INT3 table, the hardware
// DR-slot table, and the per-thread step-over re-arm state machine
// needed to keep both kinds of breakpoint transparent across a single
// step.
package breakpoint

import (
	"sync"

	"github.com/intuitionamiga/wdbgcore/arch"
	"github.com/intuitionamiga/wdbgcore/debugtarget"
	"github.com/intuitionamiga/wdbgcore/memio"
	"github.com/intuitionamiga/wdbgcore/wdbgerr"
	"github.com/intuitionamiga/wdbgcore/winapi"
)

// Action is the user callback's verdict after a breakpoint hit.
type Action int

const (
	ActionBreak Action = iota
	ActionRestore
)

// SWBreakpoint is one installed software breakpoint.
type SWBreakpoint struct {
	Address  uint64
	Original byte
	Enabled  bool
}

// HWBreakpoint is one installed hardware breakpoint.
type HWBreakpoint struct {
	Address uint64
	Slot    arch.DRReg
	Access  arch.AccessType
	Length  arch.BreakpointLength
	Enabled bool
}

// Manager owns the software and hardware breakpoint tables for one
// debug session. Every mutating method is called only from the engine's
// single dispatch goroutine, but the mutex still guards the tables
// because memio.Memory.Read (breakpoint transparency lookups) can in
// principle run from a concurrent caller evaluating a watch expression
// outside the loop.
type Manager struct {
	mu  sync.RWMutex
	mem *memio.Memory
	a   arch.Arch

	sw map[uint64]*SWBreakpoint
	hw [4]*HWBreakpoint // indexed by arch.DRReg
}

// New creates an empty Manager bound to the given memory accessor and
// architecture. mem.Shadows should be set to this Manager (it implements
// memio.ShadowSource) so reads stay breakpoint-transparent.
func New(mem *memio.Memory, a arch.Arch) *Manager {
	return &Manager{mem: mem, a: a, sw: make(map[uint64]*SWBreakpoint)}
}

// OriginalByte implements memio.ShadowSource.
func (m *Manager) OriginalByte(addr uint64) (byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bp, ok := m.sw[addr]
	if !ok || !bp.Enabled {
		return 0, false
	}
	return bp.Original, true
}

// SetBreakpoint installs a software breakpoint at addr: reads the
// current byte, writes 0xCC, and remembers the original.
func (m *Manager) SetBreakpoint(addr uint64) error {
	// Read before taking the lock: mem.Read calls back into OriginalByte,
	// which takes the read lock itself.
	orig, err := m.mem.Read(addr, 1)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// A breakpoint disabled by a BREAK action is re-armed, not rejected.
	if bp, exists := m.sw[addr]; exists && bp.Enabled {
		return wdbgerr.Wrap(wdbgerr.KindDuplicateBreakpoint, "set_breakpoint", 0, wdbgerr.DuplicateBreakpoint)
	}
	if err := m.mem.Write(addr, m.a.BreakpointInstruction()); err != nil {
		return err
	}
	m.sw[addr] = &SWBreakpoint{Address: addr, Original: orig[0], Enabled: true}
	return nil
}

// ClearBreakpoint writes the original byte back and removes the entry,
// so a subsequent read sees exactly what was there before installation.
func (m *Manager) ClearBreakpoint(addr uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bp, ok := m.sw[addr]
	if !ok {
		return wdbgerr.Wrap(wdbgerr.KindUnknownBreakpoint, "clear_breakpoint", 0, wdbgerr.UnknownBreakpoint)
	}
	delete(m.sw, addr)
	return m.mem.Write(addr, []byte{bp.Original})
}

// disable removes the 0xCC without forgetting the entry's saved byte,
// used for the permanent-BREAK path, which leaves the byte restored.
func (m *Manager) disable(addr uint64) error {
	bp, ok := m.sw[addr]
	if !ok {
		return nil
	}
	bp.Enabled = false
	return m.mem.Write(addr, []byte{bp.Original})
}

// rearm re-writes 0xCC for a breakpoint that is resuming after a RESTORE.
func (m *Manager) rearm(addr uint64) error {
	bp, ok := m.sw[addr]
	if !ok {
		return nil
	}
	bp.Enabled = true
	return m.mem.Write(addr, m.a.BreakpointInstruction())
}

// HasBreakpoint reports whether a software breakpoint is installed at addr.
func (m *Manager) HasBreakpoint(addr uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bp, ok := m.sw[addr]
	return ok && bp.Enabled
}

// ListBreakpoints returns every installed software breakpoint address.
func (m *Manager) ListBreakpoints() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint64, 0, len(m.sw))
	for addr := range m.sw {
		out = append(out, addr)
	}
	return out
}

// HandleBreakpointHit handles a software breakpoint trap: restores the
// original byte and sets the thread's StepOverState according to action.
// The caller has already rewound the thread's IP back onto addr.
// It returns false if addr does not correspond to a known breakpoint
// (e.g. the loader's injected first breakpoint, which the caller must
// still deliver to on_breakpoint but without this bookkeeping).
func (m *Manager) HandleBreakpointHit(thread *debugtarget.ThreadRec, ctx arch.Context, addr uint64, action Action) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sw[addr]; !ok {
		return false, nil
	}
	if err := m.mem.Write(addr, []byte{m.sw[addr].Original}); err != nil {
		return true, err
	}
	switch action {
	case ActionBreak:
		if err := m.disable(addr); err != nil {
			return true, err
		}
		thread.Step = debugtarget.StepOverState{Kind: debugtarget.StepNone}
	case ActionRestore:
		m.a.SetFlag(ctx, arch.FlagTF, true)
		thread.Step = debugtarget.StepOverState{Kind: debugtarget.StepResumingSW, BPAddress: addr}
	}
	return true, nil
}

// HandleSingleStepRearm completes the resuming-sw transition: re-writes
// 0xCC and clears the thread's step state.
// Returns false if the thread was not in the resuming-sw state, meaning
// this single-step belongs to something else (a hardware breakpoint, or
// a user-initiated step).
func (m *Manager) HandleSingleStepRearm(thread *debugtarget.ThreadRec, ctx arch.Context) (bool, error) {
	if thread.Step.Kind != debugtarget.StepResumingSW {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := thread.Step.BPAddress
	if err := m.rearm(addr); err != nil {
		return true, err
	}
	m.a.SetFlag(ctx, arch.FlagTF, false)
	thread.Step = debugtarget.StepOverState{Kind: debugtarget.StepNone}
	return true, nil
}

// ---- Hardware breakpoints ----

func dr7Bits(slot arch.DRReg, access arch.AccessType, length arch.BreakpointLength) (localEnable uint64, typeBits uint64, lenBits uint64) {
	localEnable = 1 << (uint(slot)*2 + winapi.Dr7LocalEnableShift)
	switch access {
	case arch.AccessExecute:
		typeBits = winapi.Dr7TypeExecute
	case arch.AccessWrite:
		typeBits = winapi.Dr7TypeWrite
	case arch.AccessReadWrite:
		typeBits = winapi.Dr7TypeReadWrite
	}
	switch length {
	case arch.LengthByte:
		lenBits = winapi.Dr7Len1
	case arch.LengthWord:
		lenBits = winapi.Dr7Len2
	case arch.LengthQword:
		lenBits = winapi.Dr7Len8
	case arch.LengthDword:
		lenBits = winapi.Dr7Len4
	}
	typeBits <<= winapi.Dr7TypeShift + uint(slot)*4
	lenBits <<= winapi.Dr7LenShift + uint(slot)*4
	return localEnable, typeBits, lenBits
}

// dr7FieldMask returns the full bit mask (enable + type + len) owned by
// one slot, so it can be cleared before OR-ing in a new configuration.
func dr7FieldMask(slot arch.DRReg) uint64 {
	enableMask := uint64(1) << (uint(slot)*2 + winapi.Dr7LocalEnableShift)
	fieldMask := uint64(0xF) << (winapi.Dr7TypeShift + uint(slot)*4)
	return enableMask | fieldMask
}

// SetHardwareBreakpoint installs a hardware breakpoint in the given DR
// slot, mirroring the configuration into every thread passed in (the
// caller decides whether that set is one thread or every live thread in
// the process). Returns wdbgerr.NoFreeDebugRegister if the slot is
// already occupied by a different address.
func (m *Manager) SetHardwareBreakpoint(threads []*debugtarget.ThreadRec, getCtx func(*debugtarget.ThreadRec) (arch.Context, error), setCtx func(*debugtarget.ThreadRec, arch.Context) error, addr uint64, slot arch.DRReg, access arch.AccessType, length arch.BreakpointLength) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hw[slot] != nil && m.hw[slot].Address != addr {
		return wdbgerr.Wrap(wdbgerr.KindNoFreeDebugRegister, "set_hardware_breakpoint", 0, wdbgerr.NoFreeDebugRegister)
	}
	localEnable, typeBits, lenBits := dr7Bits(slot, access, length)
	for _, th := range threads {
		ctx, err := getCtx(th)
		if err != nil {
			return err
		}
		m.a.SetDebugRegister(ctx, slot, addr)
		dr7 := m.a.GetDR7(ctx)
		dr7 &^= dr7FieldMask(slot)
		dr7 |= localEnable | typeBits | lenBits
		m.a.SetDR7(ctx, dr7)
		if err := setCtx(th, ctx); err != nil {
			return err
		}
	}
	m.hw[slot] = &HWBreakpoint{Address: addr, Slot: slot, Access: access, Length: length, Enabled: true}
	return nil
}

// ClearHardwareBreakpoint removes a hardware breakpoint from every given
// thread's context and forgets the slot.
func (m *Manager) ClearHardwareBreakpoint(threads []*debugtarget.ThreadRec, getCtx func(*debugtarget.ThreadRec) (arch.Context, error), setCtx func(*debugtarget.ThreadRec, arch.Context) error, slot arch.DRReg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hw[slot] == nil {
		return wdbgerr.Wrap(wdbgerr.KindUnknownBreakpoint, "clear_hardware_breakpoint", 0, wdbgerr.UnknownBreakpoint)
	}
	for _, th := range threads {
		ctx, err := getCtx(th)
		if err != nil {
			return err
		}
		m.a.SetDebugRegister(ctx, slot, 0)
		dr7 := m.a.GetDR7(ctx)
		dr7 &^= dr7FieldMask(slot)
		m.a.SetDR7(ctx, dr7)
		if err := setCtx(th, ctx); err != nil {
			return err
		}
	}
	m.hw[slot] = nil
	return nil
}

// InstallOnNewThread mirrors every currently-installed hardware
// breakpoint onto a freshly created thread's context, so process-wide
// breakpoints also apply to threads spawned after they were set.
func (m *Manager) InstallOnNewThread(ctx arch.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for slot, hw := range m.hw {
		if hw == nil {
			continue
		}
		localEnable, typeBits, lenBits := dr7Bits(arch.DRReg(slot), hw.Access, hw.Length)
		m.a.SetDebugRegister(ctx, arch.DRReg(slot), hw.Address)
		dr7 := m.a.GetDR7(ctx)
		dr7 &^= dr7FieldMask(arch.DRReg(slot))
		dr7 |= localEnable | typeBits | lenBits
		m.a.SetDR7(ctx, dr7)
	}
}

// MatchedSlot returns the lowest-index DR slot whose DR6 status bit is
// set, or -1 if none matched.
func (m *Manager) MatchedSlot(dr6 uint64) int {
	for i := 0; i < 4; i++ {
		if dr6&(1<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}

// HandleHardwareBreakpointHit clears the matching DR6 bit and, on a
// RESTORE action, arranges the correct re-arm per access type: TF-step
// for WRITE/READWRITE, and a clear-then-restore of the local-enable bit
// across one single step for EXECUTE (since DR6 for an execute
// breakpoint is reported before the instruction retires).
func (m *Manager) HandleHardwareBreakpointHit(thread *debugtarget.ThreadRec, ctx arch.Context, slot arch.DRReg, action Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dr6 := m.a.GetDR6(ctx)
	dr6 &^= 1 << uint(slot)
	m.a.SetDR6(ctx, dr6)

	hw := m.hw[slot]
	switch action {
	case ActionBreak:
		thread.Step = debugtarget.StepOverState{Kind: debugtarget.StepNone}
		return nil
	case ActionRestore:
		m.a.SetFlag(ctx, arch.FlagTF, true)
		if hw != nil && hw.Access == arch.AccessExecute {
			dr7 := m.a.GetDR7(ctx)
			dr7 &^= uint64(1) << (uint(slot) * 2)
			m.a.SetDR7(ctx, dr7)
		}
		thread.Step = debugtarget.StepOverState{Kind: debugtarget.StepResumingHW, DRSlot: int(slot)}
	}
	return nil
}

// HandleHardwareSingleStepRearm completes the resuming-hw transition:
// restores the DR7 local-enable bit (only needed for the EXECUTE case,
// where HandleHardwareBreakpointHit cleared it) and clears TF.
func (m *Manager) HandleHardwareSingleStepRearm(thread *debugtarget.ThreadRec, ctx arch.Context) bool {
	if thread.Step.Kind != debugtarget.StepResumingHW {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	slot := arch.DRReg(thread.Step.DRSlot)
	if hw := m.hw[slot]; hw != nil && hw.Access == arch.AccessExecute {
		dr7 := m.a.GetDR7(ctx)
		dr7 |= uint64(1) << (uint(slot) * 2)
		m.a.SetDR7(ctx, dr7)
	}
	m.a.SetFlag(ctx, arch.FlagTF, false)
	thread.Step = debugtarget.StepOverState{Kind: debugtarget.StepNone}
	return true
}

// ClearOnThreadExit drops any transient step state for a thread that has
// exited. The ThreadRec itself is removed from the Target table by the
// caller; this exists for symmetry and as a hook for future per-thread
// HW bookkeeping.
func (m *Manager) ClearOnThreadExit(thread *debugtarget.ThreadRec) {
	thread.Step = debugtarget.StepOverState{Kind: debugtarget.StepNone}
}
