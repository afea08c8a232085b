// Package x86 implements arch.Arch for 32-bit x86 targets: register
// access against a real CONTEXT fetched via GetThreadContext/
// SetThreadContext.
package x86

import (
	"strings"
	"syscall"
	"unsafe"

	"github.com/intuitionamiga/wdbgcore/arch"
	"github.com/intuitionamiga/wdbgcore/winapi"
)

type x86Arch struct{}

// New returns the x86 architecture implementation.
func New() arch.Arch { return x86Arch{} }

func (x86Arch) Name() string      { return "x86" }
func (x86Arch) PointerSize() int  { return 4 }

type ctx32 struct {
	c winapi.Context386
}

func (c *ctx32) Native() any { return &c.c }

func (x86Arch) NewContext() arch.Context {
	c := &ctx32{}
	c.c.ContextFlags = winapi.ContextX86Full | winapi.ContextX86Debug
	return c
}

func asCtx32(c arch.Context) *ctx32 {
	cc, ok := c.(*ctx32)
	if !ok {
		panic("x86: wrong Context type")
	}
	return cc
}

func (x86Arch) GetThreadContext(thread syscall.Handle, ctx arch.Context) error {
	c := asCtx32(ctx)
	return winapi.GetThreadContext(thread, unsafe.Pointer(&c.c))
}

func (x86Arch) SetThreadContext(thread syscall.Handle, ctx arch.Context) error {
	c := asCtx32(ctx)
	return winapi.SetThreadContext(thread, unsafe.Pointer(&c.c))
}

func (x86Arch) ReadRegister(ctx arch.Context, name string) (uint64, bool) {
	c := &asCtx32(ctx).c
	switch strings.ToUpper(name) {
	case "EAX":
		return uint64(c.Eax), true
	case "EBX":
		return uint64(c.Ebx), true
	case "ECX":
		return uint64(c.Ecx), true
	case "EDX":
		return uint64(c.Edx), true
	case "ESI":
		return uint64(c.Esi), true
	case "EDI":
		return uint64(c.Edi), true
	case "EBP":
		return uint64(c.Ebp), true
	case "ESP":
		return uint64(c.Esp), true
	case "EIP":
		return uint64(c.Eip), true
	case "EFLAGS", "FLAGS":
		return uint64(c.EFlags), true
	case "CS":
		return uint64(c.SegCs), true
	case "DS":
		return uint64(c.SegDs), true
	case "ES":
		return uint64(c.SegEs), true
	case "SS":
		return uint64(c.SegSs), true
	case "FS":
		return uint64(c.SegFs), true
	case "GS":
		return uint64(c.SegGs), true
	}
	return 0, false
}

func (x86Arch) WriteRegister(ctx arch.Context, name string, value uint64) bool {
	c := &asCtx32(ctx).c
	switch strings.ToUpper(name) {
	case "EAX":
		c.Eax = uint32(value)
	case "EBX":
		c.Ebx = uint32(value)
	case "ECX":
		c.Ecx = uint32(value)
	case "EDX":
		c.Edx = uint32(value)
	case "ESI":
		c.Esi = uint32(value)
	case "EDI":
		c.Edi = uint32(value)
	case "EBP":
		c.Ebp = uint32(value)
	case "ESP":
		c.Esp = uint32(value)
	case "EIP":
		c.Eip = uint32(value)
	case "EFLAGS", "FLAGS":
		c.EFlags = uint32(value)
	case "CS":
		c.SegCs = uint32(value)
	case "DS":
		c.SegDs = uint32(value)
	case "ES":
		c.SegEs = uint32(value)
	case "SS":
		c.SegSs = uint32(value)
	case "FS":
		c.SegFs = uint32(value)
	case "GS":
		c.SegGs = uint32(value)
	default:
		return false
	}
	return true
}

func flagBit(f arch.Flag) uint32 {
	switch f {
	case arch.FlagCF:
		return winapi.FlagCF
	case arch.FlagPF:
		return winapi.FlagPF
	case arch.FlagAF:
		return winapi.FlagAF
	case arch.FlagZF:
		return winapi.FlagZF
	case arch.FlagSF:
		return winapi.FlagSF
	case arch.FlagTF:
		return winapi.FlagTF
	case arch.FlagIF:
		return winapi.FlagIF
	case arch.FlagDF:
		return winapi.FlagDF
	case arch.FlagOF:
		return winapi.FlagOF
	}
	return 0
}

func (x86Arch) SetFlag(ctx arch.Context, flag arch.Flag, set bool) {
	c := &asCtx32(ctx).c
	bit := flagBit(flag)
	if set {
		c.EFlags |= bit
	} else {
		c.EFlags &^= bit
	}
}

func (x86Arch) GetFlag(ctx arch.Context, flag arch.Flag) bool {
	c := &asCtx32(ctx).c
	return c.EFlags&flagBit(flag) != 0
}

func (x86Arch) InstructionPointerGet(ctx arch.Context) uint64 {
	return uint64(asCtx32(ctx).c.Eip)
}

func (x86Arch) InstructionPointerSet(ctx arch.Context, addr uint64) {
	asCtx32(ctx).c.Eip = uint32(addr)
}

func (x86Arch) ProgramCounterRewind(ctx arch.Context, n uint64) {
	c := &asCtx32(ctx).c
	c.Eip -= uint32(n)
}

func (x86Arch) GetDebugRegister(ctx arch.Context, reg arch.DRReg) uint64 {
	c := &asCtx32(ctx).c
	switch reg {
	case arch.DR0:
		return uint64(c.Dr0)
	case arch.DR1:
		return uint64(c.Dr1)
	case arch.DR2:
		return uint64(c.Dr2)
	case arch.DR3:
		return uint64(c.Dr3)
	}
	return 0
}

func (x86Arch) SetDebugRegister(ctx arch.Context, reg arch.DRReg, addr uint64) {
	c := &asCtx32(ctx).c
	switch reg {
	case arch.DR0:
		c.Dr0 = uint32(addr)
	case arch.DR1:
		c.Dr1 = uint32(addr)
	case arch.DR2:
		c.Dr2 = uint32(addr)
	case arch.DR3:
		c.Dr3 = uint32(addr)
	}
}

func (x86Arch) GetDR6(ctx arch.Context) uint64     { return uint64(asCtx32(ctx).c.Dr6) }
func (x86Arch) SetDR6(ctx arch.Context, v uint64)  { asCtx32(ctx).c.Dr6 = uint32(v) }
func (x86Arch) GetDR7(ctx arch.Context) uint64     { return uint64(asCtx32(ctx).c.Dr7) }
func (x86Arch) SetDR7(ctx arch.Context, v uint64)  { asCtx32(ctx).c.Dr7 = uint32(v) }

func (x86Arch) BreakpointInstruction() []byte { return []byte{0xCC} }
func (x86Arch) BreakpointSize() uint64        { return 1 }
