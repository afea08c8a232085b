// Package x64 implements arch.Arch for 64-bit x64 targets, the sibling
// of arch/x86: one concrete implementation per bitness, selected at
// runtime from the debuggee's WOW64 status.
package x64

import (
	"strings"
	"syscall"
	"unsafe"

	"github.com/intuitionamiga/wdbgcore/arch"
	"github.com/intuitionamiga/wdbgcore/winapi"
)

type x64Arch struct{}

// New returns the x64 architecture implementation.
func New() arch.Arch { return x64Arch{} }

func (x64Arch) Name() string     { return "x64" }
func (x64Arch) PointerSize() int { return 8 }

type ctx64 struct {
	c winapi.Context64
}

func (c *ctx64) Native() any { return &c.c }

func (x64Arch) NewContext() arch.Context {
	c := &ctx64{}
	c.c.ContextFlags = winapi.ContextAmd64Full | winapi.ContextAmd64Debug
	return c
}

func asCtx64(c arch.Context) *ctx64 {
	cc, ok := c.(*ctx64)
	if !ok {
		panic("x64: wrong Context type")
	}
	return cc
}

func (x64Arch) GetThreadContext(thread syscall.Handle, ctx arch.Context) error {
	c := asCtx64(ctx)
	return winapi.GetThreadContext(thread, unsafe.Pointer(&c.c))
}

func (x64Arch) SetThreadContext(thread syscall.Handle, ctx arch.Context) error {
	c := asCtx64(ctx)
	return winapi.SetThreadContext(thread, unsafe.Pointer(&c.c))
}

func (x64Arch) ReadRegister(ctx arch.Context, name string) (uint64, bool) {
	c := &asCtx64(ctx).c
	switch strings.ToUpper(name) {
	case "RAX":
		return c.Rax, true
	case "RBX":
		return c.Rbx, true
	case "RCX":
		return c.Rcx, true
	case "RDX":
		return c.Rdx, true
	case "RSI":
		return c.Rsi, true
	case "RDI":
		return c.Rdi, true
	case "RBP":
		return c.Rbp, true
	case "RSP":
		return c.Rsp, true
	case "RIP":
		return c.Rip, true
	case "R8":
		return c.R8, true
	case "R9":
		return c.R9, true
	case "R10":
		return c.R10, true
	case "R11":
		return c.R11, true
	case "R12":
		return c.R12, true
	case "R13":
		return c.R13, true
	case "R14":
		return c.R14, true
	case "R15":
		return c.R15, true
	case "RFLAGS", "FLAGS":
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

func (x64Arch) WriteRegister(ctx arch.Context, name string, value uint64) bool {
	c := &asCtx64(ctx).c
	switch strings.ToUpper(name) {
	case "RAX":
		c.Rax = value
	case "RBX":
		c.Rbx = value
	case "RCX":
		c.Rcx = value
	case "RDX":
		c.Rdx = value
	case "RSI":
		c.Rsi = value
	case "RDI":
		c.Rdi = value
	case "RBP":
		c.Rbp = value
	case "RSP":
		c.Rsp = value
	case "RIP":
		c.Rip = value
	case "R8":
		c.R8 = value
	case "R9":
		c.R9 = value
	case "R10":
		c.R10 = value
	case "R11":
		c.R11 = value
	case "R12":
		c.R12 = value
	case "R13":
		c.R13 = value
	case "R14":
		c.R14 = value
	case "R15":
		c.R15 = value
	case "RFLAGS", "FLAGS":
		c.EFlags = uint32(value)
	case "CS":
		c.SegCs = uint16(value)
	case "DS":
		c.SegDs = uint16(value)
	case "ES":
		c.SegEs = uint16(value)
	case "SS":
		c.SegSs = uint16(value)
	case "FS":
		c.SegFs = uint16(value)
	case "GS":
		c.SegGs = uint16(value)
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

func (x64Arch) SetFlag(ctx arch.Context, flag arch.Flag, set bool) {
	c := &asCtx64(ctx).c
	bit := flagBit(flag)
	if set {
		c.EFlags |= bit
	} else {
		c.EFlags &^= bit
	}
}

func (x64Arch) GetFlag(ctx arch.Context, flag arch.Flag) bool {
	c := &asCtx64(ctx).c
	return c.EFlags&flagBit(flag) != 0
}

func (x64Arch) InstructionPointerGet(ctx arch.Context) uint64 {
	return asCtx64(ctx).c.Rip
}

func (x64Arch) InstructionPointerSet(ctx arch.Context, addr uint64) {
	asCtx64(ctx).c.Rip = addr
}

func (x64Arch) ProgramCounterRewind(ctx arch.Context, n uint64) {
	asCtx64(ctx).c.Rip -= n
}

func (x64Arch) GetDebugRegister(ctx arch.Context, reg arch.DRReg) uint64 {
	c := &asCtx64(ctx).c
	switch reg {
	case arch.DR0:
		return c.Dr0
	case arch.DR1:
		return c.Dr1
	case arch.DR2:
		return c.Dr2
	case arch.DR3:
		return c.Dr3
	}
	return 0
}

func (x64Arch) SetDebugRegister(ctx arch.Context, reg arch.DRReg, addr uint64) {
	c := &asCtx64(ctx).c
	switch reg {
	case arch.DR0:
		c.Dr0 = addr
	case arch.DR1:
		c.Dr1 = addr
	case arch.DR2:
		c.Dr2 = addr
	case arch.DR3:
		c.Dr3 = addr
	}
}

func (x64Arch) GetDR6(ctx arch.Context) uint64    { return asCtx64(ctx).c.Dr6 }
func (x64Arch) SetDR6(ctx arch.Context, v uint64) { asCtx64(ctx).c.Dr6 = v }
func (x64Arch) GetDR7(ctx arch.Context) uint64    { return asCtx64(ctx).c.Dr7 }
func (x64Arch) SetDR7(ctx arch.Context, v uint64) { asCtx64(ctx).c.Dr7 = v }

func (x64Arch) BreakpointInstruction() []byte { return []byte{0xCC} }
func (x64Arch) BreakpointSize() uint64        { return 1 }
