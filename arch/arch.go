// Package arch defines the architecture abstraction shared by the x86
// and x64 concrete implementations: register enums, debug-register
// bookkeeping, and the handful of operations that differ by bitness.
// Everything arch-agnostic (breakpoint bookkeeping, memory I/O) lives
// one layer up, in the breakpoint and memio packages, and is written
// against this interface instead of a concrete CPU type.
package arch

import "syscall"

// Flag identifies one EFLAGS/RFLAGS bit.
type Flag int

const (
	FlagCF Flag = iota
	FlagPF
	FlagAF
	FlagZF
	FlagSF
	FlagTF
	FlagIF
	FlagDF
	FlagOF
)

// Register32 identifies one general-purpose, instruction-pointer, flags,
// or segment register on a 32-bit (x86) target.
type Register32 int

const (
	RegEAX Register32 = iota
	RegEBX
	RegECX
	RegEDX
	RegESI
	RegEDI
	RegEBP
	RegESP
	RegEIP
	RegEFLAGS
	RegCS32
	RegDS32
	RegES32
	RegSS32
	RegFS32
	RegGS32
)

// String returns the contract name ReadRegister/WriteRegister expects.
func (r Register32) String() string {
	switch r {
	case RegEAX:
		return "EAX"
	case RegEBX:
		return "EBX"
	case RegECX:
		return "ECX"
	case RegEDX:
		return "EDX"
	case RegESI:
		return "ESI"
	case RegEDI:
		return "EDI"
	case RegEBP:
		return "EBP"
	case RegESP:
		return "ESP"
	case RegEIP:
		return "EIP"
	case RegEFLAGS:
		return "EFLAGS"
	case RegCS32:
		return "CS"
	case RegDS32:
		return "DS"
	case RegES32:
		return "ES"
	case RegSS32:
		return "SS"
	case RegFS32:
		return "FS"
	case RegGS32:
		return "GS"
	default:
		return ""
	}
}

// Register64 identifies one general-purpose, instruction-pointer, flags,
// or segment register on a 64-bit (x64) target.
type Register64 int

const (
	RegRAX Register64 = iota
	RegRBX
	RegRCX
	RegRDX
	RegRSI
	RegRDI
	RegRBP
	RegRSP
	RegRIP
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15
	RegRFLAGS
	RegCS64
	RegDS64
	RegES64
	RegSS64
	RegFS64
	RegGS64
)

// String returns the contract name ReadRegister/WriteRegister expects.
func (r Register64) String() string {
	switch r {
	case RegRAX:
		return "RAX"
	case RegRBX:
		return "RBX"
	case RegRCX:
		return "RCX"
	case RegRDX:
		return "RDX"
	case RegRSI:
		return "RSI"
	case RegRDI:
		return "RDI"
	case RegRBP:
		return "RBP"
	case RegRSP:
		return "RSP"
	case RegRIP:
		return "RIP"
	case RegR8:
		return "R8"
	case RegR9:
		return "R9"
	case RegR10:
		return "R10"
	case RegR11:
		return "R11"
	case RegR12:
		return "R12"
	case RegR13:
		return "R13"
	case RegR14:
		return "R14"
	case RegR15:
		return "R15"
	case RegRFLAGS:
		return "RFLAGS"
	case RegCS64:
		return "CS"
	case RegDS64:
		return "DS"
	case RegES64:
		return "ES"
	case RegSS64:
		return "SS"
	case RegFS64:
		return "FS"
	case RegGS64:
		return "GS"
	default:
		return ""
	}
}

// Flags32 and Flags64 are the EFLAGS/RFLAGS bit identifiers exposed per
// bitness; both bitnesses share the same bit layout and the same Flag
// values, so both are aliases of Flag rather than separate types.
type Flags32 = Flag
type Flags64 = Flag

// DRReg identifies one of the four address-holding debug registers.
type DRReg int

const (
	DR0 DRReg = iota
	DR1
	DR2
	DR3
)

// AccessType is the trigger condition for a hardware breakpoint.
type AccessType int

const (
	AccessExecute AccessType = iota
	AccessWrite
	AccessReadWrite
)

// BreakpointLength is the byte width a hardware breakpoint watches.
type BreakpointLength int

const (
	LengthByte  BreakpointLength = 1
	LengthWord  BreakpointLength = 2
	LengthDword BreakpointLength = 4
	LengthQword BreakpointLength = 8
)

// Context is an opaque, architecture-owned snapshot of a thread's
// register file. Only the owning Arch implementation interprets its
// contents; callers route every access through Arch methods.
type Context interface {
	// Native returns the underlying *winapi.Context386 or *winapi.Context64
	// as an unsafe pointer-compatible value, for use by winapi syscalls.
	Native() any
}

// Arch is implemented once per supported bitness (x86, x64).
type Arch interface {
	Name() string
	PointerSize() int // 4 or 8

	// NewContext allocates a zero-valued, arch-native Context.
	NewContext() Context

	GetThreadContext(thread syscall.Handle, ctx Context) error
	SetThreadContext(thread syscall.Handle, ctx Context) error

	// ReadRegister/WriteRegister accept the register's contract name
	// ("EAX", "RAX", "R8", "EIP", "RIP", ...) case-insensitively.
	ReadRegister(ctx Context, name string) (uint64, bool)
	WriteRegister(ctx Context, name string, value uint64) bool

	SetFlag(ctx Context, flag Flag, set bool)
	GetFlag(ctx Context, flag Flag) bool

	InstructionPointerGet(ctx Context) uint64
	InstructionPointerSet(ctx Context, addr uint64)

	// ProgramCounterRewind moves the instruction pointer back by n
	// bytes, used after an INT3 trap to undo the OS's post-fault IP.
	ProgramCounterRewind(ctx Context, n uint64)

	// Debug register access, used by the hardware breakpoint manager.
	GetDebugRegister(ctx Context, reg DRReg) uint64
	SetDebugRegister(ctx Context, reg DRReg, addr uint64)
	GetDR6(ctx Context) uint64
	SetDR6(ctx Context, value uint64)
	GetDR7(ctx Context) uint64
	SetDR7(ctx Context, value uint64)

	BreakpointInstruction() []byte
	BreakpointSize() uint64
}
