// Package wdbgerr defines the typed error kinds surfaced by the debug engine.
package wdbgerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the well-known failure categories an engine
// operation can fail with. Callers that need to branch on failure mode
// should compare with errors.Is against the sentinel values below rather
// than inspecting Kind directly.
type Kind int

const (
	KindInvalidHandle Kind = iota
	KindProcessNotFound
	KindAccessDenied
	KindMemoryReadShort
	KindMemoryWriteProtected
	KindNoFreeDebugRegister
	KindDuplicateBreakpoint
	KindUnknownBreakpoint
	KindArchMismatch
	KindAttachFailed
	KindDetachFailed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidHandle:
		return "InvalidHandle"
	case KindProcessNotFound:
		return "ProcessNotFound"
	case KindAccessDenied:
		return "AccessDenied"
	case KindMemoryReadShort:
		return "MemoryReadShort"
	case KindMemoryWriteProtected:
		return "MemoryWriteProtected"
	case KindNoFreeDebugRegister:
		return "NoFreeDebugRegister"
	case KindDuplicateBreakpoint:
		return "DuplicateBreakpoint"
	case KindUnknownBreakpoint:
		return "UnknownBreakpoint"
	case KindArchMismatch:
		return "ArchMismatch"
	case KindAttachFailed:
		return "AttachFailed"
	case KindDetachFailed:
		return "DetachFailed"
	default:
		return "Unknown"
	}
}

// sentinels, one per Kind, so errors.Is(err, wdbgerr.InvalidHandle) works
// after wrapping with New/Wrap.
var (
	InvalidHandle        = errors.New("invalid handle")
	ProcessNotFound       = errors.New("process not found")
	AccessDenied          = errors.New("access denied")
	MemoryReadShort       = errors.New("short memory read")
	MemoryWriteProtected  = errors.New("memory write protected")
	NoFreeDebugRegister   = errors.New("no free debug register")
	DuplicateBreakpoint   = errors.New("duplicate breakpoint")
	UnknownBreakpoint     = errors.New("unknown breakpoint")
	ArchMismatch          = errors.New("register not valid for target architecture")
	AttachFailed          = errors.New("attach failed")
	DetachFailed          = errors.New("detach failed")
)

var kindToSentinel = map[Kind]error{
	KindInvalidHandle:       InvalidHandle,
	KindProcessNotFound:     ProcessNotFound,
	KindAccessDenied:        AccessDenied,
	KindMemoryReadShort:     MemoryReadShort,
	KindMemoryWriteProtected: MemoryWriteProtected,
	KindNoFreeDebugRegister: NoFreeDebugRegister,
	KindDuplicateBreakpoint: DuplicateBreakpoint,
	KindUnknownBreakpoint:   UnknownBreakpoint,
	KindArchMismatch:        ArchMismatch,
	KindAttachFailed:        AttachFailed,
	KindDetachFailed:        DetachFailed,
}

// Error wraps a Kind, an originating Windows error (when there is one),
// and a short human-readable context string.
type Error struct {
	Kind    Kind
	Context string
	Code    uintptr // raw GetLastError()/NTSTATUS value, 0 if not applicable
	Err     error   // underlying error, usually a syscall.Errno
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code 0x%x): %v", e.Kind, e.Context, e.Code, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Context)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, wdbgerr.InvalidHandle) succeed for any *Error
// of the matching Kind, regardless of the wrapped Windows error.
func (e *Error) Is(target error) bool {
	return kindToSentinel[e.Kind] == target
}

// New builds an *Error with no underlying OS error.
func New(kind Kind, context string) error {
	return &Error{Kind: kind, Context: context}
}

// Wrap attaches a Kind and context to an underlying error, typically a
// syscall.Errno surfaced from a Windows API call.
func Wrap(kind Kind, context string, code uintptr, err error) error {
	return &Error{Kind: kind, Context: context, Code: code, Err: err}
}
