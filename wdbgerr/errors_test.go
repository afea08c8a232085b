package wdbgerr

import (
	"errors"
	"strings"
	"testing"
)

func TestNewIsMatchesSentinel(t *testing.T) {
	err := New(KindDuplicateBreakpoint, "set_breakpoint")
	if !errors.Is(err, DuplicateBreakpoint) {
		t.Errorf("New(%v) should match its sentinel via errors.Is", KindDuplicateBreakpoint)
	}
	if errors.Is(err, UnknownBreakpoint) {
		t.Errorf("New(%v) should not match an unrelated sentinel", KindDuplicateBreakpoint)
	}
}

func TestWrapUnwrapsUnderlyingError(t *testing.T) {
	underlying := errors.New("access is denied")
	err := Wrap(KindAccessDenied, "read_memory", 5, underlying)

	if !errors.Is(err, AccessDenied) {
		t.Error("Wrap should match its sentinel via errors.Is")
	}
	if !errors.Is(err, underlying) {
		t.Error("Wrap should preserve the underlying error for errors.Is/Unwrap")
	}

	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("Wrap should produce an *Error")
	}
	if e.Code != 5 {
		t.Errorf("Code = %d, want 5", e.Code)
	}
}

func TestErrorStringIncludesContext(t *testing.T) {
	err := New(KindArchMismatch, "get_register: ZMM0")
	msg := err.Error()
	if msg == "" {
		t.Fatal("Error() returned empty string")
	}
	if !strings.Contains(msg, "get_register: ZMM0") {
		t.Errorf("Error() = %q, want it to include the context string", msg)
	}
	if !errors.Is(err, ArchMismatch) {
		t.Fatal("expected ArchMismatch sentinel match")
	}
}

func TestKindStringCoversAllKinds(t *testing.T) {
	kinds := []Kind{
		KindInvalidHandle, KindProcessNotFound, KindAccessDenied, KindMemoryReadShort,
		KindMemoryWriteProtected, KindNoFreeDebugRegister, KindDuplicateBreakpoint,
		KindUnknownBreakpoint, KindArchMismatch, KindAttachFailed, KindDetachFailed,
	}
	for _, k := range kinds {
		if k.String() == "Unknown" {
			t.Errorf("Kind %d has no String() case", k)
		}
	}
}
