// Package engine ties together arch, debugtarget, memio, and breakpoint
// into the event loop, dispatcher, and lifecycle that drive a live
// Windows debuggee: freeze/resume, breakpoint dispatch, per-thread
// bookkeeping.
package engine

import "github.com/intuitionamiga/wdbgcore/breakpoint"

// AccessType classifies an access-violation fault.
type AccessType int

const (
	AccessRead AccessType = iota
	AccessWrite
	AccessExecute
)

// Callbacks is the full event surface a user overrides. DefaultCallbacks
// below supplies no-op implementations so a caller only overrides what
// it cares about, by embedding it rather than implementing every method.
type Callbacks interface {
	OnStart(imageBase, entryPoint uint64)
	OnEnd(exitCode int32, pid uint32)
	OnAttach()
	OnThreadCreate(threadHandle uintptr, tid uint32, tebBase, startAddress uint64)
	OnThreadExit(tid uint32)
	OnDLLLoad(address uint64, dllName string, entryPoint uint64) bool
	OnDLLUnload(address uint64, dllName string)
	OnBreakpoint(address uint64, threadHandle uintptr) breakpoint.Action
	OnHardwareBreakpoint(address uint64, threadHandle uintptr, drSlot int) breakpoint.Action
	OnSingleStep(address uint64, threadHandle uintptr)
	OnDebugString(text string)
	OnAccessViolation(atAddress, faultingAddress uint64, access AccessType)
	OnRIPError(ripInfo uint64)
	OnUnknownException(address uint64, exceptionCode uint32)
	OnUnknownDebugEvent(eventCode uint32)

	// OnCallbackError is invoked when a user callback panics, so the
	// loop can log and continue rather than taking down the whole
	// debugger.
	OnCallbackError(event string, recovered any)
}

// DefaultCallbacks is a no-op implementation of Callbacks; embed it and
// override only the methods you need.
type DefaultCallbacks struct{}

func (DefaultCallbacks) OnStart(uint64, uint64)                                        {}
func (DefaultCallbacks) OnEnd(int32, uint32)                                            {}
func (DefaultCallbacks) OnAttach()                                                      {}
func (DefaultCallbacks) OnThreadCreate(uintptr, uint32, uint64, uint64)                 {}
func (DefaultCallbacks) OnThreadExit(uint32)                                            {}
func (DefaultCallbacks) OnDLLLoad(uint64, string, uint64) bool                          { return true }
func (DefaultCallbacks) OnDLLUnload(uint64, string)                                     {}
func (DefaultCallbacks) OnBreakpoint(uint64, uintptr) breakpoint.Action                 { return breakpoint.ActionBreak }
func (DefaultCallbacks) OnHardwareBreakpoint(uint64, uintptr, int) breakpoint.Action    { return breakpoint.ActionBreak }
func (DefaultCallbacks) OnSingleStep(uint64, uintptr)                                   {}
func (DefaultCallbacks) OnDebugString(string)                                           {}
func (DefaultCallbacks) OnAccessViolation(uint64, uint64, AccessType)                   {}
func (DefaultCallbacks) OnRIPError(uint64)                                              {}
func (DefaultCallbacks) OnUnknownException(uint64, uint32)                              {}
func (DefaultCallbacks) OnUnknownDebugEvent(uint32)                                     {}
func (DefaultCallbacks) OnCallbackError(string, any)                                    {}
