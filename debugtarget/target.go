// Package debugtarget owns the live OS-handle tables for a debuggee: the
// process itself, its threads, and its loaded modules. One thread handle
// is tracked per live OS thread, mutated only from the engine's single
// dispatch goroutine.
package debugtarget

import "syscall"

// Bitness identifies the pointer width of a debuggee image.
type Bitness int

const (
	Bitness32 Bitness = 32
	Bitness64 Bitness = 64
)

// StepKind is the per-thread step-over state machine driving re-arm
// after a breakpoint hit.
type StepKind int

const (
	StepNone StepKind = iota
	StepResumingSW
	StepResumingHW
)

// StepOverState tracks the transient re-arm needed after a breakpoint
// hit with a RESTORE action. It lives per-thread on the ThreadRec so
// concurrent breakpoint hits on different threads don't clobber each
// other's re-arm.
type StepOverState struct {
	Kind      StepKind
	BPAddress uint64 // valid when Kind == StepResumingSW
	DRSlot    int    // valid when Kind == StepResumingHW
}

// ThreadRec is one live debuggee thread.
type ThreadRec struct {
	TID    uint32
	Handle syscall.Handle
	Step   StepOverState
}

// ModuleRec is one loaded module (the debuggee's own image, or a DLL).
type ModuleRec struct {
	Base  uint64
	Name  string
	Entry uint64
}

// Debuggee is the process under debug.
type Debuggee struct {
	PID           uint32
	ProcessHandle syscall.Handle
	ImageBase     uint64
	EntryPoint    uint64
	Bitness       Bitness
	Attached      bool // true when reached via Attach rather than Launch
}

// Target is the full live-state table for one debug session: the
// debuggee plus every thread and module currently known, created by
// Lifecycle and mutated only from the event loop.
type Target struct {
	Debuggee *Debuggee
	Threads  map[uint32]*ThreadRec
	Modules  map[uint64]*ModuleRec

	// MainThreadID is the thread named by CREATE_PROCESS_DEBUG_EVENT.
	MainThreadID uint32
}

// New creates an empty Target for the given debuggee.
func New(d *Debuggee) *Target {
	return &Target{
		Debuggee: d,
		Threads:  make(map[uint32]*ThreadRec),
		Modules:  make(map[uint64]*ModuleRec),
	}
}

// AddThread records a new live thread, returning its ThreadRec.
func (t *Target) AddThread(tid uint32, handle syscall.Handle) *ThreadRec {
	rec := &ThreadRec{TID: tid, Handle: handle}
	t.Threads[tid] = rec
	return rec
}

// RemoveThread forgets a thread that has exited.
func (t *Target) RemoveThread(tid uint32) {
	delete(t.Threads, tid)
}

// Thread looks up a live thread by id.
func (t *Target) Thread(tid uint32) (*ThreadRec, bool) {
	rec, ok := t.Threads[tid]
	return rec, ok
}

// AddModule records a newly loaded module.
func (t *Target) AddModule(base uint64, name string, entry uint64) *ModuleRec {
	rec := &ModuleRec{Base: base, Name: name, Entry: entry}
	t.Modules[base] = rec
	return rec
}

// RemoveModule forgets an unloaded module.
func (t *Target) RemoveModule(base uint64) {
	delete(t.Modules, base)
}

// AllThreadHandles returns every live thread handle, for operations that
// must touch every thread (e.g. installing a process-wide hardware
// breakpoint, or clearing debug registers on detach).
func (t *Target) AllThreadHandles() []syscall.Handle {
	out := make([]syscall.Handle, 0, len(t.Threads))
	for _, rec := range t.Threads {
		out = append(out, rec.Handle)
	}
	return out
}
