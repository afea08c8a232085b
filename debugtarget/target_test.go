package debugtarget

import "testing"

func TestAddAndRemoveThread(t *testing.T) {
	target := New(&Debuggee{PID: 1234})

	rec := target.AddThread(1, 0)
	if rec.TID != 1 {
		t.Fatalf("AddThread returned TID %d, want 1", rec.TID)
	}
	if _, ok := target.Thread(1); !ok {
		t.Fatal("Thread(1) should be found after AddThread")
	}

	target.RemoveThread(1)
	if _, ok := target.Thread(1); ok {
		t.Fatal("Thread(1) should not be found after RemoveThread")
	}
}

func TestAddAndRemoveModule(t *testing.T) {
	target := New(&Debuggee{})
	target.AddModule(0x10000000, "ntdll.dll", 0x10001000)
	if _, ok := target.Modules[0x10000000]; !ok {
		t.Fatal("module should be present after AddModule")
	}
	target.RemoveModule(0x10000000)
	if _, ok := target.Modules[0x10000000]; ok {
		t.Fatal("module should be gone after RemoveModule")
	}
}

func TestAllThreadHandlesCountsLiveThreads(t *testing.T) {
	target := New(&Debuggee{})
	target.AddThread(1, 1)
	target.AddThread(2, 2)
	target.AddThread(3, 3)
	target.RemoveThread(2)

	handles := target.AllThreadHandles()
	if len(handles) != 2 {
		t.Fatalf("AllThreadHandles returned %d handles, want 2", len(handles))
	}
}

func TestStepOverStateDefaultsToNone(t *testing.T) {
	target := New(&Debuggee{})
	rec := target.AddThread(1, 0)
	if rec.Step.Kind != StepNone {
		t.Errorf("new ThreadRec.Step.Kind = %v, want StepNone", rec.Step.Kind)
	}
}
