// Command wdbgdemo is a minimal host for the debug engine: launch or
// attach to a target, optionally set one breakpoint by RVA and hide the
// debugger, and print process start/exit, DLL loads, breakpoint hits,
// debug strings and callback errors to the terminal. It takes no
// commands while running.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/intuitionamiga/wdbgcore/breakpoint"
	"github.com/intuitionamiga/wdbgcore/engine"
)

type demoCallbacks struct {
	engine.DefaultCallbacks
	out      *bufio.Writer
	eng      *engine.Engine
	breakRVA uint64
	hasBreak bool
	hide     bool
}

func (d *demoCallbacks) OnStart(imageBase, entryPoint uint64) {
	fmt.Fprintf(d.out, "start: image base=0x%x entry=0x%x\n", imageBase, entryPoint)
	if d.hide {
		if err := d.eng.HideDebugger(); err != nil {
			fmt.Fprintf(d.out, "hide_debugger: %v\n", err)
		}
	}
	if d.hasBreak {
		addr := d.eng.ASLR(d.breakRVA)
		if err := d.eng.SetBreakpoint(addr); err != nil {
			fmt.Fprintf(d.out, "set_breakpoint(0x%x): %v\n", addr, err)
		}
	}
	d.out.Flush()
}

func (d *demoCallbacks) OnEnd(exitCode int32, pid uint32) {
	fmt.Fprintf(d.out, "process %d exited with code %d\n", pid, exitCode)
	d.out.Flush()
}

func (d *demoCallbacks) OnDLLLoad(address uint64, dllName string, entryPoint uint64) bool {
	fmt.Fprintf(d.out, "load dll %q at 0x%x\n", dllName, address)
	d.out.Flush()
	return true
}

func (d *demoCallbacks) OnBreakpoint(address uint64, threadHandle uintptr) breakpoint.Action {
	fmt.Fprintf(d.out, "breakpoint hit at 0x%x\n", address)
	d.out.Flush()
	return breakpoint.ActionRestore
}

func (d *demoCallbacks) OnDebugString(text string) {
	fmt.Fprintf(d.out, "debug string: %s\n", strings.TrimRight(text, "\x00"))
	d.out.Flush()
}

func (d *demoCallbacks) OnCallbackError(event string, recovered any) {
	fmt.Fprintf(d.out, "callback error during %s: %v\n", event, recovered)
	d.out.Flush()
}

func main() {
	launchCmd := flag.String("launch", "", "command line to launch as a debuggee")
	attachPID := flag.Uint("attach", 0, "pid to attach to")
	breakRVA := flag.String("break", "", "hex RVA to set a breakpoint at once attached, e.g. 0x1000")
	hideDebugger := flag.Bool("hide", false, "clear PEB/heap debugger-detection flags once attached")
	flag.Parse()

	if *launchCmd == "" && *attachPID == 0 {
		fmt.Fprintln(os.Stderr, "usage: wdbgdemo -launch \"program.exe args\" | -attach PID [-break 0xRVA]")
		os.Exit(2)
	}

	// Only print the running banner if stdout is actually a tty.
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))

	cb := &demoCallbacks{out: bufio.NewWriter(os.Stdout), hide: *hideDebugger}
	if *breakRVA != "" {
		rva, perr := strconv.ParseUint(strings.TrimPrefix(*breakRVA, "0x"), 16, 64)
		if perr != nil {
			fmt.Fprintf(os.Stderr, "wdbgdemo: bad -break value %q: %v\n", *breakRVA, perr)
			os.Exit(2)
		}
		cb.breakRVA, cb.hasBreak = rva, true
	}

	var eng *engine.Engine
	var err error
	if *launchCmd != "" {
		eng, err = engine.Launch(*launchCmd, cb)
	} else {
		eng, err = engine.Attach(uint32(*attachPID), cb)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "wdbgdemo: %v\n", err)
		os.Exit(1)
	}
	cb.eng = eng

	if isTTY {
		fmt.Println("wdbgdemo: running; press Ctrl+C to quit")
	}

	if err := eng.Loop(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "wdbgdemo: loop: %v\n", err)
		os.Exit(1)
	}
}
