// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tracer is the execution controller (component 4.F): a
// per-thread state machine combined with a process-wide reconciliation
// loop, the resume/step-over/step-in/step-out protocols, the signal
// policy table, and event routing for clone/exec/exit.
//
// Grounded on the teacher's program/server.go run loop (the single
// goroutine that owns every ptrace call and decides what a stop means),
// generalized from one tracee to a thread group the way a modern
// PTRACE_SEIZE-based debugger must.
package tracer

import (
	"bufio"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/sirupsen/logrus"

	"github.com/tracebreak/tracebreak/arch"
	"github.com/tracebreak/tracebreak/breakpoint"
	"github.com/tracebreak/tracebreak/errkind"
	"github.com/tracebreak/tracebreak/inject"
	"github.com/tracebreak/tracebreak/internal/trace"
	"github.com/tracebreak/tracebreak/objfile"
	"github.com/tracebreak/tracebreak/symtab"
	"github.com/tracebreak/tracebreak/unwind"
)

// OutputLine is one line the debuggee wrote to stdout or stderr, forwarded
// to the front-end ( "the inferior's standard output and standard
// error are captured and forwarded to the front-end as OutputLine
// events").
type OutputLine struct {
	Stream string // "stdout" or "stderr"
	Text   string
}

// ObjectEvent reports a shared library entering or leaving the catalog,
// driven by the dynamic linker rendezvous walk in refreshCatalog.
type ObjectEvent struct {
	Object *objfile.Object
	Loaded bool
}

// ThreadState is a thread's place in the per-thread state machine.
type ThreadState int

const (
	Running ThreadState = iota
	Stopped
	Exited
)

// StopReason is why a stopped thread is stopped: one of breakpoint,
// watchpoint, single-step, signal, new-thread, exited, forked, or exec.
type StopReason int

const (
	ReasonNone StopReason = iota
	ReasonBreakpoint
	ReasonWatchpoint
	ReasonSingleStep
	ReasonSignal
	ReasonNewThread
	ReasonExited
	ReasonForked
	ReasonExec
)

func (r StopReason) String() string {
	switch r {
	case ReasonBreakpoint:
		return "breakpoint"
	case ReasonWatchpoint:
		return "watchpoint"
	case ReasonSingleStep:
		return "single-step"
	case ReasonSignal:
		return "signal"
	case ReasonNewThread:
		return "new-thread"
	case ReasonExited:
		return "exited"
	case ReasonForked:
		return "forked"
	case ReasonExec:
		return "exec"
	default:
		return "none"
	}
}

// SignalPolicy classifies how a delivered signal is handled.
type SignalPolicy int

const (
	PassThrough SignalPolicy = iota
	Swallow
	StopWorthy
)

// Thread tracks one tracee thread's state machine position.
type Thread struct {
	Tid    int
	State  ThreadState
	Reason StopReason
	Signal int
}

// Event is one routed kernel event surfaced to the facade after a
// reconciled stop.
type Event struct {
	Tid    int
	Reason StopReason
	PC     uint64
	Signal int
	Hit    *breakpoint.Breakpoint
	Watch  *breakpoint.Watchpoint
}

// Tracer owns the ptrace runner, the breakpoint manager, the object
// catalog, and every known thread of the debuggee.
type Tracer struct {
	log     *logrus.Entry
	runner  *trace.Runner
	catalog *objfile.Catalog
	symbols *symtab.Index
	bpMgr   *breakpoint.Manager

	mu      sync.Mutex
	pid     int
	mainTid int
	threads map[int]*Thread
	policy  map[int]SignalPolicy

	output    chan OutputLine
	objEvents chan ObjectEvent
}

func New(log *logrus.Entry, catalog *objfile.Catalog, symbols *symtab.Index) *Tracer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	t := &Tracer{
		log:       log,
		runner:    trace.NewRunner(),
		catalog:   catalog,
		symbols:   symbols,
		threads:   map[int]*Thread{},
		policy:    map[int]SignalPolicy{},
		output:    make(chan OutputLine, 256),
		objEvents: make(chan ObjectEvent, 32),
	}
	t.bpMgr = breakpoint.NewManager(memoryAdapter{t}, debugRegsAdapter{t}, symbols)
	return t
}

// Output streams the debuggee's captured stdout/stderr, line by line.
func (t *Tracer) Output() <-chan OutputLine { return t.output }

// ObjectEvents streams shared-library load/unload notifications.
func (t *Tracer) ObjectEvents() <-chan ObjectEvent { return t.objEvents }

// ReadMemory and WriteMemory expose the debuggee's address space directly,
// for the facade's memory-inspection commands and the expression
// evaluator; memory is process-wide, so every read/write goes through the
// main thread regardless of which thread is selected.
func (t *Tracer) ReadMemory(addr uint64, buf []byte) error {
	return t.runner.ReadMem(t.mainTid, addr, buf)
}

func (t *Tracer) WriteMemory(addr uint64, buf []byte) error {
	return t.runner.WriteMem(t.mainTid, addr, buf)
}

// WriteRegisters sets tid's general-purpose registers, for the facade's
// register-write command.
func (t *Tracer) WriteRegisters(tid int, regs *unix.PtraceRegs) error {
	return t.runner.WriteRegs(tid, regs)
}

// Breakpoints returns the breakpoint/watchpoint manager bound to this
// tracer's memory and debug registers.
func (t *Tracer) Breakpoints() *breakpoint.Manager { return t.bpMgr }

func (t *Tracer) Close() { t.runner.Close() }

// Launch spawns path under tracing and waits for the initial stop,
// redirecting the child's stdout/stderr through pipes pumped into Output.
func (t *Tracer) Launch(path string, argv, env []string, cwd string) error {
	outR, outW, err := os.Pipe()
	if err != nil {
		return errkind.Wrap(errkind.Internal, "creating stdout pipe", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return errkind.Wrap(errkind.Internal, "creating stderr pipe", err)
	}
	pid, err := t.runner.SpawnWithIO(path, argv, env, cwd, os.Stdin, outW, errW)
	outW.Close()
	errW.Close()
	if err != nil {
		outR.Close()
		errR.Close()
		return err
	}
	go t.pumpOutput(outR, "stdout")
	go t.pumpOutput(errR, "stderr")
	return t.adopt(pid)
}

// pumpOutput forwards path's lines into t.output until the debuggee closes
// its end; a full output channel drops the line rather than blocking the
// reconciliation loop.
func (t *Tracer) pumpOutput(f *os.File, stream string) {
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		select {
		case t.output <- OutputLine{Stream: stream, Text: sc.Text()}:
		default:
		}
	}
}

// Attach seizes an already-running pid.
func (t *Tracer) Attach(pid int) error {
	if err := t.runner.Attach(pid); err != nil {
		return err
	}
	return t.adopt(pid)
}

func (t *Tracer) adopt(pid int) error {
	if err := t.runner.SetOptions(pid); err != nil {
		return err
	}
	t.mu.Lock()
	t.pid = pid
	t.mainTid = pid
	t.threads[pid] = &Thread{Tid: pid, State: Stopped, Reason: ReasonNewThread}
	t.mu.Unlock()
	return nil
}

// SetSignalPolicy overrides the default pass-through policy for signal:
// the caller may override the handling of any particular signal.
func (t *Tracer) SetSignalPolicy(signal int, p SignalPolicy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.policy[signal] = p
}

func (t *Tracer) policyFor(signal int) SignalPolicy {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.policy[signal]; ok {
		return p
	}
	return PassThrough
}

// Threads returns a snapshot of every known thread.
func (t *Tracer) Threads() []*Thread {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Thread, 0, len(t.threads))
	for _, th := range t.threads {
		out = append(out, th)
	}
	return out
}

func (t *Tracer) thread(tid int) *Thread {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.threads[tid]
}

// --- memory/debug-register adapters satisfying breakpoint.Manager's needs ---

type memoryAdapter struct{ t *Tracer }

func (m memoryAdapter) ReadMemory(addr uint64, buf []byte) error {
	return m.t.runner.ReadMem(m.t.mainTid, addr, buf)
}

func (m memoryAdapter) WriteMemory(addr uint64, buf []byte) error {
	return m.t.runner.WriteMem(m.t.mainTid, addr, buf)
}

// ReadMemory/WriteMemory also satisfy unwind.Memory, so a Tracer can be
// handed directly to unwind.NewUnwinder.
var _ unwind.Memory = memoryAdapter{}

type debugRegsAdapter struct{ t *Tracer }

func (d debugRegsAdapter) ReadDebugRegs(tid int) ([4]uint64, uint64, uint64, error) {
	regs, err := d.t.runner.ReadDebugRegs(tid)
	return regs.Addr, regs.Status, regs.Control, err
}

func (d debugRegsAdapter) WriteDebugRegs(tid int, addr [4]uint64, status, control uint64) error {
	return d.t.runner.WriteDebugRegs(tid, trace.DebugRegs{Addr: addr, Status: status, Control: control})
}

// Registers returns tid's live register set as an unwind.Registers for
// frame 0 of a backtrace.
func (t *Tracer) Registers(tid int) (unwind.Registers, *unix.PtraceRegs, error) {
	regs, err := t.runner.ReadRegs(tid)
	if err != nil {
		return unwind.Registers{}, nil, err
	}
	r := unwind.RegistersFromLive(func(n int) (uint64, bool) { return arch.RegValue(regs, n) })
	return r, regs, nil
}

// --- call injection adapter ---

// injectorThread implements inject.Thread for one tid, delegating to the
// same runner every other thread operation uses.
type injectorThread struct {
	t   *Tracer
	tid int
}

func (it injectorThread) ReadRegs() (*unix.PtraceRegs, error)   { return it.t.runner.ReadRegs(it.tid) }
func (it injectorThread) WriteRegs(r *unix.PtraceRegs) error    { return it.t.runner.WriteRegs(it.tid, r) }
func (it injectorThread) ReadMemory(addr uint64, b []byte) error  { return it.t.runner.ReadMem(it.tid, addr, b) }
func (it injectorThread) WriteMemory(addr uint64, b []byte) error { return it.t.runner.WriteMem(it.tid, addr, b) }
func (it injectorThread) Tid() int                                { return it.tid }

// ContinueAndWait resumes it.tid alone and waits only for its own next
// stop, adjusting the reported PC past an INT3 trap the same way
// classify does. Call injection is only ever invoked while the rest of
// the debuggee is already stopped (the evaluator runs inside a stop), so
// no other thread is running to race this wait.
func (it injectorThread) ContinueAndWait() (uint64, error) {
	if err := it.t.runner.Cont(it.tid, 0); err != nil {
		return 0, err
	}
	for {
		pid, status, err := it.t.runner.Wait(false)
		if err != nil {
			return 0, err
		}
		if pid != it.tid {
			continue
		}
		if !status.Stopped() {
			return 0, errkind.New(errkind.TargetGone, "thread exited during call injection")
		}
		regs, err := it.t.runner.ReadRegs(it.tid)
		if err != nil {
			return 0, err
		}
		pc := regs.Rip
		if status.StopSignal() == unix.SIGTRAP {
			pc--
		}
		return pc, nil
	}
}

// Injector returns a call-injection adapter bound to tid, for use with
// inject.New.
func (t *Tracer) Injector(tid int) inject.Thread { return injectorThread{t: t, tid: tid} }

// --- resume / step protocols ---

// Continue implements the resume protocol: any thread parked on a
// breakpoint is disarmed, single-stepped past it, and re-armed before
// every thread is continued.
func (t *Tracer) Continue() (Event, error) {
	t.mu.Lock()
	tids := make([]int, 0, len(t.threads))
	for tid := range t.threads {
		tids = append(tids, tid)
	}
	t.mu.Unlock()

	for _, tid := range tids {
		if err := t.stepOffBreakpointIfNeeded(tid); err != nil {
			return Event{}, err
		}
	}
	for _, tid := range tids {
		if err := t.runner.Cont(tid, t.pendingSignal(tid)); err != nil {
			return Event{}, err
		}
	}
	return t.reconcile()
}

func (t *Tracer) pendingSignal(tid int) int {
	th := t.thread(tid)
	if th == nil {
		return 0
	}
	if t.policyFor(th.Signal) == PassThrough && th.Signal != 0 {
		return th.Signal
	}
	return 0
}

// stepOffBreakpointIfNeeded implements the resume protocol's
// "disarm, single-step, re-arm" dance for a thread currently sitting
// on a trapped address.
func (t *Tracer) stepOffBreakpointIfNeeded(tid int) error {
	regs, err := t.runner.ReadRegs(tid)
	if err != nil {
		return err
	}
	pc := regs.Rip
	bp, ok := t.bpMgr.BreakpointAt(pc)
	if !ok {
		return nil
	}
	if err := bp.Disarm(memoryAdapter{t}, pc); err != nil {
		return err
	}
	if err := t.runner.Step(tid, 0); err != nil {
		return err
	}
	if _, _, err := t.runner.Wait(false); err != nil {
		return err
	}
	return bp.Rearm(memoryAdapter{t}, pc)
}

// StepInstruction single-steps the selected thread by one instruction.
func (t *Tracer) StepInstruction(tid int) (Event, error) {
	if err := t.stepOffBreakpointIfNeeded(tid); err != nil {
		return Event{}, err
	}
	if err := t.runner.Step(tid, 0); err != nil {
		return Event{}, err
	}
	return t.reconcile()
}

// StepInto single-steps tid until the source line or function changes.
func (t *Tracer) StepInto(tid int) (Event, error) {
	startLine, startErr := t.currentLine(tid)
	for i := 0; i < 1_000_000; i++ {
		ev, err := t.StepInstruction(tid)
		if err != nil {
			return Event{}, err
		}
		if ev.Reason != ReasonSingleStep {
			return ev, nil
		}
		line, err := t.currentLine(tid)
		if err != nil || startErr != nil || line.Line != startLine.Line || line.File != startLine.File {
			return ev, nil
		}
	}
	return Event{}, errkind.New(errkind.Internal, "step-into exceeded instruction budget")
}

func (t *Tracer) currentLine(tid int) (symtab.LineRow, error) {
	regs, err := t.runner.ReadRegs(tid)
	if err != nil {
		return symtab.LineRow{}, err
	}
	return t.symbols.LineForAddress(regs.Rip)
}

// StepOver installs one-shot internal breakpoints at every instruction in
// the current line's successor set within the current function,
// continues, and removes them on stop.
func (t *Tracer) StepOver(tid int) (Event, error) {
	regs, err := t.runner.ReadRegs(tid)
	if err != nil {
		return Event{}, err
	}
	fn, err := t.symbols.FunctionAt(regs.Rip)
	if err != nil {
		return t.StepInto(tid) // no function info: fall back to instruction stepping
	}
	line, _ := t.symbols.LineForAddress(regs.Rip)

	var installed []*breakpoint.Breakpoint
	for _, row := range t.symbols.NextLineRowsInFunction(fn) {
		if row.Line == line.Line {
			continue
		}
		bp, err := t.bpMgr.AddBreakpoint(breakpoint.Place{Kind: breakpoint.KindOneShotInternal, Address: row.Address, HasAddress: true})
		if err == nil {
			installed = append(installed, bp)
		}
	}
	// the return address too, in case the line is the function's last.
	retBp, retErr := t.installReturnBreakpoint(tid)
	if retErr == nil {
		installed = append(installed, retBp)
	}

	defer func() {
		for _, bp := range installed {
			_ = t.bpMgr.RemoveBreakpoint(bp.ID)
		}
	}()

	return t.Continue()
}

// installReturnBreakpoint reads the return address off the current
// frame's unwind and installs a one-shot breakpoint there, for step-out
// and as the successor-set fallback in StepOver.
func (t *Tracer) installReturnBreakpoint(tid int) (*breakpoint.Breakpoint, error) {
	live, _, err := t.Registers(tid)
	if err != nil {
		return nil, err
	}
	unw := unwind.NewUnwinder(t.catalog, t.symbols, memoryAdapter{t}, 2)
	frames, err := unw.Frames(live.Values[arch.DwarfRIP], live)
	if err != nil || len(frames) < 2 {
		return nil, errkind.New(errkind.Internal, "no caller frame to return to")
	}
	return t.bpMgr.AddBreakpoint(breakpoint.Place{Kind: breakpoint.KindOneShotInternal, Address: frames[1].PC, HasAddress: true})
}

// StepOut installs a one-shot breakpoint at the return address and
// continues.
func (t *Tracer) StepOut(tid int) (Event, error) {
	bp, err := t.installReturnBreakpoint(tid)
	if err != nil {
		return Event{}, err
	}
	defer t.bpMgr.RemoveBreakpoint(bp.ID)
	return t.Continue()
}

// --- whole-process stop reconciliation ---

// reconcile waits for the first stop, then interrupts and waits for every
// other running thread, guaranteeing every tracee is stopped before
// control returns to the caller.
func (t *Tracer) reconcile() (Event, error) {
	pid, status, err := t.runner.Wait(false)
	if err != nil {
		return Event{}, err
	}
	first := t.classify(pid, status)

	t.mu.Lock()
	tids := make([]int, 0, len(t.threads))
	for tid, th := range t.threads {
		if th.State == Running && tid != pid {
			tids = append(tids, tid)
		}
	}
	t.mu.Unlock()

	for _, tid := range tids {
		_ = t.runner.Interrupt(tid)
	}
	for range tids {
		p, s, err := t.runner.Wait(false)
		if err != nil {
			continue
		}
		t.classify(p, s)
	}

	if first.Reason == ReasonExec || first.Reason == ReasonNewThread {
		t.refreshCatalog()
	}
	return first, nil
}

func (t *Tracer) classify(pid int, status unix.WaitStatus) Event {
	t.mu.Lock()
	th, ok := t.threads[pid]
	if !ok {
		th = &Thread{Tid: pid}
		t.threads[pid] = th
	}
	t.mu.Unlock()

	ev := Event{Tid: pid}
	switch {
	case status.Exited():
		th.State = Exited
		th.Reason = ReasonExited
		ev.Reason = ReasonExited
	case status.Signaled():
		th.State = Exited
		th.Reason = ReasonExited
		ev.Reason = ReasonExited
	case status.Stopped():
		th.State = Stopped
		sig := status.StopSignal()
		th.Signal = int(sig)
		regs, err := t.runner.ReadRegs(pid)
		if err == nil {
			ev.PC = regs.Rip
			if sig == unix.SIGTRAP {
				if bp, ok := t.bpMgr.BreakpointAt(regs.Rip - 1); ok {
					th.Reason = ReasonBreakpoint
					ev.Hit = bp
					ev.PC = regs.Rip - 1
					regs.Rip--
					_ = t.runner.WriteRegs(pid, regs)
				} else if w, ok := t.watchpointFired(pid); ok {
					th.Reason = ReasonWatchpoint
					ev.Watch = w
				} else {
					th.Reason = ReasonSingleStep
				}
			} else {
				th.Reason = ReasonSignal
			}
			ev.Signal = int(sig)
		}
		ev.Reason = th.Reason
	}
	return ev
}

func (t *Tracer) watchpointFired(tid int) (*breakpoint.Watchpoint, bool) {
	d, err := t.runner.ReadDebugRegs(tid)
	if err != nil {
		return nil, false
	}
	return t.bpMgr.WatchpointFired(d.Status)
}

// refreshCatalog re-walks the dynamic linker rendezvous structure and
// re-resolves pending breakpoints / "re-reading the dynamic
// linker rendezvous on exec or known solib events".
func (t *Tracer) refreshCatalog() {
	main := t.catalog.All()
	if len(main) == 0 {
		return
	}
	rAddr, ok := main[0].DynamicDebugAddress()
	if !ok {
		return
	}
	err := objfile.WalkLinkMap(memoryAdapter{t}, rAddr, arch.AMD64.PointerSize, main[0].Path, func(path string, bias uint64) error {
		obj, isNew, err := t.catalog.AddLibrary(path, bias)
		if err != nil {
			return err
		}
		if isNew {
			t.log.WithField("path", path).Info("shared library loaded")
			select {
			case t.objEvents <- ObjectEvent{Object: obj, Loaded: true}:
			default:
			}
			if obj.DWARF != nil {
				t.bpMgr.ReviveOnLoad()
			}
		}
		return nil
	})
	if err != nil {
		t.log.WithError(err).Debug("rendezvous walk failed")
	}
}

// Kill terminates the debuggee.
func (t *Tracer) Kill() error { return t.runner.Kill(t.pid) }

// Pid returns the debuggee's process id.
func (t *Tracer) Pid() int { return t.pid }

// MainThread returns the thread group leader's tid, the default selected
// thread.
func (t *Tracer) MainThread() int { return t.mainTid }
