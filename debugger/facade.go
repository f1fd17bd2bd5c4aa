// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tracebreak/tracebreak/arch"
	"github.com/tracebreak/tracebreak/breakpoint"
	"github.com/tracebreak/tracebreak/dwarf"
	"github.com/tracebreak/tracebreak/errkind"
	"github.com/tracebreak/tracebreak/objfile"
	"github.com/tracebreak/tracebreak/symtab"
	"github.com/tracebreak/tracebreak/tracer"
	"github.com/tracebreak/tracebreak/unwind"
)

// Facade is the single entry point a front-end drives. It owns a tracer,
// the DWARF loader and symbol index built on top of the same catalog, an
// unwinder, and the selection state (current thread, current frame) every
// subsequent command is relative to.
type Facade struct {
	log     *logrus.Entry
	catalog *objfile.Catalog
	loader  *dwarf.Loader
	symbols *symtab.Index
	tracer  *tracer.Tracer
	unwind  *unwind.Unwinder

	mu           sync.Mutex
	selectedTid  int
	selectedIdx  int
	frames       []unwind.Frame // cached frames of the selected thread's last stop
	nextTriggers int
	triggers     map[int]*Trigger
	runner       CommandRunner

	events chan Event
	done   chan struct{}
}

// New builds a Facade around a freshly-created catalog/loader/symbol
// index/tracer; callers obtain one per debugging session, tearing it down
// with Quit when finished.
func New(log *logrus.Entry) *Facade {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	catalog := objfile.NewCatalog(log)
	loader := dwarf.NewLoader(catalog, log)
	symbols := symtab.NewIndex(log)
	t := tracer.New(log, catalog, symbols)
	f := &Facade{
		log:      log,
		catalog:  catalog,
		loader:   loader,
		symbols:  symbols,
		tracer:   t,
		unwind:   unwind.NewUnwinder(catalog, symbols, t, 256),
		triggers: map[int]*Trigger{},
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
	}
	go f.pumpEvents()
	return f
}

// SetCommandRunner installs the callback AddTrigger-registered commands
// run through when their place is hit. Optional; triggers work without
// one, they just never fire anything.
func (f *Facade) SetCommandRunner(r CommandRunner) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runner = r
}

// Events streams the facade's merged StopReport/OutputLine/ObjectEvent
// feed.
func (f *Facade) Events() <-chan Event { return f.events }

func (f *Facade) pumpEvents() {
	out, objEv := f.tracer.Output(), f.tracer.ObjectEvents()
	for {
		select {
		case line, ok := <-out:
			if !ok {
				return
			}
			select {
			case f.events <- Event{Output: &line}:
			default:
			}
		case ev, ok := <-objEv:
			if !ok {
				return
			}
			select {
			case f.events <- Event{Object: &ev}:
			default:
			}
		case <-f.done:
			return
		}
	}
}

// Launch spawns path under tracing, indexes its DWARF, and waits for the
// initial stop.
func (f *Facade) Launch(path string, argv, env []string, cwd string) (*StopReport, error) {
	obj, err := f.catalog.LoadMain(path)
	if err != nil {
		return nil, err
	}
	if obj.DWARF != nil {
		if err := f.indexObject(obj); err != nil {
			return nil, err
		}
	}
	if err := f.tracer.Launch(path, argv, env, cwd); err != nil {
		return nil, err
	}
	return f.selectMain()
}

// Attach seizes an already-running process, identified by pid, whose
// binary is at path (read for its DWARF and symbol table).
func (f *Facade) Attach(pid int, path string) (*StopReport, error) {
	obj, err := f.catalog.LoadMain(path)
	if err != nil {
		return nil, err
	}
	if obj.DWARF != nil {
		if err := f.indexObject(obj); err != nil {
			return nil, err
		}
	}
	if err := f.tracer.Attach(pid); err != nil {
		return nil, err
	}
	return f.selectMain()
}

// Restart kills the current debuggee, if any, and launches path again
// with the same arguments.
func (f *Facade) Restart(path string, argv, env []string, cwd string) (*StopReport, error) {
	_ = f.tracer.Kill()
	return f.Launch(path, argv, env, cwd)
}

func (f *Facade) indexObject(obj *objfile.Object) error {
	if err := f.loader.IndexObject(obj); err != nil {
		return err
	}
	for _, u := range f.loader.Units() {
		if u.Object != obj {
			continue
		}
		if err := f.symbols.IndexUnit(u); err != nil {
			return err
		}
	}
	return nil
}

func (f *Facade) selectMain() (*StopReport, error) {
	f.mu.Lock()
	f.selectedTid = f.tracer.MainThread()
	f.selectedIdx = 0
	f.mu.Unlock()
	return f.reportFor(tracer.Event{Tid: f.tracer.MainThread(), Reason: tracer.ReasonNewThread})
}

// Continue resumes every thread and blocks until the next reconciled
// stop.
func (f *Facade) Continue() (*StopReport, error) {
	ev, err := f.tracer.Continue()
	if err != nil {
		return nil, err
	}
	return f.onStop(ev)
}

// Run is an alias for Continue used by front-ends that distinguish an
// initial "start running" command from a mid-session resume; the tracer
// treats both identically.
func (f *Facade) Run() (*StopReport, error) { return f.Continue() }

// StepInto, StepOver, StepOut, StepInstruction delegate straight to the
// tracer's step protocols on the currently selected thread.
func (f *Facade) StepInto() (*StopReport, error)      { return f.step(f.tracer.StepInto) }
func (f *Facade) StepOver() (*StopReport, error)       { return f.step(f.tracer.StepOver) }
func (f *Facade) StepOut() (*StopReport, error)        { return f.step(f.tracer.StepOut) }
func (f *Facade) StepInstruction() (*StopReport, error) { return f.step(f.tracer.StepInstruction) }

func (f *Facade) step(do func(tid int) (tracer.Event, error)) (*StopReport, error) {
	tid := f.SelectedThread()
	ev, err := do(tid)
	if err != nil {
		return nil, err
	}
	return f.onStop(ev)
}

// onStop re-selects the stopped thread, refreshes its frame cache, fires
// any matching triggers, and turns the tracer's Event into a StopReport.
func (f *Facade) onStop(ev tracer.Event) (*StopReport, error) {
	f.mu.Lock()
	f.selectedTid = ev.Tid
	f.selectedIdx = 0
	f.mu.Unlock()
	f.refreshFrames(ev.Tid)
	f.fireTriggers(ev)
	report, err := f.reportFor(ev)
	if err != nil {
		return nil, err
	}
	select {
	case f.events <- Event{Stop: report}:
	default:
	}
	return report, nil
}

func (f *Facade) reportFor(ev tracer.Event) (*StopReport, error) {
	report := &StopReport{
		Tid:           ev.Tid,
		Reason:        ev.Reason,
		PC:            ev.PC,
		Signal:        ev.Signal,
		HitBreakpoint: ev.Hit,
		HitWatchpoint: ev.Watch,
	}
	if fn, err := f.symbols.FunctionAt(ev.PC); err == nil {
		report.Location.Function = fn.Name
	}
	if line, err := f.symbols.LineForAddress(ev.PC); err == nil {
		report.Location.File = line.File
		report.Location.Line = line.Line
	}
	return report, nil
}

func (f *Facade) fireTriggers(ev tracer.Event) {
	var targetID int
	switch {
	case ev.Hit != nil:
		targetID = ev.Hit.ID
	case ev.Watch != nil:
		targetID = ev.Watch.ID
	default:
		return
	}
	f.mu.Lock()
	runner := f.runner
	var matched []*Trigger
	for _, tr := range f.triggers {
		if tr.TargetID == targetID {
			matched = append(matched, tr)
		}
	}
	f.mu.Unlock()
	if runner == nil {
		return
	}
	for _, tr := range matched {
		for _, cmd := range tr.Commands {
			if _, err := runner(cmd); err != nil {
				f.log.WithError(err).WithField("command", cmd).Warn("trigger command failed")
			}
		}
	}
}

// Quit tears down the debuggee and releases the facade's resources.
func (f *Facade) Quit() error {
	close(f.done)
	err := f.tracer.Kill()
	f.tracer.Close()
	return err
}

// refreshFrames recomputes and caches the unwound stack for tid, so
// Frames/SelectFrame/Backtrace don't re-unwind on every call.
func (f *Facade) refreshFrames(tid int) {
	live, _, err := f.tracer.Registers(tid)
	if err != nil {
		f.mu.Lock()
		f.frames = nil
		f.mu.Unlock()
		return
	}
	pc, _ := live.Get(arch.DwarfRIP)
	frames, err := f.unwind.Frames(pc, live)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.frames = nil
		return
	}
	f.frames = frames
}

// SelectedThread returns the currently selected thread's tid.
func (f *Facade) SelectedThread() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selectedTid
}

// errNoFrames is returned by frame-relative commands when the selected
// thread has no unwound stack cached (e.g. it never stopped).
var errNoFrames = errkind.New(errkind.Internal, "no frames available for the selected thread")
