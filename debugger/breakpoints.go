// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

import (
	"fmt"

	"github.com/tracebreak/tracebreak/breakpoint"
	"github.com/tracebreak/tracebreak/errkind"
)

// AddBreakpointAtFunction installs a breakpoint at every entry point
// named name resolves to.
func (f *Facade) AddBreakpointAtFunction(name string) (*breakpoint.Breakpoint, error) {
	return f.tracer.Breakpoints().AddBreakpoint(breakpoint.Place{Kind: breakpoint.KindFunctionEntry, FunctionRe: name})
}

// AddBreakpointAtLine installs a breakpoint at every statement-boundary
// address (path, line) resolves to.
func (f *Facade) AddBreakpointAtLine(path string, line int) (*breakpoint.Breakpoint, error) {
	return f.tracer.Breakpoints().AddBreakpoint(breakpoint.Place{Kind: breakpoint.KindLine, SourcePath: path, SourceLine: line})
}

// AddBreakpointAtAddress installs a breakpoint at a bare address.
func (f *Facade) AddBreakpointAtAddress(addr uint64) (*breakpoint.Breakpoint, error) {
	return f.tracer.Breakpoints().AddBreakpoint(breakpoint.Place{Kind: breakpoint.KindAddress, Address: addr, HasAddress: true})
}

// RemoveBreakpoint uninstalls and forgets a breakpoint by id.
func (f *Facade) RemoveBreakpoint(id int) error {
	return f.tracer.Breakpoints().RemoveBreakpoint(id)
}

// ListBreakpoints returns every breakpoint, installed or pending.
func (f *Facade) ListBreakpoints() []*breakpoint.Breakpoint {
	return f.tracer.Breakpoints().List()
}

// AddWatchpoint arms a hardware watchpoint on the selected thread.
func (f *Facade) AddWatchpoint(addr uint64, length int, access breakpoint.WatchAccess) (*breakpoint.Watchpoint, error) {
	return f.tracer.Breakpoints().AddWatchpoint(f.SelectedThread(), addr, length, access)
}

// RemoveWatchpoint disarms a hardware watchpoint on the selected thread.
func (f *Facade) RemoveWatchpoint(id int) error {
	return f.tracer.Breakpoints().RemoveWatchpoint(f.SelectedThread(), id)
}

// ListWatchpoints returns every armed watchpoint.
func (f *Facade) ListWatchpoints() []*breakpoint.Watchpoint {
	return f.tracer.Breakpoints().WatchpointsList()
}

// AddTrigger registers commands to run whenever breakpoint/watchpoint
// targetID is hit. Firing requires a CommandRunner (see
// SetCommandRunner); without one, the trigger is recorded and listed but
// never executed.
func (f *Facade) AddTrigger(targetID int, commands []string) *Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTriggers++
	tr := &Trigger{ID: f.nextTriggers, TargetID: targetID, Commands: commands}
	f.triggers[tr.ID] = tr
	return tr
}

// RemoveTrigger forgets a previously registered trigger.
func (f *Facade) RemoveTrigger(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.triggers[id]; !ok {
		return errkind.New(errkind.Internal, fmt.Sprintf("no trigger %d", id))
	}
	delete(f.triggers, id)
	return nil
}

// ListTriggers returns every registered trigger.
func (f *Facade) ListTriggers() []*Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Trigger, 0, len(f.triggers))
	for _, tr := range f.triggers {
		out = append(out, tr)
	}
	return out
}
