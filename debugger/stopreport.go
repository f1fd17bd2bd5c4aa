// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package debugger is the session facade (component 4.H): the single
// point of control a front-end drives, orchestrating the tracer,
// breakpoint manager, unwinder, DWARF loader, and expression evaluator
// behind one command surface and one asynchronous event stream.
//
// It generalizes the teacher's ogle/program/server.Server — a single
// fc/ec channel pair dispatching every RPC onto one goroutine, with a
// breakpointc/otherc split for routing ptrace stops — into the full
// command surface below. The single-controller-goroutine guarantee
// Server.fc provided is already supplied one layer down by
// internal/trace.Runner, so Facade itself only needs an ordinary mutex:
// every call it makes into the tracer already funnels through Runner's
// own dispatch thread.
package debugger

import (
	"github.com/tracebreak/tracebreak/breakpoint"
	"github.com/tracebreak/tracebreak/tracer"
)

// SourceLocation is a resolved (file, line, function) triple, the common
// shape every frame-bearing report carries.
type SourceLocation struct {
	File     string
	Line     int
	Function string
}

// StopReport is what the facade pushes every time the debuggee stops,
// whatever the reason ("the facade additionally pushes asynchronous
// StopReport, OutputLine, and ObjectLoaded/ObjectUnloaded events").
type StopReport struct {
	Tid      int
	Reason   tracer.StopReason
	PC       uint64
	Signal   int
	Location SourceLocation

	HitBreakpoint *breakpoint.Breakpoint
	HitWatchpoint *breakpoint.Watchpoint
}

// Trigger binds a set of commands to a breakpoint or watchpoint id, run
// when that place is hit. The facade never interprets the command strings
// itself — a front-end that wants triggers to do anything registers a
// CommandRunner; without one, triggers are recorded and listed but inert.
type Trigger struct {
	ID       int
	TargetID int
	Commands []string
}

// CommandRunner executes one trigger command string and returns its
// textual result, the same shape a front-end's own command dispatcher
// already has. Left nil, AddTrigger/ListTriggers still work; only firing
// does nothing.
type CommandRunner func(cmd string) (string, error)

// Event is one entry of the facade's merged asynchronous stream: exactly
// one of its fields is non-nil.
type Event struct {
	Stop   *StopReport
	Output *tracer.OutputLine
	Object *tracer.ObjectEvent
}
