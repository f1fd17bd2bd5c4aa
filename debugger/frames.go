// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

import (
	"fmt"

	"github.com/tracebreak/tracebreak/arch"
	"github.com/tracebreak/tracebreak/errkind"
	"github.com/tracebreak/tracebreak/unwind"
)

// Frames returns the selected thread's cached stack, innermost first.
func (f *Facade) Frames() []unwind.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]unwind.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

// SelectFrame changes which frame of the selected thread's stack
// Evaluate/ReadMemory-relative commands resolve locals against.
func (f *Facade) SelectFrame(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.frames) {
		return errkind.New(errkind.Internal, fmt.Sprintf("frame index %d out of range (%d frames)", index, len(f.frames)))
	}
	f.selectedIdx = index
	return nil
}

// SelectedFrame returns the frame SelectFrame last chose (index 0 by
// default, the innermost).
func (f *Facade) SelectedFrame() (unwind.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selectedIdx < 0 || f.selectedIdx >= len(f.frames) {
		return unwind.Frame{}, errNoFrames
	}
	return f.frames[f.selectedIdx], nil
}

// Backtrace renders the selected thread's stack as source locations, one
// per frame, innermost first.
func (f *Facade) Backtrace() []SourceLocation {
	frames := f.Frames()
	out := make([]SourceLocation, len(frames))
	for i, fr := range frames {
		loc := SourceLocation{File: fr.Line.File, Line: fr.Line.Line}
		if fr.Func != nil {
			loc.Function = fr.Func.Name
		}
		out[i] = loc
	}
	return out
}

// BacktraceAll renders every known thread's stack, keyed by tid, for a
// front-end's "backtrace all" command.
func (f *Facade) BacktraceAll() (map[int][]SourceLocation, error) {
	out := map[int][]SourceLocation{}
	for _, th := range f.tracer.Threads() {
		live, _, err := f.tracer.Registers(th.Tid)
		if err != nil {
			continue
		}
		pc, _ := live.Get(arch.DwarfRIP)
		frames, err := f.unwind.Frames(pc, live)
		if err != nil {
			continue
		}
		locs := make([]SourceLocation, len(frames))
		for i, fr := range frames {
			loc := SourceLocation{File: fr.Line.File, Line: fr.Line.Line}
			if fr.Func != nil {
				loc.Function = fr.Func.Name
			}
			locs[i] = loc
		}
		out[th.Tid] = locs
	}
	return out, nil
}
