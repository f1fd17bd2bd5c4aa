// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

import (
	"fmt"

	"github.com/tracebreak/tracebreak/errkind"
	"github.com/tracebreak/tracebreak/tracer"
)

// Threads lists every known thread of the debuggee.
func (f *Facade) Threads() []*tracer.Thread {
	return f.tracer.Threads()
}

// SelectThread changes which thread subsequent frame/step/evaluate
// commands apply to, refreshing its cached stack.
func (f *Facade) SelectThread(tid int) error {
	for _, th := range f.tracer.Threads() {
		if th.Tid == tid {
			f.mu.Lock()
			f.selectedTid = tid
			f.selectedIdx = 0
			f.mu.Unlock()
			f.refreshFrames(tid)
			return nil
		}
	}
	return errkind.New(errkind.Internal, fmt.Sprintf("no thread %d", tid))
}
