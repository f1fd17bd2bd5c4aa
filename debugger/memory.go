// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

// ReadMemory reads length bytes at addr from the debuggee's address
// space, presenting it as if no breakpoint trap were installed there —
// the tracee's own instruction stream never shows 0xCC bytes the debugger
// itself patched in.
func (f *Facade) ReadMemory(addr uint64, length int) ([]byte, error) {
	buf := make([]byte, length)
	if err := f.tracer.Breakpoints().TransparentRead(transparentMemory{f}, addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteMemory writes data to the debuggee's address space at addr.
func (f *Facade) WriteMemory(addr uint64, data []byte) error {
	return f.tracer.WriteMemory(addr, data)
}

// transparentMemory adapts Facade's tracer to breakpoint.Memory for
// TransparentRead's underlying raw read.
type transparentMemory struct{ f *Facade }

func (m transparentMemory) ReadMemory(addr uint64, buf []byte) error {
	return m.f.tracer.ReadMemory(addr, buf)
}

func (m transparentMemory) WriteMemory(addr uint64, buf []byte) error {
	return m.f.tracer.WriteMemory(addr, buf)
}
