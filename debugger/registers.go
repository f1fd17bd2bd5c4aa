// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

import (
	"fmt"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/tracebreak/tracebreak/errkind"
)

// registerField addresses one named field of unix.PtraceRegs, letting the
// register read/write/list commands work by name instead of forcing every
// caller to know the struct layout.
type registerField struct {
	get func(*unix.PtraceRegs) uint64
	set func(*unix.PtraceRegs, uint64)
}

// registerTable is the x86-64 general-purpose register set, named the way
// gdb/lldb/delve report them: lowercase, no leading "R"/"E" case games.
var registerTable = map[string]registerField{
	"rax":    {func(r *unix.PtraceRegs) uint64 { return r.Rax }, func(r *unix.PtraceRegs, v uint64) { r.Rax = v }},
	"rbx":    {func(r *unix.PtraceRegs) uint64 { return r.Rbx }, func(r *unix.PtraceRegs, v uint64) { r.Rbx = v }},
	"rcx":    {func(r *unix.PtraceRegs) uint64 { return r.Rcx }, func(r *unix.PtraceRegs, v uint64) { r.Rcx = v }},
	"rdx":    {func(r *unix.PtraceRegs) uint64 { return r.Rdx }, func(r *unix.PtraceRegs, v uint64) { r.Rdx = v }},
	"rsi":    {func(r *unix.PtraceRegs) uint64 { return r.Rsi }, func(r *unix.PtraceRegs, v uint64) { r.Rsi = v }},
	"rdi":    {func(r *unix.PtraceRegs) uint64 { return r.Rdi }, func(r *unix.PtraceRegs, v uint64) { r.Rdi = v }},
	"rbp":    {func(r *unix.PtraceRegs) uint64 { return r.Rbp }, func(r *unix.PtraceRegs, v uint64) { r.Rbp = v }},
	"rsp":    {func(r *unix.PtraceRegs) uint64 { return r.Rsp }, func(r *unix.PtraceRegs, v uint64) { r.Rsp = v }},
	"rip":    {func(r *unix.PtraceRegs) uint64 { return r.Rip }, func(r *unix.PtraceRegs, v uint64) { r.Rip = v }},
	"r8":     {func(r *unix.PtraceRegs) uint64 { return r.R8 }, func(r *unix.PtraceRegs, v uint64) { r.R8 = v }},
	"r9":     {func(r *unix.PtraceRegs) uint64 { return r.R9 }, func(r *unix.PtraceRegs, v uint64) { r.R9 = v }},
	"r10":    {func(r *unix.PtraceRegs) uint64 { return r.R10 }, func(r *unix.PtraceRegs, v uint64) { r.R10 = v }},
	"r11":    {func(r *unix.PtraceRegs) uint64 { return r.R11 }, func(r *unix.PtraceRegs, v uint64) { r.R11 = v }},
	"r12":    {func(r *unix.PtraceRegs) uint64 { return r.R12 }, func(r *unix.PtraceRegs, v uint64) { r.R12 = v }},
	"r13":    {func(r *unix.PtraceRegs) uint64 { return r.R13 }, func(r *unix.PtraceRegs, v uint64) { r.R13 = v }},
	"r14":    {func(r *unix.PtraceRegs) uint64 { return r.R14 }, func(r *unix.PtraceRegs, v uint64) { r.R14 = v }},
	"r15":    {func(r *unix.PtraceRegs) uint64 { return r.R15 }, func(r *unix.PtraceRegs, v uint64) { r.R15 = v }},
	"eflags": {func(r *unix.PtraceRegs) uint64 { return r.Eflags }, func(r *unix.PtraceRegs, v uint64) { r.Eflags = v }},
	"cs":     {func(r *unix.PtraceRegs) uint64 { return r.Cs }, func(r *unix.PtraceRegs, v uint64) { r.Cs = v }},
	"ss":     {func(r *unix.PtraceRegs) uint64 { return r.Ss }, func(r *unix.PtraceRegs, v uint64) { r.Ss = v }},
	"fs_base": {func(r *unix.PtraceRegs) uint64 { return r.Fs_base }, func(r *unix.PtraceRegs, v uint64) { r.Fs_base = v }},
	"gs_base": {func(r *unix.PtraceRegs) uint64 { return r.Gs_base }, func(r *unix.PtraceRegs, v uint64) { r.Gs_base = v }},
}

// ReadRegister reads one named general-purpose register of the selected
// thread.
func (f *Facade) ReadRegister(name string) (uint64, error) {
	field, ok := registerTable[name]
	if !ok {
		return 0, errkind.New(errkind.Internal, fmt.Sprintf("no register named %q", name))
	}
	_, regs, err := f.tracer.Registers(f.SelectedThread())
	if err != nil {
		return 0, err
	}
	return field.get(regs), nil
}

// WriteRegister writes one named general-purpose register of the selected
// thread.
func (f *Facade) WriteRegister(name string, value uint64) error {
	field, ok := registerTable[name]
	if !ok {
		return errkind.New(errkind.Internal, fmt.Sprintf("no register named %q", name))
	}
	tid := f.SelectedThread()
	_, regs, err := f.tracer.Registers(tid)
	if err != nil {
		return err
	}
	field.set(regs, value)
	return f.tracer.WriteRegisters(tid, regs)
}

// ListRegisters returns every named register of the selected thread and
// its current value, keyed by register name.
func (f *Facade) ListRegisters() (map[string]uint64, error) {
	_, regs, err := f.tracer.Registers(f.SelectedThread())
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(registerTable))
	names := make([]string, 0, len(registerTable))
	for name := range registerTable {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out[name] = registerTable[name].get(regs)
	}
	return out, nil
}
