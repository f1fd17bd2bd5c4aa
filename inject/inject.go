// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package inject performs call injection (component 4.I): running a
// function inside the debuggee on the selected thread without losing any
// of that thread's state. It saves the thread's general-purpose
// registers, marshals arguments into the System V AMD64 calling
// convention, redirects execution to the function's entry with a
// sentinel return address trapped by a one-shot breakpoint, waits for
// the trap, reads the return register, and restores everything it
// touched.
//
// golang.org/x/debug/ogle never implemented call injection, so this
// package is built from the ptrace primitives internal/trace.Runner
// already exposes and the one-shot-breakpoint pattern tracer.Tracer uses
// for its return-address trap in StepOut/StepOver.
package inject

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/tracebreak/tracebreak/arch"
	"github.com/tracebreak/tracebreak/dwarf"
	"github.com/tracebreak/tracebreak/errkind"
	"github.com/tracebreak/tracebreak/eval"
)

// Thread is the narrow per-thread control surface call injection needs.
// tracer.Tracer implements it for one tid; kept as an interface so this
// package never imports tracer — tracer depends on inject, never the
// reverse.
type Thread interface {
	ReadRegs() (*unix.PtraceRegs, error)
	WriteRegs(regs *unix.PtraceRegs) error
	ReadMemory(addr uint64, buf []byte) error
	WriteMemory(addr uint64, buf []byte) error

	// ContinueAndWait resumes this thread alone and blocks until it next
	// stops, returning the PC it stopped at with any breakpoint-trap
	// adjustment (RIP decremented past the INT3) already applied.
	ContinueAndWait() (pc uint64, err error)

	// Tid is the kernel thread id, used for the syscall-in-progress check.
	Tid() int
}

// TypeByID resolves a type reference recorded inside a function
// signature (its return type) to its full decoded form.
type TypeByID func(id dwarf.TypeId) (*dwarf.Type, error)

// Injector implements eval.CallInjector against one live thread.
type Injector struct {
	thread   Thread
	typeByID TypeByID
}

// New builds an Injector bound to thread, resolving return types through
// typeByID.
func New(thread Thread, typeByID TypeByID) *Injector {
	return &Injector{thread: thread, typeByID: typeByID}
}

var _ eval.CallInjector = (*Injector)(nil)

// ReadMemory and WriteMemory let an Injector stand in as the eval.Memory
// an argument Value reads its bytes from, since it already has a Thread
// to delegate to.
func (in *Injector) ReadMemory(addr uint64, buf []byte) error  { return in.thread.ReadMemory(addr, buf) }
func (in *Injector) WriteMemory(addr uint64, buf []byte) error { return in.thread.WriteMemory(addr, buf) }

// Invoke implements eval.CallInjector: it carries out the full
// save/marshal/trap/restore protocol and returns the callee's result.
func (in *Injector) Invoke(sig *dwarf.Type, addr uint64, args []*eval.Value) (*eval.Value, error) {
	if sig == nil || sig.Subr == nil {
		return nil, errkind.New(errkind.CallInjectionRefused, "call target has no subroutine signature")
	}
	if len(args) > len(sig.Subr.Parameters) {
		return nil, errkind.New(errkind.ExpressionError, "too many arguments for call target")
	}
	busy, err := in.inSyscall()
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, errkind.New(errkind.CallInjectionRefused, "thread is inside a system call")
	}

	orig, err := in.thread.ReadRegs()
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, "saving registers before call injection", err)
	}
	saved := *orig

	sentinel := saved.Rip
	origByte := make([]byte, len(arch.AMD64.BreakpointInstr))
	if err := in.thread.ReadMemory(sentinel, origByte); err != nil {
		return nil, errkind.Wrap(errkind.BadAddress, "reading sentinel instruction", err)
	}
	if err := in.thread.WriteMemory(sentinel, arch.AMD64.BreakpointInstr[:]); err != nil {
		return nil, errkind.Wrap(errkind.Internal, "arming sentinel breakpoint", err)
	}
	restore := func() {
		_ = in.thread.WriteMemory(sentinel, origByte)
		_ = in.thread.WriteRegs(&saved)
	}

	call := saved
	if err := in.marshal(&call, sentinel, args); err != nil {
		restore()
		return nil, err
	}
	call.Rip = addr

	if err := in.thread.WriteRegs(&call); err != nil {
		restore()
		return nil, errkind.Wrap(errkind.Internal, "writing call registers", err)
	}

	stopPC, err := in.thread.ContinueAndWait()
	if err != nil {
		restore()
		return nil, errkind.Wrap(errkind.Internal, "resuming for call injection", err)
	}
	if stopPC != sentinel {
		restore()
		return nil, errkind.New(errkind.Internal, fmt.Sprintf("call injection stopped at %#x, want sentinel %#x", stopPC, sentinel))
	}

	result, err := in.thread.ReadRegs()
	if err != nil {
		restore()
		return nil, errkind.Wrap(errkind.Internal, "reading return registers", err)
	}
	retVal, buildErr := in.buildReturn(sig, result)
	restore()
	if buildErr != nil {
		return nil, buildErr
	}
	return retVal, nil
}

// marshal writes call's argument registers and builds the stack frame a
// `call addr` instruction would have built: sentinel at the top as the
// return address, any args beyond the sixth spilled above it in reverse
// order, and the stack pointer left 8 bytes off a 16-byte boundary per
// the System V AMD64 ABI's entry-point invariant.
func (in *Injector) marshal(call *unix.PtraceRegs, sentinel uint64, args []*eval.Value) error {
	words := make([]uint64, len(args))
	for i, a := range args {
		w, err := in.argWord(a)
		if err != nil {
			return err
		}
		words[i] = w
	}

	regArgs := words
	var stackArgs []uint64
	if len(words) > len(arch.IntArgRegisters) {
		regArgs = words[:len(arch.IntArgRegisters)]
		stackArgs = words[len(arch.IntArgRegisters):]
	}
	for i, w := range regArgs {
		arch.SetIntArg(call, i, w)
	}

	const headroom = 512 // clear of the red zone below the thread's live stack
	base := (call.Rsp - headroom) &^ 0xf
	if len(stackArgs)%2 != 0 {
		base -= 8 // keeps the final push land sp%16==8 regardless of parity
	}
	sp := base
	for i := len(stackArgs) - 1; i >= 0; i-- {
		sp -= 8
		buf := make([]byte, 8)
		arch.AMD64.ByteOrder.PutUint64(buf, stackArgs[i])
		if err := in.thread.WriteMemory(sp, buf); err != nil {
			return errkind.Wrap(errkind.Internal, "spilling stack argument", err)
		}
	}
	sp -= 8
	buf := make([]byte, 8)
	arch.AMD64.ByteOrder.PutUint64(buf, sentinel)
	if err := in.thread.WriteMemory(sp, buf); err != nil {
		return errkind.Wrap(errkind.Internal, "writing sentinel return address", err)
	}
	call.Rsp = sp
	return nil
}

// argWord reads up to one pointer-word of v's bytes and widens it into a
// register/stack slot, matching how the ABI passes scalars and pointers
// smaller than a word.
func (in *Injector) argWord(v *eval.Value) (uint64, error) {
	size := arch.AMD64.PointerSize
	if v.Type != nil && v.Type.ByteSize > 0 && int(v.Type.ByteSize) < size {
		size = int(v.Type.ByteSize)
	}
	buf, err := v.Bytes(in, size)
	if err != nil {
		return 0, errkind.Wrap(errkind.ExpressionError, "marshaling call argument", err)
	}
	word := make([]byte, arch.AMD64.PointerSize)
	copy(word, buf)
	return arch.AMD64.ByteOrder.Uint64(word), nil
}

// buildReturn wraps the callee's return register as an eval.Value typed
// by the signature's return type, or a void value if it has none.
func (in *Injector) buildReturn(sig *dwarf.Type, regs *unix.PtraceRegs) (*eval.Value, error) {
	if !sig.Subr.HasReturn {
		return &eval.Value{Type: &dwarf.Type{Kind: dwarf.KindUnspecified, Name: "void"}}, nil
	}
	retType, err := in.typeByID(sig.Subr.Return)
	if err != nil {
		return nil, err
	}
	size := arch.AMD64.PointerSize
	if retType.ByteSize > 0 && int(retType.ByteSize) < size {
		size = int(retType.ByteSize)
	}
	buf := make([]byte, arch.AMD64.PointerSize)
	arch.AMD64.ByteOrder.PutUint64(buf, arch.ReturnValue(regs))
	return &eval.Value{Type: retType, Immediate: buf[:size]}, nil
}

// inSyscall reports whether the thread is blocked inside a system call,
// read from /proc/<tid>/syscall's first field ("-1" when the thread is
// not in one). The tracer never runs with PTRACE_O_TRACESYSGOOD, so a
// genuine non-"-1" value here only ever reflects the kernel's own
// bookkeeping, not a trap this debugger induced.
func (in *Injector) inSyscall() (bool, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/syscall", in.thread.Tid()))
	if err != nil {
		return false, nil // thread already gone; let the next ptrace call report it
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return false, nil
	}
	fields := strings.Fields(sc.Text())
	if len(fields) == 0 {
		return false, nil
	}
	return fields[0] != "-1", nil
}
