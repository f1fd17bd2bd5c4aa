// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package inject

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tracebreak/tracebreak/arch"
	"github.com/tracebreak/tracebreak/dwarf"
	"github.com/tracebreak/tracebreak/errkind"
	"github.com/tracebreak/tracebreak/eval"
)

// fakeThread is an in-memory stand-in for a live tracee thread, letting
// the marshal/restore protocol be exercised without a real ptrace target.
type fakeThread struct {
	regs unix.PtraceRegs
	mem  map[uint64]byte

	// result is written into regs.Rax and regs.Rip is set to sentinel
	// whenever ContinueAndWait is called, simulating the callee running
	// to completion and trapping on the sentinel breakpoint.
	result    uint64
	continues int
}

func newFakeThread() *fakeThread {
	t := &fakeThread{mem: map[uint64]byte{}}
	t.regs.Rip = 0x400100
	t.regs.Rsp = 0x7ffffffde000
	return t
}

func (f *fakeThread) ReadRegs() (*unix.PtraceRegs, error) {
	cp := f.regs
	return &cp, nil
}

func (f *fakeThread) WriteRegs(r *unix.PtraceRegs) error {
	f.regs = *r
	return nil
}

func (f *fakeThread) ReadMemory(addr uint64, buf []byte) error {
	for i := range buf {
		buf[i] = f.mem[addr+uint64(i)]
	}
	return nil
}

func (f *fakeThread) WriteMemory(addr uint64, buf []byte) error {
	for i, b := range buf {
		f.mem[addr+uint64(i)] = b
	}
	return nil
}

func (f *fakeThread) ContinueAndWait() (uint64, error) {
	f.continues++
	f.regs.Rax = f.result
	f.regs.Rip = f.sentinel()
	return f.regs.Rip, nil
}

// sentinel mirrors the address Invoke armed: the thread's original RIP
// at the moment Invoke was called, which the test fixes at construction.
func (f *fakeThread) sentinel() uint64 { return 0x400100 }

func (f *fakeThread) Tid() int { return 4242 }

func intType(size int64) *dwarf.Type {
	return &dwarf.Type{Kind: dwarf.KindScalar, ByteSize: size, Scalar: &dwarf.ScalarInfo{Kind: dwarf.ScalarSignedInt}}
}

func sigWithReturn(ret *dwarf.Type, params ...*dwarf.Type) *dwarf.Type {
	s := &dwarf.Type{Kind: dwarf.KindSubroutine, Subr: &dwarf.SubroutineInfo{}}
	for range params {
		s.Subr.Parameters = append(s.Subr.Parameters, dwarf.TypeId{})
	}
	if ret != nil {
		s.Subr.HasReturn = true
	}
	return s
}

func typeByIDReturning(ret *dwarf.Type) TypeByID {
	return func(dwarf.TypeId) (*dwarf.Type, error) { return ret, nil }
}

func TestInvokeMarshalsArgsAndReadsReturn(t *testing.T) {
	thread := newFakeThread()
	thread.result = 7

	retType := intType(8)
	in := New(thread, typeByIDReturning(retType))

	sig := sigWithReturn(retType, intType(8), intType(8))
	args := []*eval.Value{
		{Type: intType(8), Immediate: []byte{5, 0, 0, 0, 0, 0, 0, 0}},
		{Type: intType(8), Immediate: []byte{9, 0, 0, 0, 0, 0, 0, 0}},
	}

	out, err := in.Invoke(sig, 0x401000, args)
	require.NoError(t, err)
	require.Equal(t, 1, thread.continues)
	require.Equal(t, uint64(7), arch.AMD64.Uint64(out.Immediate))

	// registers are fully restored once the sentinel trap is handled
	require.Equal(t, uint64(0x400100), thread.regs.Rip)
	require.Equal(t, uint64(0x7ffffffde000), thread.regs.Rsp)
}

func TestInvokeSpillsArgsBeyondSixRegisters(t *testing.T) {
	thread := newFakeThread()
	in := New(thread, typeByIDReturning(nil))

	var params []*dwarf.Type
	var args []*eval.Value
	for i := 0; i < 8; i++ {
		params = append(params, intType(8))
		buf := make([]byte, 8)
		buf[0] = byte(i + 1)
		args = append(args, &eval.Value{Type: intType(8), Immediate: buf})
	}
	sig := sigWithReturn(nil, params...)

	out, err := in.Invoke(sig, 0x401000, args)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Equal(t, dwarf.KindUnspecified, out.Type.Kind)
}

func TestInvokeRefusesTooManyArguments(t *testing.T) {
	thread := newFakeThread()
	in := New(thread, typeByIDReturning(nil))
	sig := sigWithReturn(nil, intType(8))

	_, err := in.Invoke(sig, 0x401000, []*eval.Value{
		{Type: intType(8), Immediate: make([]byte, 8)},
		{Type: intType(8), Immediate: make([]byte, 8)},
	})
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.ExpressionError, kind)
}

func TestInvokeRefusesWithoutSignature(t *testing.T) {
	thread := newFakeThread()
	in := New(thread, typeByIDReturning(nil))

	_, err := in.Invoke(&dwarf.Type{Kind: dwarf.KindScalar}, 0x401000, nil)
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.CallInjectionRefused, kind)
}

func TestMarshalKeepsStackSixteenByteAlignedAtEntry(t *testing.T) {
	thread := newFakeThread()
	in := New(thread, typeByIDReturning(nil))

	for n := 0; n <= 4; n++ {
		call := thread.regs
		var args []*eval.Value
		for i := 0; i < n; i++ {
			args = append(args, &eval.Value{Type: intType(8), Immediate: make([]byte, 8)})
		}
		require.NoError(t, in.marshal(&call, 0x400100, args))
		require.Equal(t, uint64(8), call.Rsp%16, "n=%d", n)
	}
}
