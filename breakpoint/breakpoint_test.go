// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package breakpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracebreak/tracebreak/symtab"
)

type fakeMemory struct {
	data map[uint64]byte
}

func newFakeMemory() *fakeMemory { return &fakeMemory{data: map[uint64]byte{}} }

func (f *fakeMemory) ReadMemory(addr uint64, buf []byte) error {
	for i := range buf {
		buf[i] = f.data[addr+uint64(i)]
	}
	return nil
}

func (f *fakeMemory) WriteMemory(addr uint64, buf []byte) error {
	for i, b := range buf {
		f.data[addr+uint64(i)] = b
	}
	return nil
}

type fakeDebugRegs struct {
	addr            [4]uint64
	status, control uint64
}

func (f *fakeDebugRegs) ReadDebugRegs(tid int) ([4]uint64, uint64, uint64, error) {
	return f.addr, f.status, f.control, nil
}

func (f *fakeDebugRegs) WriteDebugRegs(tid int, addr [4]uint64, status, control uint64) error {
	f.addr, f.status, f.control = addr, status, control
	return nil
}

func TestInstallAndRemoveRestoresOriginalByte(t *testing.T) {
	mem := newFakeMemory()
	mem.data[0x2000] = 0x55
	m := NewManager(mem, &fakeDebugRegs{}, symtab.NewIndex(nil))

	bp, err := m.AddBreakpoint(Place{Kind: KindAddress, Address: 0x2000, HasAddress: true})
	require.NoError(t, err)
	require.True(t, bp.Installed())
	require.Equal(t, byte(0xcc), mem.data[0x2000])

	found, ok := m.BreakpointAt(0x2000)
	require.True(t, ok)
	require.Equal(t, bp.ID, found.ID)

	require.NoError(t, m.RemoveBreakpoint(bp.ID))
	require.Equal(t, byte(0x55), mem.data[0x2000])
}

func TestPendingBreakpointRevivesOnLoad(t *testing.T) {
	mem := newFakeMemory()
	idx := symtab.NewIndex(nil)
	m := NewManager(mem, &fakeDebugRegs{}, idx)

	bp, err := m.AddBreakpoint(Place{Kind: KindFunctionEntry, FunctionRe: "lib.Init"})
	require.NoError(t, err)
	require.False(t, bp.Installed())

	mem.data[0x4000] = 0x90
	idx.AddSymbol(&symtab.Symbol{Name: "lib.Init", LowPC: 0x4000, HighPC: 0x4010})

	m.ReviveOnLoad()
	require.True(t, bp.Installed())
}

func TestWatchpointSlotsExhausted(t *testing.T) {
	mem := newFakeMemory()
	dr := &fakeDebugRegs{}
	m := NewManager(mem, dr, symtab.NewIndex(nil))

	for i := 0; i < 4; i++ {
		_, err := m.AddWatchpoint(1, uint64(0x3000+i*8), 8, WatchWrite)
		require.NoError(t, err)
	}
	_, err := m.AddWatchpoint(1, 0x5000, 8, WatchWrite)
	require.Error(t, err)
}

func TestTransparentReadUndoesInstalledTrap(t *testing.T) {
	mem := newFakeMemory()
	mem.data[0x2000] = 0x55
	mem.data[0x2001] = 0x56
	m := NewManager(mem, &fakeDebugRegs{}, symtab.NewIndex(nil))

	bp, err := m.AddBreakpoint(Place{Kind: KindAddress, Address: 0x2000, HasAddress: true})
	require.NoError(t, err)
	require.True(t, bp.Installed())
	require.Equal(t, byte(0xcc), mem.data[0x2000])

	orig, ok := m.OriginalByte(0x2000)
	require.True(t, ok)
	require.Equal(t, byte(0x55), orig)

	_, ok = m.OriginalByte(0x2001)
	require.False(t, ok)

	buf := make([]byte, 2)
	require.NoError(t, m.TransparentRead(mem, 0x2000, buf))
	require.Equal(t, []byte{0x55, 0x56}, buf)
}

func TestEncodeDecodeDR7RoundTrips(t *testing.T) {
	control := encodeDR7(0, 2, 4, WatchReadWrite)
	require.NotZero(t, control&(1<<4))
	control = clearDR7(control, 2)
	require.Zero(t, control&(1<<4))
}
