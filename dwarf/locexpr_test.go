// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracebreak/tracebreak/unwind"
)

func TestULEB128RoundTrips(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<63 - 1}
	for _, want := range cases {
		b := encodeULEB128(want)
		got, n := uleb128(b)
		require.Equal(t, len(b), n)
		require.Equal(t, want, got)
	}
}

func TestSLEB128RoundTrips(t *testing.T) {
	cases := []int64{0, 1, -1, 63, -64, 64, -65, 1000, -1000}
	for _, want := range cases {
		b := encodeSLEB128(want)
		got, n := sleb128(b)
		require.Equal(t, len(b), n)
		require.Equal(t, want, got)
	}
}

func TestEvaluateCallFrameCFA(t *testing.T) {
	loc, err := evaluate([]byte{opCallFrameCFA}, 0xdeadbeef, unwind.Registers{}, nil)
	require.NoError(t, err)
	require.False(t, loc.InReg)
	require.Equal(t, uint64(0xdeadbeef), loc.Addr)
}

func TestEvaluateFbreg(t *testing.T) {
	frameBase := uint64(0x1000)
	expr := append([]byte{opFbreg}, encodeSLEB128(-24)...)
	loc, err := evaluate(expr, 0, unwind.Registers{}, &frameBase)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000-24), loc.Addr)
}

func TestEvaluateBreg(t *testing.T) {
	regs := unwind.RegistersFromLive(func(n int) (uint64, bool) {
		if n == 6 { // DW_OP_breg6 is rbp
			return 0x7fff0000, true
		}
		return 0, false
	})
	expr := append([]byte{opBreg0 + 6}, encodeSLEB128(16)...)
	loc, err := evaluate(expr, 0, regs, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0x7fff0000+16), loc.Addr)
}

func TestEvaluateRegisterResidentVariable(t *testing.T) {
	loc, err := evaluate([]byte{opReg0 + 3}, 0, unwind.Registers{}, nil)
	require.NoError(t, err)
	require.True(t, loc.InReg)
	require.Equal(t, 3, loc.RegNum)
}

func TestEvaluateUnsupportedOpcodeErrors(t *testing.T) {
	_, err := evaluate([]byte{0xff}, 0, unwind.Registers{}, nil)
	require.Error(t, err)
}

func TestEvaluateFrameBaseRejectsRegisterResult(t *testing.T) {
	_, err := EvaluateFrameBase([]byte{opReg0 + 6}, 0, unwind.Registers{})
	require.Error(t, err)
}

// encodeULEB128/encodeSLEB128 are small test-only helpers that invert
// uleb128/sleb128, so the round-trip tests don't need hand-written byte
// literals for every case.

func encodeULEB128(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func encodeSLEB128(v int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}
