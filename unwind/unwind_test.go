// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracebreak/tracebreak/arch"
)

// A minimal canonical prologue: push %rbp; mov %rsp,%rbp. Its CFI program
// is the textbook sequence gcc/clang emit: def_cfa(rsp, 8) on entry, with
// the call's implicit push saving rip at CFA-8; advance past "push rbp" ->
// def_cfa_offset(16) and offset(rbp, -16); advance past "mov rsp,rbp" ->
// def_cfa_register(rbp).
func TestRunProgramCanonicalPrologue(t *testing.T) {
	initial := []byte{
		0x0c, byte(arch.DwarfRSP), 0x08, // DW_CFA_def_cfa rsp, 8
		byte(0x80 | arch.DwarfRIP), 0x01, // DW_CFA_offset rip, 1 (* -8 dataAlign = -8)
	}
	instrs := []byte{
		0x41,                             // DW_CFA_advance_loc 1 (after push rbp)
		0x0e, 0x10,                       // DW_CFA_def_cfa_offset 16
		byte(0x80 | arch.DwarfRBP), 0x02, // DW_CFA_offset rbp, 2 (* -8 = -16)
		0x43,       // DW_CFA_advance_loc 3 (after mov rsp,rbp)
		0x0d, byte(arch.DwarfRBP), // DW_CFA_def_cfa_register rbp
	}

	rows := runProgram(initial, instrs, 1, -8, 0x1000)
	require.True(t, len(rows) >= 3)

	last := rows[len(rows)-1]
	require.Equal(t, arch.DwarfRBP, last.cfaRegister)
	require.Equal(t, int64(16), last.cfaOffset)
	rule, ok := last.registers[arch.DwarfRBP]
	require.True(t, ok)
	require.Equal(t, ruleOffset, rule.kind)
	require.Equal(t, int64(-16), rule.offset)
}

func TestUvarintSvarint(t *testing.T) {
	v, n := uvarint([]byte{0xe5, 0x8e, 0x26})
	require.Equal(t, uint64(624485), v)
	require.Equal(t, 3, n)

	sv, n := svarint([]byte{0x9b, 0xf1, 0x59})
	require.Equal(t, int64(-624485), sv)
	require.Equal(t, 3, n)
}

func TestTableRowForPicksLatestRowNotPast(t *testing.T) {
	tb := &table{fdes: []fde{{
		lowPC:  0x1000,
		highPC: 0x1010,
		rows: []cfiRow{
			{address: 0x1000, cfaRegister: arch.DwarfRSP, cfaOffset: 8},
			{address: 0x1004, cfaRegister: arch.DwarfRBP, cfaOffset: 16},
		},
	}}}
	row, err := tb.rowFor(0x1006)
	require.NoError(t, err)
	require.Equal(t, arch.DwarfRBP, row.cfaRegister)

	_, err = tb.rowFor(0x2000)
	require.Error(t, err)
}
