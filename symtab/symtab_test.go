// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symtab

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFunctionAtAndByName(t *testing.T) {
	x := NewIndex(nil)
	x.functions = []*Symbol{
		{Name: "main.main", LowPC: 0x1000, HighPC: 0x1010},
		{Name: "main.helper", LowPC: 0x1010, HighPC: 0x1030},
	}
	x.byName["main.main"] = []*Symbol{x.functions[0]}
	x.byName["main.helper"] = []*Symbol{x.functions[1]}

	s, err := x.FunctionAt(0x1015)
	require.NoError(t, err)
	require.Equal(t, "main.helper", s.Name)

	_, err = x.FunctionAt(0x2000)
	require.Error(t, err)

	require.Len(t, x.FunctionsByName("main.main"), 1)
	require.Len(t, x.FunctionsMatching(regexp.MustCompile(`^main\.`)), 2)
}

func TestAddressesForLineAndLineForAddress(t *testing.T) {
	x := NewIndex(nil)
	x.byPath["a.c"] = []LineRow{
		{File: "a.c", Line: 10, Address: 0x100, IsStmt: true},
		{File: "a.c", Line: 10, Address: 0x108, IsStmt: true}, // inlined duplicate
		{File: "a.c", Line: 11, Address: 0x110, IsStmt: true},
	}
	x.allRows = append(append([]LineRow{}, x.byPath["a.c"]...))

	addrs, err := x.AddressesForLine("a.c", 10)
	require.NoError(t, err)
	require.Equal(t, []uint64{0x100, 0x108}, addrs)

	row, err := x.LineForAddress(0x109)
	require.NoError(t, err)
	require.Equal(t, 10, row.Line)

	_, err = x.AddressesForLine("a.c", 99)
	require.Error(t, err)
}
