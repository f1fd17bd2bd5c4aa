// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldAndIndexChain(t *testing.T) {
	expr, err := Parse("frame.locals[2].name")
	require.NoError(t, err)
	field, ok := expr.(Field)
	require.True(t, ok)
	assert.Equal(t, "name", field.Name)

	idx, ok := field.Base.(Index)
	require.True(t, ok)
	assert.True(t, idx.Key.HasInt)
	assert.EqualValues(t, 2, idx.Key.Int)
}

func TestParseSliceOpenEnded(t *testing.T) {
	expr, err := Parse("buf[4..]")
	require.NoError(t, err)
	sl, ok := expr.(Slice)
	require.True(t, ok)
	assert.EqualValues(t, 4, sl.Lo)
	assert.False(t, sl.HasHi)
}

func TestParseDerefAddrOfCanonical(t *testing.T) {
	expr, err := Parse("~&*p")
	require.NoError(t, err)
	canon, ok := expr.(Canonical)
	require.True(t, ok)
	addr, ok := canon.Base.(AddrOf)
	require.True(t, ok)
	deref, ok := addr.Base.(Deref)
	require.True(t, ok)
	ident, ok := deref.Base.(Ident)
	require.True(t, ok)
	assert.Equal(t, "p", ident.Name)
}

func TestParsePointerCast(t *testing.T) {
	expr, err := Parse("(*Node)0x1000")
	require.NoError(t, err)
	pc, ok := expr.(PointerCast)
	require.True(t, ok)
	assert.Equal(t, "Node", pc.TypeName)
}

func TestParseTypeCast(t *testing.T) {
	expr, err := Parse("(:Derived) base")
	require.NoError(t, err)
	tc, ok := expr.(TypeCast)
	require.True(t, ok)
	assert.Equal(t, "Derived", tc.TypeName)
	ident, ok := tc.Base.(Ident)
	require.True(t, ok)
	assert.Equal(t, "base", ident.Name)
}

func TestParseCallWithArgs(t *testing.T) {
	expr, err := Parse("compute(a, b.c, 3)")
	require.NoError(t, err)
	call, ok := expr.(Call)
	require.True(t, ok)
	assert.Equal(t, "compute", call.Name)
	assert.Len(t, call.Args, 3)
}

func TestParseLiteralStructIndexKey(t *testing.T) {
	expr, err := Parse("m[key: 3]")
	require.NoError(t, err)
	idx, ok := expr.(Index)
	require.True(t, ok)
	require.NotNil(t, idx.Key.Literal)
	sub, ok := idx.Key.Literal["key"]
	require.True(t, ok)
	assert.EqualValues(t, 3, sub.Int)
}

func TestParseWildcardIndexKey(t *testing.T) {
	expr, err := Parse("m[*]")
	require.NoError(t, err)
	idx, ok := expr.(Index)
	require.True(t, ok)
	assert.True(t, idx.Key.Wildcard)
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	_, err := Parse("a b")
	assert.Error(t, err)
}
