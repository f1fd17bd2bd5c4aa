// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eval

import (
	stddwarf "debug/dwarf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracebreak/tracebreak/dwarf"
)

// fakeMemory is a flat byte-addressed memory used to exercise the
// evaluator without a live tracee.
type fakeMemory struct {
	data map[uint64]byte
}

func newFakeMemory() *fakeMemory { return &fakeMemory{data: map[uint64]byte{}} }

func (m *fakeMemory) ReadMemory(addr uint64, buf []byte) error {
	for i := range buf {
		buf[i] = m.data[addr+uint64(i)]
	}
	return nil
}

func (m *fakeMemory) WriteMemory(addr uint64, buf []byte) error {
	for i, b := range buf {
		m.data[addr+uint64(i)] = b
	}
	return nil
}

func (m *fakeMemory) putUint64(addr, v uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	m.WriteMemory(addr, buf)
}

func (m *fakeMemory) putInt32(addr uint64, v int32) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(v))
	m.WriteMemory(addr, buf)
}

// typeRegistry is a test-only stand-in for dwarf.Loader's interner: a flat
// map from TypeId to decoded Type, keyed by DIEOffset alone since these
// tests never touch more than one compilation unit.
type typeRegistry struct {
	byOffset map[stddwarf.Offset]*dwarf.Type
}

func newTypeRegistry() *typeRegistry {
	return &typeRegistry{byOffset: map[stddwarf.Offset]*dwarf.Type{}}
}

func (r *typeRegistry) add(offset stddwarf.Offset, t *dwarf.Type) dwarf.TypeId {
	t.Id = dwarf.TypeId{DIEOffset: offset}
	r.byOffset[offset] = t
	return t.Id
}

func (r *typeRegistry) lookup(id dwarf.TypeId) (*dwarf.Type, error) {
	t, ok := r.byOffset[id.DIEOffset]
	if !ok {
		return nil, assertErr{}
	}
	return t, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "type not found in test registry" }

func noResolve(name string) (*dwarf.Type, error) {
	return nil, assertErr{}
}

func TestEvalFieldAccess(t *testing.T) {
	reg := newTypeRegistry()
	mem := newFakeMemory()

	intType := &dwarf.Type{Kind: dwarf.KindScalar, Name: "int32_t", ByteSize: 4, Scalar: &dwarf.ScalarInfo{Kind: dwarf.ScalarSignedInt}}
	intID := reg.add(1, intType)

	structType := &dwarf.Type{
		Kind: dwarf.KindStruct, Name: "Point", ByteSize: 8,
		Struct: &dwarf.StructInfo{Fields: []dwarf.Field{
			{Name: "x", Offset: 0, Type: intID},
			{Name: "y", Offset: 4, Type: intID},
		}},
	}
	reg.add(2, structType)

	const base = uint64(0x2000)
	mem.putInt32(base+0, 10)
	mem.putInt32(base+4, 20)

	ev := NewEvaluator(mem, noResolve, reg.lookup, nil)
	scope := NewScope()
	scope.Bind(&Variable{Name: "p", Type: structType, Addr: base})

	v, err := ev.EvalString("p.y", scope)
	require.NoError(t, err)
	assert.True(t, v.HasAddr)
	assert.Equal(t, base+4, v.Addr)
	assert.Same(t, intType, v.Type)
}

func TestEvalDerefPointer(t *testing.T) {
	reg := newTypeRegistry()
	mem := newFakeMemory()

	intType := &dwarf.Type{Kind: dwarf.KindScalar, Name: "int32_t", ByteSize: 4, Scalar: &dwarf.ScalarInfo{Kind: dwarf.ScalarSignedInt}}
	intID := reg.add(1, intType)
	ptrType := &dwarf.Type{Kind: dwarf.KindPointer, Name: "int32_t*", ByteSize: 8, Pointer: &dwarf.PointerInfo{Pointee: intID}}
	reg.add(2, ptrType)

	const pointeeAddr = uint64(0x3000)
	mem.putInt32(pointeeAddr, 99)
	const ptrAddr = uint64(0x4000)
	mem.putUint64(ptrAddr, pointeeAddr)

	ev := NewEvaluator(mem, noResolve, reg.lookup, nil)
	scope := NewScope()
	scope.Bind(&Variable{Name: "p", Type: ptrType, Addr: ptrAddr})

	v, err := ev.EvalString("*p", scope)
	require.NoError(t, err)
	assert.Equal(t, pointeeAddr, v.Addr)
	assert.Same(t, intType, v.Type)
}

func TestEvalArrayIndex(t *testing.T) {
	reg := newTypeRegistry()
	mem := newFakeMemory()

	intType := &dwarf.Type{Kind: dwarf.KindScalar, Name: "int32_t", ByteSize: 4, Scalar: &dwarf.ScalarInfo{Kind: dwarf.ScalarSignedInt}}
	intID := reg.add(1, intType)
	arrType := &dwarf.Type{
		Kind: dwarf.KindArray, Name: "int32_t[4]", ByteSize: 16,
		Array: &dwarf.ArrayInfo{Element: intID, LowerBound: 0, UpperBound: 3, HasCount: true},
	}
	reg.add(2, arrType)

	const base = uint64(0x5000)
	for i := int32(0); i < 4; i++ {
		mem.putInt32(base+uint64(i)*4, i*10)
	}

	ev := NewEvaluator(mem, noResolve, reg.lookup, nil)
	scope := NewScope()
	scope.Bind(&Variable{Name: "arr", Type: arrType, Addr: base})

	v, err := ev.EvalString("arr[2]", scope)
	require.NoError(t, err)
	assert.Equal(t, base+8, v.Addr)

	_, err = ev.EvalString("arr[9]", scope)
	assert.Error(t, err)
}

func TestEvalVectorRecipeIndexAndSlice(t *testing.T) {
	reg := newTypeRegistry()
	mem := newFakeMemory()

	intType := &dwarf.Type{Kind: dwarf.KindScalar, Name: "int32_t", ByteSize: 4, Scalar: &dwarf.ScalarInfo{Kind: dwarf.ScalarSignedInt}}
	intID := reg.add(1, intType)

	vecType := &dwarf.Type{
		Kind: dwarf.KindStruct, Name: "std::vector<int, std::allocator<int> >", ByteSize: 24,
		Struct: &dwarf.StructInfo{Fields: []dwarf.Field{
			{Name: "_M_start", Offset: 0, Type: intID},
			{Name: "_M_finish", Offset: 8, Type: intID},
			{Name: "_M_end_of_storage", Offset: 16, Type: intID},
		}},
		TemplateParams: []dwarf.TemplateParam{{Name: "T", Type: intID}},
	}
	vecType.Recognition = dwarf.Recognize(vecType.Name, vecType)
	reg.add(2, vecType)

	const storage = uint64(0x6000)
	for i := int32(0); i < 5; i++ {
		mem.putInt32(storage+uint64(i)*4, i*100)
	}
	const vecAddr = uint64(0x7000)
	mem.putUint64(vecAddr+0, storage)
	mem.putUint64(vecAddr+8, storage+5*4)
	mem.putUint64(vecAddr+16, storage+5*4)

	ev := NewEvaluator(mem, noResolve, reg.lookup, nil)
	scope := NewScope()
	scope.Bind(&Variable{Name: "v", Type: vecType, Addr: vecAddr})

	elem, err := ev.EvalString("v[3]", scope)
	require.NoError(t, err)
	assert.Equal(t, storage+12, elem.Addr)

	_, err = ev.EvalString("v[5]", scope)
	assert.Error(t, err)

	sl, err := ev.EvalString("v[1..3]", scope)
	require.NoError(t, err)
	assert.Equal(t, storage+4, sl.Addr)
	require.NotNil(t, sl.Type.Array)
	assert.EqualValues(t, 2, sl.Type.Array.Count())

	slOpen, err := ev.EvalString("v[2..]", scope)
	require.NoError(t, err)
	assert.EqualValues(t, 3, slOpen.Type.Array.Count())
}

func TestEvalAddrOfYieldsAddresslessPointer(t *testing.T) {
	reg := newTypeRegistry()
	mem := newFakeMemory()

	intType := &dwarf.Type{Kind: dwarf.KindScalar, Name: "int32_t", ByteSize: 4, Scalar: &dwarf.ScalarInfo{Kind: dwarf.ScalarSignedInt}}
	reg.add(1, intType)

	const base = uint64(0x8000)
	mem.putInt32(base, 7)

	ev := NewEvaluator(mem, noResolve, reg.lookup, nil)
	scope := NewScope()
	scope.Bind(&Variable{Name: "x", Type: intType, Addr: base})

	v, err := ev.EvalString("&x", scope)
	require.NoError(t, err)
	assert.False(t, v.HasAddr)
	assert.Len(t, v.Immediate, 8)
}

func TestEvalCallWithoutInjectorIsRefused(t *testing.T) {
	mem := newFakeMemory()
	ev := NewEvaluator(mem, noResolve, (&typeRegistry{byOffset: map[stddwarf.Offset]*dwarf.Type{}}).lookup, nil)
	scope := NewScope()
	_, err := ev.EvalString("f(1)", scope)
	assert.Error(t, err)
}
