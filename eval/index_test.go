// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eval

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracebreak/tracebreak/dwarf"
)

// buildUnorderedMap wires up a one-entry std::unordered_map<Foo, int>
// fixture: a container holding a single-node chain whose stored pair is
// {Foo{bar:"x", baz:[1,2]}, 1}, laid out the way libstdc++'s _Hashtable
// does (container._M_h._M_before_begin._M_nxt is the head pointer; each
// node is {next pointer; pair}).
func buildUnorderedMap(t *testing.T, reg *typeRegistry, mem *fakeMemory) (mapType *dwarf.Type, containerAddr uint64) {
	t.Helper()

	charArr := &dwarf.Type{Kind: dwarf.KindArray, Name: "char[4]", ByteSize: 4}
	charArrID := reg.add(1, charArr)
	intType := &dwarf.Type{Kind: dwarf.KindScalar, Name: "int", ByteSize: 4, Scalar: &dwarf.ScalarInfo{Kind: dwarf.ScalarSignedInt}}
	intID := reg.add(2, intType)
	bazArr := &dwarf.Type{
		Kind: dwarf.KindArray, Name: "int[2]", ByteSize: 8,
		Array: &dwarf.ArrayInfo{Element: intID, LowerBound: 0, UpperBound: 1, HasCount: true},
	}
	bazID := reg.add(3, bazArr)

	fooType := &dwarf.Type{
		Kind: dwarf.KindStruct, Name: "Foo", ByteSize: 12,
		Struct: &dwarf.StructInfo{Fields: []dwarf.Field{
			{Name: "bar", Offset: 0, Type: charArrID},
			{Name: "baz", Offset: 4, Type: bazID},
		}},
	}
	fooID := reg.add(4, fooType)

	nodeBase := &dwarf.Type{Kind: dwarf.KindStruct, Name: "_Hash_node_base", ByteSize: 8}
	nodeBaseID := reg.add(5, nodeBase)
	ptrNodeBase := &dwarf.Type{Kind: dwarf.KindPointer, Name: "_Hash_node_base*", ByteSize: 8, Pointer: &dwarf.PointerInfo{Pointee: nodeBaseID}}
	ptrNodeBaseID := reg.add(6, ptrNodeBase)
	nodeBase.Struct = &dwarf.StructInfo{Fields: []dwarf.Field{{Name: "_M_nxt", Offset: 0, Type: ptrNodeBaseID}}}

	hashtableType := &dwarf.Type{
		Kind: dwarf.KindStruct, Name: "Hashtable", ByteSize: 16,
		Struct: &dwarf.StructInfo{Fields: []dwarf.Field{
			{Name: "_M_before_begin", Offset: 0, Type: nodeBaseID},
			{Name: "_M_element_count", Offset: 8, Type: intID},
		}},
	}
	hashtableID := reg.add(7, hashtableType)

	mapType = &dwarf.Type{
		Kind: dwarf.KindStruct,
		Name: "std::unordered_map<Foo, int, std::hash<Foo>, std::equal_to<Foo>, std::allocator<std::pair<const Foo, int> > >",
		ByteSize: 16,
		Struct: &dwarf.StructInfo{Fields: []dwarf.Field{
			{Name: "_M_h", Offset: 0, Type: hashtableID},
		}},
		TemplateParams: []dwarf.TemplateParam{
			{Name: "Key", Type: fooID},
			{Name: "T", Type: intID},
		},
	}
	mapType.Recognition = dwarf.Recognize(mapType.Name, mapType)
	require.NotNil(t, mapType.Recognition)
	require.Equal(t, dwarf.ContainerHashMap, mapType.Recognition.Kind)
	reg.add(8, mapType)

	const nodeAddr = uint64(0x9000)
	containerAddr = 0x9100

	mem.putUint64(nodeAddr, 0) // _M_nxt == nullptr: one-entry chain
	entryAddr := nodeAddr + 8  // past _Hash_node_base's single pointer
	require.NoError(t, mem.WriteMemory(entryAddr, []byte{'x', 0, 0, 0}))
	mem.putInt32(entryAddr+4, 1)
	mem.putInt32(entryAddr+8, 2)
	mem.putInt32(entryAddr+16, 1) // pair.second, at alignUp(sizeof(Foo), 8)

	mem.putUint64(containerAddr, nodeAddr) // head pointer

	return mapType, containerAddr
}

func TestEvalHashmapLiteralKeyMatches(t *testing.T) {
	reg := newTypeRegistry()
	mem := newFakeMemory()
	mapType, containerAddr := buildUnorderedMap(t, reg, mem)

	ev := NewEvaluator(mem, noResolve, reg.lookup, nil)
	scope := NewScope()
	scope.Bind(&Variable{Name: "m", Type: mapType, Addr: containerAddr})

	v, err := ev.EvalString(`m[bar:"x", baz:*]`, scope)
	require.NoError(t, err)
	buf, err := v.bytes(mem, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 1, int32(binary.LittleEndian.Uint32(buf)))
}

func TestEvalHashmapLiteralKeyMismatchIsExpressionError(t *testing.T) {
	reg := newTypeRegistry()
	mem := newFakeMemory()
	mapType, containerAddr := buildUnorderedMap(t, reg, mem)

	ev := NewEvaluator(mem, noResolve, reg.lookup, nil)
	scope := NewScope()
	scope.Bind(&Variable{Name: "m", Type: mapType, Addr: containerAddr})

	_, err := ev.EvalString(`m[bar:"y", baz:*]`, scope)
	assert.Error(t, err)
}
