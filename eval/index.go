// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eval

import (
	"bytes"
	"fmt"

	"github.com/tracebreak/tracebreak/arch"
	"github.com/tracebreak/tracebreak/dwarf"
	"github.com/tracebreak/tracebreak/errkind"
)

// maxContainerNodes bounds an associative-container walk so a corrupt or
// cyclic node chain fails loudly instead of looping forever.
const maxContainerNodes = 1 << 20

// evalIndex implements `[k]` per the container materialization recipes:
// a recognized vector/deque/slice indexes by element-sized offset from its
// begin field, a recognized string indexes to a single character when its
// recipe's begin/end fields resolve, a plain
// array or C-style pointer indexes the same way without a recipe, and a
// recognized map/set looks its key up structurally.
func (e *Evaluator) evalIndex(n Index, scope *Scope) (*Value, error) {
	base, err := e.Eval(n.Base, scope)
	if err != nil {
		return nil, err
	}
	t := e.underlying(base.Type)

	if t.Recognition != nil && !base.Canonical {
		r := t.Recognition
		switch r.Kind {
		case dwarf.ContainerVector, dwarf.ContainerDeque, dwarf.ContainerSlice:
			if !n.Key.HasInt {
				return nil, errkind.New(errkind.ExpressionError, "sequence containers index by integer position only")
			}
			return e.indexSequenceRecipe(t, base, n.Key.Int)
		case dwarf.ContainerString:
			if !n.Key.HasInt {
				return nil, errkind.New(errkind.ExpressionError, "a string indexes by integer position only")
			}
			return e.indexString(t, base, n.Key.Int)
		case dwarf.ContainerHashMap:
			return e.lookupChained(t, base, n.Key)
		case dwarf.ContainerOrderedMap, dwarf.ContainerSet:
			return e.lookupTree(t, base, n.Key)
		default:
			return nil, errkind.New(errkind.ExpressionError, fmt.Sprintf("%q is not an indexable container", displayName(base.Type)))
		}
	}

	switch t.Kind {
	case dwarf.KindArray:
		if !n.Key.HasInt {
			return nil, errkind.New(errkind.ExpressionError, "array index must be an integer")
		}
		return e.indexArray(t, base, n.Key.Int)
	case dwarf.KindPointer:
		if !n.Key.HasInt {
			return nil, errkind.New(errkind.ExpressionError, "pointer index must be an integer")
		}
		return e.indexPointer(t, base, n.Key.Int)
	default:
		return nil, errkind.New(errkind.ExpressionError, fmt.Sprintf("%q is not indexable", displayName(base.Type)))
	}
}

// evalSlice implements `[a..b]`/`[a..]`: a contiguous sub-range view built
// the same way as a single index but widened over count elements, typed
// as a synthetic array of the element type.
func (e *Evaluator) evalSlice(n Slice, scope *Scope) (*Value, error) {
	base, err := e.Eval(n.Base, scope)
	if err != nil {
		return nil, err
	}
	t := e.underlying(base.Type)

	var elemID dwarf.TypeId
	var begin uint64
	switch {
	case t.Recognition != nil && !base.Canonical &&
		(t.Recognition.Kind == dwarf.ContainerVector || t.Recognition.Kind == dwarf.ContainerDeque || t.Recognition.Kind == dwarf.ContainerSlice):
		elemID = t.Recognition.Element
		addr, _, err := e.sequenceBounds(t, base)
		if err != nil {
			return nil, err
		}
		begin = addr
	case t.Kind == dwarf.KindArray:
		elemID = t.Array.Element
		begin = base.Addr
	case t.Kind == dwarf.KindPointer:
		elemID = t.Pointer.Pointee
		addr, err := e.readPointerValue(base)
		if err != nil {
			return nil, err
		}
		begin = addr
	default:
		return nil, errkind.New(errkind.ExpressionError, fmt.Sprintf("%q cannot be sliced", displayName(base.Type)))
	}

	elemType, err := e.typeByID(elemID)
	if err != nil {
		return nil, err
	}
	size, err := elemSize(elemType)
	if err != nil {
		return nil, err
	}

	hi := n.Hi
	if !n.HasHi {
		count, err := e.containerLen(t, base)
		if err != nil {
			return nil, err
		}
		hi = count
	}
	if hi < n.Lo {
		return nil, errkind.New(errkind.ExpressionError, "slice upper bound precedes lower bound")
	}

	synthetic := &dwarf.Type{
		Kind: dwarf.KindArray,
		Name: "[" + displayName(elemType) + "]",
		Array: &dwarf.ArrayInfo{
			Element:    elemID,
			LowerBound: 0,
			UpperBound: hi - n.Lo - 1,
			HasCount:   true,
		},
	}
	return &Value{Type: synthetic, Addr: begin + uint64(n.Lo)*uint64(size), HasAddr: true, Canonical: base.Canonical}, nil
}

func (e *Evaluator) indexArray(t *dwarf.Type, base *Value, i int64) (*Value, error) {
	if t.Array.HasCount && (i < t.Array.LowerBound || i > t.Array.UpperBound) {
		return nil, errkind.New(errkind.ExpressionError, fmt.Sprintf("index %d out of bounds for array of length %d", i, t.Array.Count()))
	}
	elemType, err := e.typeByID(t.Array.Element)
	if err != nil {
		return nil, err
	}
	size, err := elemSize(elemType)
	if err != nil {
		return nil, err
	}
	return &Value{Type: elemType, Addr: base.Addr + uint64(i-t.Array.LowerBound)*uint64(size), HasAddr: true}, nil
}

func (e *Evaluator) indexPointer(t *dwarf.Type, base *Value, i int64) (*Value, error) {
	addr, err := e.readPointerValue(base)
	if err != nil {
		return nil, err
	}
	elemType, err := e.typeByID(t.Pointer.Pointee)
	if err != nil {
		return nil, err
	}
	size, err := elemSize(elemType)
	if err != nil {
		return nil, err
	}
	return &Value{Type: elemType, Addr: addr + uint64(i)*uint64(size), HasAddr: true}, nil
}

// indexSequenceRecipe indexes a recognized vector/deque/slice at position
// i via its begin field plus an element-sized offset, per the "vector:
// read {ptr, len, cap}; index and slice translate to element-sized
// offsets from ptr" recipe.
func (e *Evaluator) indexSequenceRecipe(t *dwarf.Type, base *Value, i int64) (*Value, error) {
	begin, count, err := e.sequenceBounds(t, base)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= count {
		return nil, errkind.New(errkind.ExpressionError, fmt.Sprintf("index %d out of bounds for container of length %d", i, count))
	}
	elemType, err := e.typeByID(t.Recognition.Element)
	if err != nil {
		return nil, err
	}
	size, err := elemSize(elemType)
	if err != nil {
		return nil, err
	}
	return &Value{Type: elemType, Addr: begin + uint64(i)*uint64(size), HasAddr: true}, nil
}

// sequenceBounds reads the recipe's begin/end fields and returns the
// storage's starting address and element count.
func (e *Evaluator) sequenceBounds(t *dwarf.Type, base *Value) (begin uint64, count int64, err error) {
	r := t.Recognition
	beginField, ok := t.Struct.FieldByName(r.FieldBegin)
	if !ok {
		return 0, 0, errkind.New(errkind.DwarfMalformed, fmt.Sprintf("recipe field %q missing from %q", r.FieldBegin, displayName(t)))
	}
	beginVal := &Value{Type: t, Addr: base.Addr + uint64(beginField.Offset), HasAddr: true}
	buf, err := beginVal.bytes(e.mem, arch.AMD64.PointerSize)
	if err != nil {
		return 0, 0, err
	}
	begin = arch.AMD64.Uintptr(buf)

	elemType, err := e.typeByID(r.Element)
	if err != nil {
		return 0, 0, err
	}
	size, err := elemSize(elemType)
	if err != nil {
		return 0, 0, err
	}

	endField, ok := t.Struct.FieldByName(r.FieldEnd)
	if !ok {
		return 0, 0, errkind.New(errkind.DwarfMalformed, fmt.Sprintf("recipe field %q missing from %q", r.FieldEnd, displayName(t)))
	}
	endVal := &Value{Type: t, Addr: base.Addr + uint64(endField.Offset), HasAddr: true}
	buf, err = endVal.bytes(e.mem, arch.AMD64.PointerSize)
	if err != nil {
		return 0, 0, err
	}
	end := arch.AMD64.Uintptr(buf)

	if end < begin || size == 0 {
		return begin, 0, nil
	}
	return begin, int64(end-begin) / size, nil
}

func (e *Evaluator) indexString(t *dwarf.Type, base *Value, i int64) (*Value, error) {
	begin, count, err := e.sequenceBounds(t, base)
	if err != nil {
		// libstdc++'s short-string-optimization form has no separate
		// begin/end pair; such a layout is reported as an error, with no
		// fallback to the length field.
		lenField, ok := t.Struct.FieldByName(t.Recognition.FieldLen)
		if !ok {
			return nil, err
		}
		_ = lenField
		return nil, errkind.New(errkind.ExpressionError, "short-string-optimized string layout is not supported by this recipe")
	}
	if i < 0 || i >= count {
		return nil, errkind.New(errkind.ExpressionError, fmt.Sprintf("index %d out of bounds for string of length %d", i, count))
	}
	charType := &dwarf.Type{Kind: dwarf.KindScalar, Name: "char", ByteSize: 1, Scalar: &dwarf.ScalarInfo{Kind: dwarf.ScalarSignedChar}}
	return &Value{Type: charType, Addr: begin + uint64(i), HasAddr: true}, nil
}

// containerLen returns the element count of a recognized sequence
// container or array, used as the slice expression's open upper bound.
func (e *Evaluator) containerLen(t *dwarf.Type, base *Value) (int64, error) {
	if t.Recognition != nil {
		switch t.Recognition.Kind {
		case dwarf.ContainerVector, dwarf.ContainerDeque, dwarf.ContainerSlice, dwarf.ContainerString:
			_, count, err := e.sequenceBounds(t, base)
			return count, err
		}
	}
	if t.Kind == dwarf.KindArray {
		return t.Array.Count(), nil
	}
	return 0, errkind.New(errkind.ExpressionError, "an open-ended slice needs a known length")
}

func elemSize(t *dwarf.Type) (int64, error) {
	if t == nil || t.ByteSize <= 0 {
		return 0, errkind.New(errkind.DwarfMalformed, "element type has no known size")
	}
	return t.ByteSize, nil
}

// --- associative-container key lookup ---
//
// unordered_map/unordered_set chain their elements off a single linked
// list of nodes; map/set thread them into a red-black tree. Both recipes
// resolve their entry points by field name (never a hard-coded offset),
// read the node's own DWARF-derived size to find where the stored
// key/value begins, and then match the requested key structurally
// field-by-field, recursing through nested literal keys and treating a
// wildcard component as matching anything in that position.

// resolveFieldPath walks a dotted struct-field path from addr (typed t),
// returning the final field's own type and address.
func (e *Evaluator) resolveFieldPath(t *dwarf.Type, addr uint64, path []string) (*dwarf.Type, uint64, error) {
	cur, curAddr := t, addr
	for _, name := range path {
		cur = e.underlying(cur)
		var fields *dwarf.StructInfo
		switch cur.Kind {
		case dwarf.KindStruct:
			fields = cur.Struct
		case dwarf.KindUnion:
			fields = cur.Union
		default:
			return nil, 0, errkind.New(errkind.DwarfMalformed, fmt.Sprintf("expected a struct while resolving container recipe field %q", name))
		}
		f, ok := fields.FieldByName(name)
		if !ok {
			return nil, 0, errkind.New(errkind.DwarfMalformed, fmt.Sprintf("container recipe field %q not found", name))
		}
		fieldType, err := e.typeByID(f.Type)
		if err != nil {
			return nil, 0, err
		}
		curAddr += uint64(f.Offset)
		cur = fieldType
	}
	return cur, curAddr, nil
}

func (e *Evaluator) readPointerAt(addr uint64) (uint64, error) {
	buf := make([]byte, arch.AMD64.PointerSize)
	if err := e.mem.ReadMemory(addr, buf); err != nil {
		return 0, errkind.Wrap(errkind.BadAddress, "reading container node pointer", err)
	}
	return arch.AMD64.Uintptr(buf), nil
}

// entryType returns the type stored at each node: a synthesized
// {first, second} pair for a map-shaped recipe, the element type itself
// for a set-shaped one.
func (e *Evaluator) entryType(r *dwarf.Recognition) (*dwarf.Type, error) {
	if !r.IsMap {
		return e.typeByID(r.Element)
	}
	keyType, err := e.typeByID(r.Key)
	if err != nil {
		return nil, err
	}
	valType, err := e.typeByID(r.Value)
	if err != nil {
		return nil, err
	}
	second := alignUp(keyType.ByteSize, arch.AMD64.PointerSize)
	return &dwarf.Type{
		Kind: dwarf.KindStruct,
		Name: "pair<" + displayName(keyType) + "," + displayName(valType) + ">",
		Struct: &dwarf.StructInfo{Fields: []dwarf.Field{
			{Name: "first", Offset: 0, Type: r.Key},
			{Name: "second", Offset: second, Type: r.Value},
		}},
		ByteSize: second + valType.ByteSize,
	}, nil
}

func alignUp(n, align int64) int64 {
	if align <= 0 {
		return n
	}
	return (n + align - 1) / align * align
}

// splitEntry addresses an entry's key portion (for a wildcard/literal
// match) and what a successful lookup returns: the element itself for a
// set; for a map, the pair's "first" as the key and its "second" (the
// mapped value) as the result.
func (e *Evaluator) splitEntry(r *dwarf.Recognition, entryType *dwarf.Type, entryAddr uint64) (keyVal, fullVal *Value, err error) {
	full := &Value{Type: entryType, Addr: entryAddr, HasAddr: true}
	if !r.IsMap {
		return full, full, nil
	}
	keyType, err := e.typeByID(r.Key)
	if err != nil {
		return nil, nil, err
	}
	second, ok := entryType.Struct.FieldByName("second")
	if !ok {
		return nil, nil, errkind.New(errkind.Internal, `map entry type has no "second" field`)
	}
	valType, err := e.typeByID(r.Value)
	if err != nil {
		return nil, nil, err
	}
	mapped := &Value{Type: valType, Addr: entryAddr + uint64(second.Offset), HasAddr: true}
	return &Value{Type: keyType, Addr: entryAddr, HasAddr: true}, mapped, nil
}

// lookupChained walks an unordered_map/unordered_set's singly linked
// node chain looking for a key matching key, returning the matching
// entry's value (the mapped value for a map, the element itself for a
// set).
func (e *Evaluator) lookupChained(t *dwarf.Type, base *Value, key IndexKey) (*Value, error) {
	r := t.Recognition
	if len(r.NodeHeadPath) == 0 {
		return nil, errkind.New(errkind.DwarfMissing, "no node-chain recipe for this container type")
	}
	headFieldType, headAddr, err := e.resolveFieldPath(t, base.Addr, r.NodeHeadPath)
	if err != nil {
		return nil, err
	}
	headUnderlying := e.underlying(headFieldType)
	if headUnderlying.Kind != dwarf.KindPointer {
		return nil, errkind.New(errkind.DwarfMalformed, "node-chain head field is not a pointer")
	}
	nodeType, err := e.typeByID(headUnderlying.Pointer.Pointee)
	if err != nil {
		return nil, err
	}
	if nodeType.ByteSize <= 0 {
		return nil, errkind.New(errkind.DwarfMalformed, "node type has no known size")
	}

	entryType, err := e.entryType(r)
	if err != nil {
		return nil, err
	}

	nodePtr, err := e.readPointerAt(headAddr)
	if err != nil {
		return nil, err
	}
	for i := 0; nodePtr != 0; i++ {
		if i >= maxContainerNodes {
			return nil, errkind.New(errkind.Internal, "container node chain exceeded the traversal budget")
		}
		entryAddr := nodePtr + uint64(nodeType.ByteSize)
		keyVal, fullVal, err := e.splitEntry(r, entryType, entryAddr)
		if err != nil {
			return nil, err
		}
		matched, err := e.matchIndexKey(keyVal, key)
		if err != nil {
			return nil, err
		}
		if matched {
			return fullVal, nil
		}
		if nodePtr, err = e.readPointerAt(nodePtr); err != nil {
			return nil, err
		}
	}
	return nil, errkind.New(errkind.ExpressionError, "no entry matches the given key")
}

// lookupTree walks a map/set's red-black tree depth-first looking for a
// key matching key. Point lookup under a possibly-wildcarded key doesn't
// need the tree's sort order, only that every node is visited once.
func (e *Evaluator) lookupTree(t *dwarf.Type, base *Value, key IndexKey) (*Value, error) {
	r := t.Recognition
	if len(r.TreeHeaderPath) == 0 {
		return nil, errkind.New(errkind.DwarfMissing, "no tree recipe for this container type")
	}
	headerFieldType, headerAddr, err := e.resolveFieldPath(t, base.Addr, r.TreeHeaderPath)
	if err != nil {
		return nil, err
	}
	headerType := e.underlying(headerFieldType)
	var headerFields *dwarf.StructInfo
	switch headerType.Kind {
	case dwarf.KindStruct:
		headerFields = headerType.Struct
	case dwarf.KindUnion:
		headerFields = headerType.Union
	default:
		return nil, errkind.New(errkind.DwarfMalformed, "tree header is not a struct")
	}
	leftField, ok := headerFields.FieldByName(r.TreeLeftField)
	if !ok {
		return nil, errkind.New(errkind.DwarfMalformed, fmt.Sprintf("tree recipe field %q missing", r.TreeLeftField))
	}
	rightField, ok := headerFields.FieldByName(r.TreeRightField)
	if !ok {
		return nil, errkind.New(errkind.DwarfMalformed, fmt.Sprintf("tree recipe field %q missing", r.TreeRightField))
	}
	if headerType.ByteSize <= 0 {
		return nil, errkind.New(errkind.DwarfMalformed, "tree node header has no known size")
	}

	entryType, err := e.entryType(r)
	if err != nil {
		return nil, err
	}

	parentField, ok := headerFields.FieldByName(r.TreeParentField)
	if !ok {
		return nil, errkind.New(errkind.DwarfMalformed, fmt.Sprintf("tree recipe field %q missing", r.TreeParentField))
	}
	root, err := e.readPointerAt(headerAddr + uint64(parentField.Offset))
	if err != nil {
		return nil, err
	}
	var stack []uint64
	if root != 0 {
		stack = append(stack, root)
	}
	for visited := 0; len(stack) > 0; {
		if visited >= maxContainerNodes {
			return nil, errkind.New(errkind.Internal, "container tree walk exceeded the traversal budget")
		}
		visited++
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entryAddr := node + uint64(headerType.ByteSize)
		keyVal, fullVal, err := e.splitEntry(r, entryType, entryAddr)
		if err != nil {
			return nil, err
		}
		matched, err := e.matchIndexKey(keyVal, key)
		if err != nil {
			return nil, err
		}
		if matched {
			return fullVal, nil
		}
		left, err := e.readPointerAt(node + uint64(leftField.Offset))
		if err != nil {
			return nil, err
		}
		if left != 0 {
			stack = append(stack, left)
		}
		right, err := e.readPointerAt(node + uint64(rightField.Offset))
		if err != nil {
			return nil, err
		}
		if right != 0 {
			stack = append(stack, right)
		}
	}
	return nil, errkind.New(errkind.ExpressionError, "no entry matches the given key")
}

// matchIndexKey reports whether v structurally matches ik: a wildcard
// matches anything, a literal-struct key recurses field by field, and a
// scalar/string leaf compares by value.
func (e *Evaluator) matchIndexKey(v *Value, ik IndexKey) (bool, error) {
	switch {
	case ik.Wildcard:
		return true, nil
	case ik.Literal != nil:
		t := e.underlying(v.Type)
		var fields *dwarf.StructInfo
		switch t.Kind {
		case dwarf.KindStruct:
			fields = t.Struct
		case dwarf.KindUnion:
			fields = t.Union
		default:
			return false, errkind.New(errkind.ExpressionError, "a literal-struct key requires a struct-typed key")
		}
		for name, sub := range ik.Literal {
			f, ok := fields.FieldByName(name)
			if !ok {
				return false, errkind.New(errkind.ExpressionError, fmt.Sprintf("key type has no field %q", name))
			}
			fieldType, err := e.typeByID(f.Type)
			if err != nil {
				return false, err
			}
			fieldVal := &Value{Type: fieldType, Addr: v.Addr + uint64(f.Offset), HasAddr: true}
			matched, err := e.matchIndexKey(fieldVal, sub)
			if err != nil {
				return false, err
			}
			if !matched {
				return false, nil
			}
		}
		return true, nil
	case ik.HasStr:
		s, err := e.readStringValue(v)
		if err != nil {
			return false, err
		}
		return s == ik.Str, nil
	case ik.HasInt:
		n, err := e.readScalarInt(v)
		if err != nil {
			return false, err
		}
		return n == ik.Int, nil
	default:
		return false, errkind.New(errkind.ExpressionError, "empty index key")
	}
}

// readScalarInt reads a small integer field's bytes and sign-extends it
// per its own declared width, for comparing against an integer key.
func (e *Evaluator) readScalarInt(v *Value) (int64, error) {
	t := e.underlying(v.Type)
	if t.ByteSize <= 0 || t.ByteSize > 8 {
		return 0, errkind.New(errkind.ExpressionError, "index key comparison needs a scalar field of 8 bytes or fewer")
	}
	buf, err := v.bytes(e.mem, int(t.ByteSize))
	if err != nil {
		return 0, err
	}
	word := make([]byte, 8)
	copy(word, buf)
	u := arch.AMD64.Uint64(word)
	if t.Kind == dwarf.KindScalar && t.Scalar != nil &&
		(t.Scalar.Kind == dwarf.ScalarSignedInt || t.Scalar.Kind == dwarf.ScalarSignedChar) {
		shift := uint(64 - t.ByteSize*8)
		return int64(u<<shift) >> shift, nil
	}
	return int64(u), nil
}

// readStringValue reads a field's full text, either through the string
// recipe's begin/end bounds or, for a fixed char buffer, up to its first
// NUL byte.
func (e *Evaluator) readStringValue(v *Value) (string, error) {
	t := e.underlying(v.Type)
	if t.Recognition != nil && t.Recognition.Kind == dwarf.ContainerString {
		begin, count, err := e.sequenceBounds(t, v)
		if err != nil {
			return "", err
		}
		buf := make([]byte, count)
		if err := e.mem.ReadMemory(begin, buf); err != nil {
			return "", errkind.Wrap(errkind.BadAddress, "reading string key bytes", err)
		}
		return string(buf), nil
	}
	size := t.ByteSize
	if size <= 0 {
		size = 256
	}
	buf, err := v.bytes(e.mem, int(size))
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}
