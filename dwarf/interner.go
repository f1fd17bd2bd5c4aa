// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	stddwarf "debug/dwarf"
	"fmt"
	"sync"

	"github.com/tracebreak/tracebreak/errkind"
	"github.com/tracebreak/tracebreak/objfile"
)

// promise is a per-TypeId in-flight parse, so concurrent requesters for
// the same type block on one parse instead of duplicating work (
// "parallel readers wait on a per-identifier promise").
type promise struct {
	done chan struct{}
	typ  *Type
	err  error
}

// Interner is the memoization table described in : "a function from
// identifier -> immutable record, backed by a memoization table protected
// by a single lock". Types are addressed by TypeId and never by direct Go
// pointer containment, which is what lets a self-referential structure
// (a struct with a pointer field back to itself) round-trip without a
// cyclic Go value: Pointee is a TypeId, resolved through the Interner on
// demand, not embedded.
type Interner struct {
	loader *Loader

	mu       sync.Mutex
	promises map[TypeId]*promise
}

func newInterner(l *Loader) *Interner {
	return &Interner{loader: l, promises: map[TypeId]*promise{}}
}

// TypeByOffset resolves offset within unit's object to an interned Type,
// parsing it (and triggering, transitively, every type it references) on
// first request : "requesting a type by DIE reference triggers
// parsing of its entire reachable subgraph."
func (l *Loader) TypeByOffset(obj *objfile.Object, unitOffset, dieOffset stddwarf.Offset) (*Type, error) {
	id := TypeId{Object: obj, UnitOffset: unitOffset, DIEOffset: dieOffset}
	return l.interns.resolve(id)
}

func (in *Interner) resolve(id TypeId) (*Type, error) {
	in.mu.Lock()
	if p, ok := in.promises[id]; ok {
		in.mu.Unlock()
		<-p.done
		return p.typ, p.err
	}
	p := &promise{done: make(chan struct{})}
	in.promises[id] = p
	in.mu.Unlock()

	p.typ, p.err = in.parse(id)
	close(p.done)
	return p.typ, p.err
}

func (in *Interner) parse(id TypeId) (*Type, error) {
	r := id.Object.DWARF.Reader()
	r.Seek(id.DIEOffset)
	entry, err := r.Next()
	if err != nil {
		return nil, errkind.Wrap(errkind.DwarfMalformed, "parsing type DIE", err)
	}
	if entry == nil || entry.Offset != id.DIEOffset {
		return nil, errkind.New(errkind.DwarfMissing, fmt.Sprintf("no DIE at offset %#x", id.DIEOffset))
	}

	t := &Type{Id: id}
	if name, ok := entry.Val(stddwarf.AttrName).(string); ok {
		t.Name = in.loader.intern(name)
	}
	if bs, ok := entry.Val(stddwarf.AttrByteSize).(int64); ok {
		t.ByteSize = bs
	}

	refType := func(attr stddwarf.Attr) (TypeId, bool) {
		off, ok := entry.Val(attr).(stddwarf.Offset)
		if !ok {
			return TypeId{}, false
		}
		return TypeId{Object: id.Object, UnitOffset: id.UnitOffset, DIEOffset: off}, true
	}

	switch entry.Tag {
	case stddwarf.TagBaseType:
		t.Kind = KindScalar
		enc, _ := entry.Val(stddwarf.AttrEncoding).(int64)
		t.Scalar = &ScalarInfo{Kind: scalarKindOf(enc), Encoding: enc}

	case stddwarf.TagPointerType, stddwarf.TagReferenceType:
		t.Kind = KindPointer
		pointee, _ := refType(stddwarf.AttrType)
		t.Pointer = &PointerInfo{Pointee: pointee, Reference: entry.Tag == stddwarf.TagReferenceType}

	case stddwarf.TagArrayType:
		t.Kind = KindArray
		elem, _ := refType(stddwarf.AttrType)
		info := &ArrayInfo{Element: elem}
		if sub, err := in.firstSubrange(entry, r); err == nil && sub != nil {
			info.LowerBound = sub.LowerBound
			info.UpperBound = sub.UpperBound
			info.HasCount = sub.HasCount
		}
		t.Array = info

	case stddwarf.TagStructType:
		t.Kind = KindStruct
		fields, params, err := in.readMembers(entry, r, id)
		if err != nil {
			return nil, err
		}
		t.Struct = &StructInfo{Fields: fields}
		t.TemplateParams = params
		t.Recognition = Recognize(t.Name, t)

	case stddwarf.TagUnionType:
		t.Kind = KindUnion
		fields, params, err := in.readMembers(entry, r, id)
		if err != nil {
			return nil, err
		}
		t.Union = &StructInfo{Fields: fields}
		t.TemplateParams = params

	case stddwarf.TagEnumerationType:
		t.Kind = KindEnum
		underlier, _ := refType(stddwarf.AttrType)
		variants, err := in.readEnumerators(entry, r)
		if err != nil {
			return nil, err
		}
		t.Enum = &EnumInfo{Variants: variants, Underlier: underlier}

	case stddwarf.TagSubroutineType:
		t.Kind = KindSubroutine
		ret, hasRet := refType(stddwarf.AttrType)
		params, err := in.readFormalParameters(entry, r, id)
		if err != nil {
			return nil, err
		}
		t.Subr = &SubroutineInfo{Return: ret, HasReturn: hasRet, Parameters: params}

	case stddwarf.TagConstType, stddwarf.TagVolatileType, stddwarf.TagAtomicType:
		t.Kind = KindQualified
		inner, _ := refType(stddwarf.AttrType)
		q := QualifierConst
		if entry.Tag == stddwarf.TagVolatileType {
			q = QualifierVolatile
		} else if entry.Tag == stddwarf.TagAtomicType {
			q = QualifierAtomic
		}
		t.Qualified = &QualifiedInfo{Qualifier: q, Inner: inner}

	case stddwarf.TagTypedef:
		// A typedef is transparent: resolve straight through to the
		// aliased type so callers never need to special-case it.
		inner, ok := refType(stddwarf.AttrType)
		if !ok {
			return nil, errkind.New(errkind.DwarfMalformed, "typedef with no target type")
		}
		return in.resolve(inner)

	default:
		t.Kind = KindUnspecified
	}

	return t, nil
}

func scalarKindOf(encoding int64) ScalarKind {
	switch encoding {
	case 0x02: // DW_ATE_boolean
		return ScalarBool
	case 0x04: // DW_ATE_float
		return ScalarFloat
	case 0x05: // DW_ATE_signed
		return ScalarSignedInt
	case 0x06: // DW_ATE_signed_char
		return ScalarSignedChar
	case 0x07: // DW_ATE_unsigned
		return ScalarUnsignedInt
	case 0x08: // DW_ATE_unsigned_char
		return ScalarUnsignedChar
	default:
		return ScalarUnknown
	}
}

// firstSubrange reads the first DW_TAG_subrange_type child of an array
// type DIE, which carries the element count ( ArrayType lower/up
// bounds). Multi-dimensional arrays have multiple subrange children;
// component G's recipes only need rank-1 arrays/slices, so we take the
// first and note the simplification.
func (in *Interner) firstSubrange(parent *stddwarf.Entry, r *stddwarf.Reader) (*SubrangeInfo, error) {
	r.Seek(parent.Offset)
	if _, err := r.Next(); err != nil { // re-consume parent
		return nil, err
	}
	for {
		child, err := r.Next()
		if err != nil {
			return nil, err
		}
		if child == nil || child.Tag == 0 {
			return nil, nil
		}
		if child.Tag == stddwarf.TagSubrangeType {
			info := &SubrangeInfo{}
			if count, ok := child.Val(stddwarf.AttrCount).(int64); ok {
				info.LowerBound = 0
				info.UpperBound = count - 1
				info.HasCount = true
			} else if upper, ok := child.Val(stddwarf.AttrUpperBound).(int64); ok {
				info.UpperBound = upper
				info.HasCount = true
			}
			if !child.Children {
				return info, nil
			}
			r.SkipChildren()
			return info, nil
		}
		if child.Children {
			r.SkipChildren()
		}
	}
}

// readMembers walks a struct/union DIE's DW_TAG_member and
// DW_TAG_template_type_parameter children, preserving template parameter
// declaration order.
func (in *Interner) readMembers(parent *stddwarf.Entry, r *stddwarf.Reader, id TypeId) ([]Field, []TemplateParam, error) {
	r.Seek(parent.Offset)
	if _, err := r.Next(); err != nil {
		return nil, nil, err
	}
	var fields []Field
	var params []TemplateParam
	for {
		child, err := r.Next()
		if err != nil {
			return nil, nil, err
		}
		if child == nil || child.Tag == 0 {
			break
		}
		switch child.Tag {
		case stddwarf.TagMember:
			name, _ := child.Val(stddwarf.AttrName).(string)
			off, _ := child.Val(stddwarf.AttrDataMemberLoc).(int64)
			typeOff, ok := child.Val(stddwarf.AttrType).(stddwarf.Offset)
			if ok {
				fields = append(fields, Field{
					Name:   in.loader.intern(name),
					Offset: off,
					Type:   TypeId{Object: id.Object, UnitOffset: id.UnitOffset, DIEOffset: typeOff},
				})
			}
		case stddwarf.TagTemplateTypeParameter:
			name, _ := child.Val(stddwarf.AttrName).(string)
			typeOff, ok := child.Val(stddwarf.AttrType).(stddwarf.Offset)
			if ok {
				params = append(params, TemplateParam{
					Name: in.loader.intern(name),
					Type: TypeId{Object: id.Object, UnitOffset: id.UnitOffset, DIEOffset: typeOff},
				})
			}
		}
		if child.Children {
			r.SkipChildren()
		}
	}
	return fields, params, nil
}

func (in *Interner) readEnumerators(parent *stddwarf.Entry, r *stddwarf.Reader) ([]EnumVariant, error) {
	r.Seek(parent.Offset)
	if _, err := r.Next(); err != nil {
		return nil, err
	}
	var out []EnumVariant
	for {
		child, err := r.Next()
		if err != nil {
			return nil, err
		}
		if child == nil || child.Tag == 0 {
			break
		}
		if child.Tag == stddwarf.TagEnumerator {
			name, _ := child.Val(stddwarf.AttrName).(string)
			val, _ := child.Val(stddwarf.AttrConstValue).(int64)
			out = append(out, EnumVariant{Name: name, Value: val})
		}
		if child.Children {
			r.SkipChildren()
		}
	}
	return out, nil
}

// SubprogramSignature builds a synthetic KindSubroutine Type out of a
// DW_TAG_subprogram DIE's return type and formal parameters, for callers
// (the call-injection scope builder) that need a function's signature but
// have no DW_TAG_subroutine_type DIE to point at, since a defined function
// is its own DIE tag, distinct from a function pointer's pointee type.
func (l *Loader) SubprogramSignature(obj *objfile.Object, unitOffset, dieOffset stddwarf.Offset) (*Type, error) {
	r := obj.DWARF.Reader()
	r.Seek(dieOffset)
	entry, err := r.Next()
	if err != nil {
		return nil, errkind.Wrap(errkind.DwarfMalformed, "parsing subprogram DIE", err)
	}
	if entry == nil || entry.Offset != dieOffset || entry.Tag != stddwarf.TagSubprogram {
		return nil, errkind.New(errkind.DwarfMissing, fmt.Sprintf("no subprogram DIE at offset %#x", dieOffset))
	}

	id := TypeId{Object: obj, UnitOffset: unitOffset, DIEOffset: dieOffset}
	t := &Type{Id: id, Kind: KindSubroutine}
	if name, ok := entry.Val(stddwarf.AttrName).(string); ok {
		t.Name = l.intern(name)
	}
	ret, hasRet := stddwarf.Offset(0), false
	if off, ok := entry.Val(stddwarf.AttrType).(stddwarf.Offset); ok {
		ret, hasRet = off, true
	}
	params, err := l.interns.readFormalParameters(entry, r, id)
	if err != nil {
		return nil, err
	}
	t.Subr = &SubroutineInfo{
		Return:     TypeId{Object: obj, UnitOffset: unitOffset, DIEOffset: ret},
		HasReturn:  hasRet,
		Parameters: params,
	}
	return t, nil
}

func (in *Interner) readFormalParameters(parent *stddwarf.Entry, r *stddwarf.Reader, id TypeId) ([]TypeId, error) {
	r.Seek(parent.Offset)
	if _, err := r.Next(); err != nil {
		return nil, err
	}
	var out []TypeId
	for {
		child, err := r.Next()
		if err != nil {
			return nil, err
		}
		if child == nil || child.Tag == 0 {
			break
		}
		if child.Tag == stddwarf.TagFormalParameter {
			if typeOff, ok := child.Val(stddwarf.AttrType).(stddwarf.Offset); ok {
				out = append(out, TypeId{Object: id.Object, UnitOffset: id.UnitOffset, DIEOffset: typeOff})
			}
		}
		if child.Children {
			r.SkipChildren()
		}
	}
	return out, nil
}
