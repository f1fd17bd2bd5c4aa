// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	stddwarf "debug/dwarf"

	"github.com/tracebreak/tracebreak/objfile"
)

// TypeId identifies a type by (object, unit-offset, DIE-offset).
// Types are referenced by TypeId rather than by direct Go pointer so that
// a self-referential structure (a node type pointing at itself through a
// field) doesn't require cyclic Go value construction: pointee lookup goes
// back through the Interner rather than through a cyclic Go value.
type TypeId struct {
	Object     *objfile.Object
	UnitOffset stddwarf.Offset
	DIEOffset  stddwarf.Offset
}

// ScalarKind enumerates the DWARF base-type encodings (DW_ATE_*) the
// evaluator needs to distinguish when formatting a value.
type ScalarKind int

const (
	ScalarUnknown ScalarKind = iota
	ScalarBool
	ScalarSignedInt
	ScalarUnsignedInt
	ScalarSignedChar
	ScalarUnsignedChar
	ScalarFloat
)

// Field is one member of a Struct/Union type.
type Field struct {
	Name   string
	Offset int64 // byte offset within the containing type
	Type   TypeId
}

// EnumVariant is one named constant of an Enumeration type.
type EnumVariant struct {
	Name  string
	Value int64
}

// TemplateParam is one entry of a generic type's parameter list. Order
// matters: the evaluator uses these positionally for generic container
// recipes, which must preserve declared order, so this is a slice
// (ordered), never a map/set.
type TemplateParam struct {
	Name string
	Type TypeId
}

// Qualifier marks a const/volatile/atomic wrapper around another type.
type Qualifier int

const (
	QualifierNone Qualifier = iota
	QualifierConst
	QualifierVolatile
	QualifierAtomic
)

// Type is the interned, decoded representation of one DWARF type DIE. Only
// one of the pointer fields below is non-nil; which one is decided by
// Kind.
type Type struct {
	Id   TypeId
	Name string // fully-qualified name where DWARF provides one; "" otherwise
	Kind TypeKind

	ByteSize int64

	Scalar    *ScalarInfo
	Pointer   *PointerInfo
	Array     *ArrayInfo
	Struct    *StructInfo
	Union     *StructInfo // same shape as Struct; union members all start at offset 0
	Enum      *EnumInfo
	Subrange  *SubrangeInfo
	Subr      *SubroutineInfo
	Qualified *QualifiedInfo

	// TemplateParams is non-nil for instantiated generic types
	// (DW_TAG_template_type_parameter children), preserved in declared
	// order.
	TemplateParams []TemplateParam

	// Recognition is set when the type's fully-qualified name matched a
	// known standard-library container pattern; nil for an ordinary
	// structural type.
	Recognition *Recognition
}

type TypeKind int

const (
	KindScalar TypeKind = iota
	KindPointer
	KindArray
	KindStruct
	KindUnion
	KindEnum
	KindSubrange
	KindSubroutine
	KindQualified
	KindUnspecified // e.g. void
)

type ScalarInfo struct {
	Kind     ScalarKind
	Encoding int64 // raw DW_ATE_* value, kept for diagnostics
}

type PointerInfo struct {
	Pointee   TypeId
	Reference bool // DW_TAG_reference_type vs DW_TAG_pointer_type
}

type ArrayInfo struct {
	Element    TypeId
	LowerBound int64
	UpperBound int64 // inclusive; count = UpperBound-LowerBound+1 when known
	HasCount   bool
}

// Count returns the array's element count, clamped to zero for malformed
// (negative or absent) bounds — "defensive against malformed debug info"
// .
func (a ArrayInfo) Count() int64 {
	if !a.HasCount {
		return 0
	}
	n := a.UpperBound - a.LowerBound + 1
	if n < 0 {
		return 0
	}
	return n
}

type StructInfo struct {
	Fields []Field
}

type EnumInfo struct {
	Variants  []EnumVariant
	Underlier TypeId
}

type SubrangeInfo struct {
	Element    TypeId
	LowerBound int64
	UpperBound int64
	HasCount   bool
}

type SubroutineInfo struct {
	Return     TypeId
	HasReturn  bool
	Parameters []TypeId
}

type QualifiedInfo struct {
	Qualifier Qualifier
	Inner     TypeId
}
