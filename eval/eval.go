// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eval

import (
	"fmt"

	"github.com/tracebreak/tracebreak/arch"
	"github.com/tracebreak/tracebreak/dwarf"
	"github.com/tracebreak/tracebreak/errkind"
)

// TypeResolver looks up a named type for the cast forms, built by the
// debugger facade from every loaded object's indexed types.
type TypeResolver func(name string) (*dwarf.Type, error)

// CallInjector performs call injection for a Call expression,
// implemented by package inject; kept as an interface here to avoid a
// dependency cycle (inject needs the evaluator to marshal arguments from
// already-evaluated Values).
type CallInjector interface {
	Invoke(sig *dwarf.Type, addr uint64, args []*Value) (*Value, error)
}

// TypeByID resolves a type reference recorded inside another type (a
// field's type, a pointer's pointee) to its full decoded Type, backed by
// the dwarf.Loader's interner.
type TypeByID func(id dwarf.TypeId) (*dwarf.Type, error)

// Evaluator evaluates parsed expressions against live memory.
type Evaluator struct {
	mem      Memory
	resolve  TypeResolver
	typeByID TypeByID
	injector CallInjector
}

func NewEvaluator(mem Memory, resolve TypeResolver, typeByID TypeByID, injector CallInjector) *Evaluator {
	return &Evaluator{mem: mem, resolve: resolve, typeByID: typeByID, injector: injector}
}

// EvalString parses and evaluates src against scope in one call, the
// entry point the debugger facade's "evaluate expression" command uses.
func (e *Evaluator) EvalString(src string, scope *Scope) (*Value, error) {
	expr, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return e.Eval(expr, scope)
}

func (e *Evaluator) Eval(expr Expr, scope *Scope) (*Value, error) {
	switch n := expr.(type) {
	case Ident:
		return e.evalIdent(n, scope)
	case Field:
		return e.evalField(n, scope)
	case Index:
		return e.evalIndex(n, scope)
	case Slice:
		return e.evalSlice(n, scope)
	case Deref:
		return e.evalDeref(n, scope)
	case AddrOf:
		return e.evalAddrOf(n, scope)
	case Canonical:
		v, err := e.Eval(n.Base, scope)
		if err != nil {
			return nil, err
		}
		v.Canonical = true
		return v, nil
	case PointerCast:
		return e.evalPointerCast(n, scope)
	case TypeCast:
		return e.evalTypeCast(n, scope)
	case Call:
		return e.evalCall(n, scope)
	default:
		return nil, errkind.New(errkind.Internal, fmt.Sprintf("unhandled expression node %T", expr))
	}
}

func (e *Evaluator) evalIdent(n Ident, scope *Scope) (*Value, error) {
	v, ok := scope.Vars[n.Name]
	if !ok {
		return nil, errkind.New(errkind.PlaceUnresolved, fmt.Sprintf("no variable %q in scope", n.Name))
	}
	return &Value{Type: v.Type, Addr: v.Addr, HasAddr: true}, nil
}

func (e *Evaluator) evalField(n Field, scope *Scope) (*Value, error) {
	base, err := e.Eval(n.Base, scope)
	if err != nil {
		return nil, err
	}
	t := e.underlying(base.Type)
	var fields *dwarf.StructInfo
	switch t.Kind {
	case dwarf.KindStruct:
		fields = t.Struct
	case dwarf.KindUnion:
		fields = t.Union
	default:
		return nil, errkind.New(errkind.ExpressionError, fmt.Sprintf("%q is not a struct or union", n.Name))
	}
	f, ok := fields.FieldByName(n.Name)
	if !ok {
		return nil, errkind.New(errkind.ExpressionError, fmt.Sprintf("no field %q", n.Name))
	}
	if !base.HasAddr {
		return nil, errkind.New(errkind.ExpressionError, "field access requires an addressable base")
	}
	fieldType, err := e.typeByID(f.Type)
	if err != nil {
		return nil, err
	}
	return &Value{Type: fieldType, Addr: base.Addr + uint64(f.Offset), HasAddr: true, Canonical: base.Canonical}, nil
}

func (e *Evaluator) evalDeref(n Deref, scope *Scope) (*Value, error) {
	base, err := e.Eval(n.Base, scope)
	if err != nil {
		return nil, err
	}
	t := e.underlying(base.Type)
	if t.Kind != dwarf.KindPointer {
		return nil, errkind.New(errkind.ExpressionError, "dereference of a non-pointer")
	}
	addr, err := e.readPointerValue(base)
	if err != nil {
		return nil, err
	}
	pointee, err := e.typeByID(t.Pointer.Pointee)
	if err != nil {
		return nil, err
	}
	return &Value{Type: pointee, Addr: addr, HasAddr: true}, nil
}

func (e *Evaluator) readPointerValue(v *Value) (uint64, error) {
	buf, err := v.bytes(e.mem, arch.AMD64.PointerSize)
	if err != nil {
		return 0, errkind.Wrap(errkind.BadAddress, "reading pointer value", err)
	}
	return arch.AMD64.Uintptr(buf), nil
}

func (e *Evaluator) evalAddrOf(n AddrOf, scope *Scope) (*Value, error) {
	inner, err := e.Eval(n.Base, scope)
	if err != nil {
		return nil, err
	}
	if !inner.HasAddr {
		return nil, errkind.New(errkind.ExpressionError, "cannot take the address of a non-addressable value")
	}
	buf := make([]byte, arch.AMD64.PointerSize)
	arch.AMD64.ByteOrder.PutUint64(buf, inner.Addr)
	synthetic := &dwarf.Type{Kind: dwarf.KindPointer, Pointer: &dwarf.PointerInfo{}, Name: "&" + displayName(inner.Type)}
	return &Value{Type: synthetic, Immediate: buf, HasAddr: false}, nil
}

func (e *Evaluator) evalPointerCast(n PointerCast, scope *Scope) (*Value, error) {
	addrVal, err := e.Eval(n.Addr, scope)
	if err != nil {
		return nil, err
	}
	buf, err := addrVal.bytes(e.mem, arch.AMD64.PointerSize)
	if err != nil {
		return nil, err
	}
	addr := arch.AMD64.Uintptr(buf)
	target, err := e.resolve(n.TypeName)
	if err != nil {
		return nil, err
	}
	return &Value{Type: target, Addr: addr, HasAddr: true}, nil
}

func (e *Evaluator) evalTypeCast(n TypeCast, scope *Scope) (*Value, error) {
	base, err := e.Eval(n.Base, scope)
	if err != nil {
		return nil, err
	}
	target, err := e.resolve(n.TypeName)
	if err != nil {
		return nil, err
	}
	return &Value{Type: target, Addr: base.Addr, HasAddr: base.HasAddr, Immediate: base.Immediate}, nil
}

func (e *Evaluator) evalCall(n Call, scope *Scope) (*Value, error) {
	if scope.FuncByName == nil || e.injector == nil {
		return nil, errkind.New(errkind.CallInjectionRefused, "call injection is not available in this context")
	}
	addr, sig, ok := scope.FuncByName(n.Name)
	if !ok {
		return nil, errkind.New(errkind.PlaceUnresolved, fmt.Sprintf("no function %q", n.Name))
	}
	args := make([]*Value, len(n.Args))
	for i, a := range n.Args {
		v, err := e.Eval(a, scope)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return e.injector.Invoke(sig, addr, args)
}

// underlying strips typedefs/qualifiers so field/index/deref logic always
// sees the real structural kind (typedefs are already transparent per
// dwarf.Interner.parse, but const/volatile wrappers are not).
func (e *Evaluator) underlying(t *dwarf.Type) *dwarf.Type {
	for t != nil && t.Kind == dwarf.KindQualified {
		inner, err := e.typeByID(t.Qualified.Inner)
		if err != nil {
			return t
		}
		t = inner
	}
	return t
}

func displayName(t *dwarf.Type) string {
	if t == nil {
		return "?"
	}
	return t.Name
}
