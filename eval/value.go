// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eval

import (
	"github.com/tracebreak/tracebreak/dwarf"
)

// Memory is the narrow read/write interface the evaluator needs against
// live debuggee storage.
type Memory interface {
	ReadMemory(addr uint64, buf []byte) error
	WriteMemory(addr uint64, buf []byte) error
}

// Value is the result of evaluating an expression: a typed view onto
// either a live memory address or an immediate (address-less) quantity,
// "Field access decodes the structure's field offset and
// constructs a sub-value with the field's type and a sub-slice of
// storage."
type Value struct {
	Type *dwarf.Type

	Addr    uint64
	HasAddr bool // false for rvalues synthesized mid-expression (e.g. &x's operand is addressable, but &x itself is not)

	// Immediate carries the value's bytes when it has no debuggee
	// address (the result of &x, of arithmetic on an index, etc.).
	Immediate []byte

	// Canonical suppresses container-recipe specialization for this
	// value and its descendants "canonical form bypasses
	// specialization and shows the literal struct layout".
	Canonical bool
}

// Variable is one resolved local/parameter/global slot a Scope exposes to
// Ident lookups.
type Variable struct {
	Name string
	Type *dwarf.Type
	Addr uint64
}

// Scope is the name-resolution environment for one evaluation: the
// selected frame's locals/parameters plus (eventually) file-scope
// globals, keyed by name. The debugger facade builds one per stop from
// the unwinder's frame and the DWARF scope chain.
type Scope struct {
	Vars map[string]*Variable
	// FuncByName resolves a bare identifier used as a call target to its
	// address and signature type, for Call expressions.
	FuncByName func(name string) (addr uint64, sig *dwarf.Type, ok bool)
}

func NewScope() *Scope { return &Scope{Vars: map[string]*Variable{}} }

func (s *Scope) Bind(v *Variable) { s.Vars[v.Name] = v }

// Bytes reads count bytes backing v, from live memory if addressable or
// from its immediate storage otherwise. Exported for package inject,
// which marshals argument values into registers/stack without going
// through the evaluator itself.
func (v *Value) Bytes(mem Memory, count int) ([]byte, error) {
	return v.bytes(mem, count)
}

// bytes reads count bytes backing v, from live memory if addressable or
// from its immediate storage otherwise.
func (v *Value) bytes(mem Memory, count int) ([]byte, error) {
	if v.HasAddr {
		buf := make([]byte, count)
		if err := mem.ReadMemory(v.Addr, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	if len(v.Immediate) < count {
		buf := make([]byte, count)
		copy(buf, v.Immediate)
		return buf, nil
	}
	return v.Immediate[:count], nil
}
