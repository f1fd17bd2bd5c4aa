// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

import (
	"github.com/tracebreak/tracebreak/dwarf"
	"github.com/tracebreak/tracebreak/eval"
	"github.com/tracebreak/tracebreak/inject"
)

// Evaluate runs an expression against the selected thread's selected
// frame: its locals and parameters become identifiers, casts resolve
// against every loaded object's indexed types, and bare-name calls inject
// a real call into the debuggee.
func (f *Facade) Evaluate(src string) (*eval.Value, error) {
	scope, err := f.buildScope()
	if err != nil {
		return nil, err
	}
	tid := f.SelectedThread()
	injector := inject.New(f.tracer.Injector(tid), f.loader.ResolveType)
	evaluator := eval.NewEvaluator(f.tracer, f.loader.TypeByName, f.loader.ResolveType, injector)
	return evaluator.EvalString(src, scope)
}

// buildScope resolves the selected frame's locals into an eval.Scope by
// running each variable's DWARF location expression against the frame's
// recovered registers and CFA.
func (f *Facade) buildScope() (*eval.Scope, error) {
	fr, err := f.SelectedFrame()
	if err != nil {
		return nil, err
	}
	scope := eval.NewScope()
	scope.FuncByName = f.resolveCallTarget

	if fr.Func == nil {
		return scope, nil
	}

	obj, unitOffset, dieOffset := fr.Func.Object, fr.Func.Unit.Offset, fr.Func.DIE
	locals, err := f.loader.FunctionLocals(obj, unitOffset, dieOffset)
	if err != nil {
		return scope, nil // no DW_AT_location info for this function: evaluate with an empty scope
	}

	var frameBase uint64
	if fbExpr, err := f.loader.FrameBase(obj, dieOffset); err == nil {
		if fb, err := dwarf.EvaluateFrameBase(fbExpr, fr.CFA, fr.Regs); err == nil {
			frameBase = fb
		}
	}

	for _, local := range locals {
		loc, err := dwarf.EvaluateLocation(local.Location, fr.CFA, fr.Regs, &frameBase)
		if err != nil || loc.InReg {
			// A register-resident variable has no address the current
			// Value/Scope model can bind; skipped rather than guessed at.
			continue
		}
		typ, err := f.loader.ResolveType(local.Type)
		if err != nil {
			continue
		}
		scope.Bind(&eval.Variable{Name: local.Name, Type: typ, Addr: loc.Addr})
	}
	return scope, nil
}

// resolveCallTarget looks up name as a function symbol and builds a
// synthetic subroutine type for its signature, for Call expressions.
func (f *Facade) resolveCallTarget(name string) (uint64, *dwarf.Type, bool) {
	syms := f.symbols.FunctionsByName(name)
	if len(syms) == 0 {
		return 0, nil, false
	}
	sym := syms[0]
	sig, err := f.loader.SubprogramSignature(sym.Object, sym.Unit.Offset, sym.DIE)
	if err != nil {
		return 0, nil, false
	}
	return sym.LowPC, sig, true
}
