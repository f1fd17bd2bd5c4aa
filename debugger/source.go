// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

import (
	"bufio"
	"fmt"
	"os"
	"regexp"

	"github.com/tracebreak/tracebreak/arch"
	"github.com/tracebreak/tracebreak/errkind"
	"github.com/tracebreak/tracebreak/objfile"
	"github.com/tracebreak/tracebreak/symtab"
)

// Source reads path off disk and returns the lines from line-context to
// line+context (1-indexed, inclusive), for the facade's source-view
// command.
func (f *Facade) Source(path string, line, context int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, fmt.Sprintf("opening source %s", path), err)
	}
	defer file.Close()

	lo, hi := line-context, line+context
	if lo < 1 {
		lo = 1
	}
	var out []string
	sc := bufio.NewScanner(file)
	n := 0
	for sc.Scan() {
		n++
		if n < lo {
			continue
		}
		if n > hi {
			break
		}
		out = append(out, sc.Text())
	}
	return out, nil
}

// Disassemble reads length bytes at addr (transparently of any installed
// breakpoint trap) and decodes them as x86-64 instructions.
func (f *Facade) Disassemble(addr uint64, length int) ([]arch.Instruction, error) {
	buf, err := f.ReadMemory(addr, length)
	if err != nil {
		return nil, err
	}
	return arch.Disassemble(buf, addr), nil
}

// LookupSymbol resolves a function name to its symbols (several if the
// name is defined in more than one loaded object).
func (f *Facade) LookupSymbol(name string) []*symtab.Symbol {
	return f.symbols.FunctionsByName(name)
}

// LookupSymbolsMatching resolves every function symbol whose name matches
// pattern, a regular expression.
func (f *Facade) LookupSymbolsMatching(pattern string) ([]*symtab.Symbol, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errkind.Wrap(errkind.ExpressionError, "compiling symbol pattern", err)
	}
	return f.symbols.FunctionsMatching(re), nil
}

// SharedLibraries lists every loaded object, main executable first.
func (f *Facade) SharedLibraries() []*objfile.Object {
	return f.catalog.All()
}
