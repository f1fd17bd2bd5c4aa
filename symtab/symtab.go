// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symtab is the symbol and line index (component 4.C): a map from
// demangled function name to symbol, a map from source path to ordered
// (line, address) rows derived from each unit's DWARF line-number
// program, and the inverse address -> source:line:column lookup stack
// rendering needs.
//
// Grounded on the teacher's program/server symbol table scan
// (ogle/program/server/server.go's lookupFunction-style linear scans) and
// on the DWARF line-program walk pattern used throughout the pack for
// address<->line translation; built on stdlib debug/dwarf's LineReader,
// which is also the stdlib justification recorded in DESIGN.md (no
// third-party line-table reader exists in the retrieved pack).
package symtab

import (
	stddwarf "debug/dwarf"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tracebreak/tracebreak/dwarf"
	"github.com/tracebreak/tracebreak/errkind"
	"github.com/tracebreak/tracebreak/objfile"
)

// Symbol is one function symbol: its demangled name, defining DIE
// location, and relocated address range.
type Symbol struct {
	Name    string
	Object  *objfile.Object
	Unit    *dwarf.Unit
	DIE     stddwarf.Offset
	LowPC   uint64
	HighPC  uint64
}

// LineRow is one (line, address) pair from a unit's line-number program.
// IsStmt marks rows the producer flagged as a statement boundary — only
// these are breakpoint-valid.
type LineRow struct {
	File    string
	Line    int
	Column  int
	Address uint64
	IsStmt  bool
	EndSeq  bool
}

// Index is the symbol and line index for one or more loaded objects.
type Index struct {
	log *logrus.Entry

	mu        sync.RWMutex
	functions []*Symbol            // sorted by LowPC
	byName    map[string][]*Symbol // a name can be defined in several objects (e.g. a PLT stub and the real definition)
	byPath    map[string][]LineRow // sorted by Address within each path
	allRows   []LineRow            // all rows, sorted by Address, for the address->line lookup
}

func NewIndex(log *logrus.Entry) *Index {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Index{log: log, byName: map[string][]*Symbol{}, byPath: map[string][]LineRow{}}
}

// IndexUnit walks unit's DIE tree for DW_TAG_subprogram entries and its
// line-number program, adding both to the index. Safe to call repeatedly
// as new objects (shared libraries) are loaded.
func (x *Index) IndexUnit(u *dwarf.Unit) error {
	if err := x.indexFunctions(u); err != nil {
		return err
	}
	return x.indexLines(u)
}

func (x *Index) indexFunctions(u *dwarf.Unit) error {
	r, err := u.Reader()
	if err != nil {
		return err
	}
	// consume the compile-unit DIE itself
	if _, err := r.Next(); err != nil {
		return errkind.Wrap(errkind.DwarfMalformed, "reading unit root", err)
	}

	var found []*Symbol
	depth := 0
	for {
		entry, err := r.Next()
		if err != nil {
			return errkind.Wrap(errkind.DwarfMalformed, "walking unit for subprograms", err)
		}
		if entry == nil {
			break
		}
		if entry.Tag == 0 {
			depth--
			if depth < 0 {
				break
			}
			continue
		}
		if entry.Tag == stddwarf.TagSubprogram {
			name, _ := entry.Val(stddwarf.AttrName).(string)
			low, lok := entry.Val(stddwarf.AttrLowpc).(uint64)
			if name != "" && lok {
				high := low
				if v := entry.Val(stddwarf.AttrHighpc); v != nil {
					switch h := v.(type) {
					case uint64:
						high = h
						if h < low {
							high = low + h
						}
					case int64:
						high = low + uint64(h)
					}
				}
				found = append(found, &Symbol{
					Name:   name,
					Object: u.Object,
					Unit:   u,
					DIE:    entry.Offset,
					LowPC:  u.Object.Relocate(low),
					HighPC: u.Object.Relocate(high),
				})
			}
		}
		if entry.Children {
			depth++
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.functions = append(x.functions, found...)
	sort.Slice(x.functions, func(i, j int) bool { return x.functions[i].LowPC < x.functions[j].LowPC })
	for _, s := range found {
		x.byName[s.Name] = append(x.byName[s.Name], s)
	}
	return nil
}

func (x *Index) indexLines(u *dwarf.Unit) error {
	root := rootEntry(u)
	if root == nil {
		return nil
	}
	lr, err := u.Object.DWARF.LineReader(root)
	if err != nil || lr == nil {
		return nil // unit has no line program (e.g. assembly-only CU)
	}

	var rows []LineRow
	var le stddwarf.LineEntry
	for {
		if err := lr.Next(&le); err != nil {
			break
		}
		rows = append(rows, LineRow{
			File:    fileName(le.File),
			Line:    le.Line,
			Column:  le.Column,
			Address: u.Object.Relocate(le.Address),
			IsStmt:  le.IsStmt,
			EndSeq:  le.EndSequence,
		})
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, row := range rows {
		x.byPath[row.File] = append(x.byPath[row.File], row)
		x.allRows = append(x.allRows, row)
	}
	for path := range x.byPath {
		sort.Slice(x.byPath[path], func(i, j int) bool { return x.byPath[path][i].Address < x.byPath[path][j].Address })
	}
	sort.Slice(x.allRows, func(i, j int) bool { return x.allRows[i].Address < x.allRows[j].Address })
	return nil
}

func fileName(f *stddwarf.LineFile) string {
	if f == nil {
		return ""
	}
	return f.Name
}

// rootEntry re-reads unit's root DIE; LineReader needs it to resolve
// DW_AT_stmt_list.
func rootEntry(u *dwarf.Unit) *stddwarf.Entry {
	r, err := u.Reader()
	if err != nil {
		return nil
	}
	e, err := r.Next()
	if err != nil {
		return nil
	}
	return e
}

// AddSymbol inserts a symbol built outside of a DWARF walk, such as a
// synthetic function a test registers as a breakpoint target.
func (x *Index) AddSymbol(s *Symbol) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.functions = append(x.functions, s)
	sort.Slice(x.functions, func(i, j int) bool { return x.functions[i].LowPC < x.functions[j].LowPC })
	x.byName[s.Name] = append(x.byName[s.Name], s)
}

// FunctionsByName returns every symbol with exactly this name.
func (x *Index) FunctionsByName(name string) []*Symbol {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]*Symbol(nil), x.byName[name]...)
}

// FunctionsMatching returns every symbol whose name matches re, for the
// symbol-listing command's name-regex support.
func (x *Index) FunctionsMatching(re *regexp.Regexp) []*Symbol {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []*Symbol
	for _, s := range x.functions {
		if re.MatchString(s.Name) {
			out = append(out, s)
		}
	}
	return out
}

// FunctionAt returns the symbol whose range contains the relocated
// address, or an error if none does.
func (x *Index) FunctionAt(addr uint64) (*Symbol, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	i := sort.Search(len(x.functions), func(i int) bool { return x.functions[i].LowPC > addr })
	if i > 0 {
		s := x.functions[i-1]
		if s.LowPC <= addr && addr < s.HighPC {
			return s, nil
		}
	}
	return nil, errkind.New(errkind.DwarfMissing, fmt.Sprintf("no function contains address %#x", addr))
}

// AddressesForLine resolves (path, line) to every breakpoint-valid
// (is_stmt) instruction address: a line may resolve to multiple
// addresses if inlined, and each one receives a breakpoint.
func (x *Index) AddressesForLine(path string, line int) ([]uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rows, ok := x.byPath[path]
	if !ok {
		return nil, errkind.New(errkind.PlaceUnresolved, fmt.Sprintf("no line table for %s", path))
	}
	var out []uint64
	for _, r := range rows {
		if r.Line == line && r.IsStmt && !r.EndSeq {
			out = append(out, r.Address)
		}
	}
	if len(out) == 0 {
		return nil, errkind.New(errkind.PlaceUnresolved, fmt.Sprintf("%s:%d has no statement boundary", path, line))
	}
	return out, nil
}

// LineForAddress resolves a relocated address to the nearest preceding
// line-table row, for stack-frame and disassembly rendering
// ("address -> source:line:column").
func (x *Index) LineForAddress(addr uint64) (LineRow, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	i := sort.Search(len(x.allRows), func(i int) bool { return x.allRows[i].Address > addr })
	if i == 0 {
		return LineRow{}, errkind.New(errkind.DwarfMissing, fmt.Sprintf("no line entry covers address %#x", addr))
	}
	row := x.allRows[i-1]
	if row.EndSeq {
		return LineRow{}, errkind.New(errkind.DwarfMissing, fmt.Sprintf("address %#x is past the end of its sequence", addr))
	}
	return row, nil
}

// NextLineRowsInFunction returns the is_stmt rows belonging to fn in
// address order, used by the tracer's step-over successor-set
// computation: StepOver sets one-shot internal breakpoints at every
// instruction in the current source line's successor set.
func (x *Index) NextLineRowsInFunction(fn *Symbol) []LineRow {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []LineRow
	for _, r := range x.allRows {
		if r.Address >= fn.LowPC && r.Address < fn.HighPC && r.IsStmt && !r.EndSeq {
			out = append(out, r)
		}
	}
	return out
}
