// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	stddwarf "debug/dwarf"
	"fmt"

	"github.com/tracebreak/tracebreak/errkind"
	"github.com/tracebreak/tracebreak/objfile"
)

// LocalVariable is one name a stopped frame's scope can resolve: a formal
// parameter or a local, each with the unevaluated DW_AT_location
// expression a caller runs against that frame's registers and CFA.
type LocalVariable struct {
	Name     string
	Type     TypeId
	Location []byte // raw DW_AT_location operand stream
	IsParam  bool
}

// FunctionLocals walks a subprogram DIE's formal parameters and local
// variables, including ones nested in lexical blocks, and returns them
// flattened. It does not filter by a lexical block's PC range against the
// current program counter — every local the function ever declares is
// visible everywhere in it, a documented simplification real source-level
// debuggers normally refine with DW_AT_low_pc/DW_AT_high_pc scoping.
func (l *Loader) FunctionLocals(obj *objfile.Object, unitOffset, dieOffset stddwarf.Offset) ([]LocalVariable, error) {
	r := obj.DWARF.Reader()
	r.Seek(dieOffset)
	entry, err := r.Next()
	if err != nil {
		return nil, errkind.Wrap(errkind.DwarfMalformed, "parsing subprogram DIE", err)
	}
	if entry == nil || entry.Offset != dieOffset {
		return nil, errkind.New(errkind.DwarfMissing, fmt.Sprintf("no DIE at offset %#x", dieOffset))
	}

	var out []LocalVariable
	depth := 0
	for {
		child, err := r.Next()
		if err != nil {
			return nil, errkind.Wrap(errkind.DwarfMalformed, "walking subprogram locals", err)
		}
		if child == nil || child.Tag == 0 {
			if depth == 0 {
				break
			}
			depth--
			continue
		}
		switch child.Tag {
		case stddwarf.TagFormalParameter, stddwarf.TagVariable:
			name, _ := child.Val(stddwarf.AttrName).(string)
			typeOff, hasType := child.Val(stddwarf.AttrType).(stddwarf.Offset)
			loc, _ := child.Val(stddwarf.AttrLocation).([]byte)
			if name != "" && hasType && loc != nil {
				out = append(out, LocalVariable{
					Name:     l.intern(name),
					Type:     TypeId{Object: obj, UnitOffset: unitOffset, DIEOffset: typeOff},
					Location: loc,
					IsParam:  child.Tag == stddwarf.TagFormalParameter,
				})
			}
			if child.Children {
				r.SkipChildren()
			}
		case stddwarf.TagLexDwarfBlock, stddwarf.TagInlinedSubroutine:
			// descend: both can carry their own formal parameters/variables,
			// and Next() already walks straight into children when present.
			if !child.Children {
				continue
			}
			depth++
		default:
			if child.Children {
				r.SkipChildren()
			}
		}
	}
	return out, nil
}

// FrameBase reads the subprogram DIE's own DW_AT_frame_base expression, for
// evaluating its children's DW_OP_fbreg locations.
func (l *Loader) FrameBase(obj *objfile.Object, dieOffset stddwarf.Offset) ([]byte, error) {
	r := obj.DWARF.Reader()
	r.Seek(dieOffset)
	entry, err := r.Next()
	if err != nil {
		return nil, errkind.Wrap(errkind.DwarfMalformed, "parsing subprogram DIE", err)
	}
	if entry == nil || entry.Offset != dieOffset {
		return nil, errkind.New(errkind.DwarfMissing, fmt.Sprintf("no DIE at offset %#x", dieOffset))
	}
	loc, ok := entry.Val(stddwarf.AttrFrameBase).([]byte)
	if !ok {
		return nil, errkind.New(errkind.DwarfMissing, "subprogram has no DW_AT_frame_base")
	}
	return loc, nil
}
