// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arch

import "golang.org/x/arch/x86/x86asm"

// Instruction is one disassembled instruction, as shown by the facade's
// "source" command in disassembly mode.
type Instruction struct {
	PC     uint64
	Length int
	Text   string
	Bytes  []byte
}

// Disassemble decodes instructions from code, which starts at address pc,
// until it runs out of bytes or hits a decoding error. It never panics on
// malformed input: a decode failure stops the run and returns what was
// decoded so far, since callers operate on live, possibly-patched memory
// (breakpoint bytes should already be undone by the caller; see
// breakpoint.Manager.TransparentRead).
func Disassemble(code []byte, pc uint64) []Instruction {
	var out []Instruction
	for len(code) > 0 {
		inst, err := x86asm.Decode(code, 64)
		if err != nil || inst.Len == 0 {
			break
		}
		out = append(out, Instruction{
			PC:     pc,
			Length: inst.Len,
			Text:   x86asm.GNUSyntax(inst, pc, nil),
			Bytes:  append([]byte(nil), code[:inst.Len]...),
		})
		code = code[inst.Len:]
		pc += uint64(inst.Len)
	}
	return out
}
