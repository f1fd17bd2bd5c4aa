// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"fmt"

	"github.com/tracebreak/tracebreak/arch"
	"github.com/tracebreak/tracebreak/errkind"
	"github.com/tracebreak/tracebreak/unwind"
)

// Location is the outcome of evaluating a DWARF location expression: either
// a memory address (the common case, for anything not held purely in a
// register) or a register number for a value that lives nowhere else.
type Location struct {
	Addr     uint64
	InReg    bool
	RegNum   int // DWARF register number, valid when InReg
}

// opcodes this evaluator understands — the subset unoptimized GCC/Clang
// output actually emits, following the pattern (not the code) of
// JetSetIlly-Gopher2600's per-opcode loclist decoder.
const (
	opAddr          = 0x03
	opDeref         = 0x06
	opConst1u       = 0x08
	opConst1s       = 0x09
	opConst2u       = 0x0a
	opConst2s       = 0x0b
	opConst4u       = 0x0c
	opConst4s       = 0x0d
	opConst8u       = 0x0e
	opConst8s       = 0x0f
	opConstu        = 0x10
	opConsts        = 0x11
	opPlus          = 0x22
	opPlusUconst    = 0x23
	opReg0          = 0x50 // opReg0..opReg31 = 0x50..0x6f
	opReg31         = 0x6f
	opBreg0         = 0x70 // opBreg0..opBreg31 = 0x70..0x8f
	opBreg31        = 0x8f
	opRegx          = 0x90
	opFbreg         = 0x91
	opBregx         = 0x92
	opCallFrameCFA  = 0x9c
	opStackValue    = 0x9f
)

// EvaluateFrameBase runs a subprogram's DW_AT_frame_base expression to find
// the frame-relative reference point that DW_OP_fbreg operands in its
// children's locations are offset from. Per the common ABI, this is either
// a fixed offset from a register (DW_OP_bregN) or the canonical frame
// address (DW_OP_call_frame_cfa); either decodes to a plain address.
func EvaluateFrameBase(expr []byte, cfa uint64, regs unwind.Registers) (uint64, error) {
	loc, err := evaluate(expr, cfa, regs, nil)
	if err != nil {
		return 0, err
	}
	if loc.InReg {
		return 0, errkind.New(errkind.ExpressionError, "frame base expression yielded a register, not an address")
	}
	return loc.Addr, nil
}

// EvaluateLocation runs a variable's DW_AT_location expression (a local
// variable's or formal parameter's), given the function's already-evaluated
// frame base (needed for DW_OP_fbreg) and the frame's registers and CFA.
func EvaluateLocation(expr []byte, cfa uint64, regs unwind.Registers, frameBase *uint64) (Location, error) {
	return evaluate(expr, cfa, regs, frameBase)
}

func evaluate(expr []byte, cfa uint64, regs unwind.Registers, frameBase *uint64) (Location, error) {
	var stack []int64
	push := func(v int64) { stack = append(stack, v) }
	pop := func() (int64, error) {
		if len(stack) == 0 {
			return 0, errkind.New(errkind.ExpressionError, "location expression stack underflow")
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}

	var result Location
	i := 0
	for i < len(expr) {
		op := expr[i]
		i++
		switch {
		case op == opAddr:
			v, n, err := readUint(expr[i:], 8)
			if err != nil {
				return Location{}, err
			}
			i += n
			push(int64(v))

		case op == opConst1u:
			push(int64(expr[i]))
			i++
		case op == opConst1s:
			push(int64(int8(expr[i])))
			i++
		case op == opConst2u:
			v, n, err := readUint(expr[i:], 2)
			if err != nil {
				return Location{}, err
			}
			i += n
			push(int64(v))
		case op == opConst2s:
			v, n, err := readUint(expr[i:], 2)
			if err != nil {
				return Location{}, err
			}
			i += n
			push(int64(int16(v)))
		case op == opConst4u:
			v, n, err := readUint(expr[i:], 4)
			if err != nil {
				return Location{}, err
			}
			i += n
			push(int64(v))
		case op == opConst4s:
			v, n, err := readUint(expr[i:], 4)
			if err != nil {
				return Location{}, err
			}
			i += n
			push(int64(int32(v)))
		case op == opConst8u || op == opConst8s:
			v, n, err := readUint(expr[i:], 8)
			if err != nil {
				return Location{}, err
			}
			i += n
			push(int64(v))

		case op == opConstu:
			v, n := uleb128(expr[i:])
			i += n
			push(int64(v))
		case op == opConsts:
			v, n := sleb128(expr[i:])
			i += n
			push(v)

		case op == opFbreg:
			if frameBase == nil {
				return Location{}, errkind.New(errkind.ExpressionError, "DW_OP_fbreg with no frame base")
			}
			off, n := sleb128(expr[i:])
			i += n
			result = Location{Addr: uint64(int64(*frameBase) + off)}

		case op >= opBreg0 && op <= opBreg31:
			dwarfNum := int(op - opBreg0)
			off, n := sleb128(expr[i:])
			i += n
			base, ok := regs.Get(dwarfNum)
			if !ok {
				return Location{}, errkind.New(errkind.ExpressionError, fmt.Sprintf("DW_OP_breg%d: register not available", dwarfNum))
			}
			result = Location{Addr: uint64(int64(base) + off)}

		case op == opBregx:
			dwarfNum, n := uleb128(expr[i:])
			i += n
			off, n2 := sleb128(expr[i:])
			i += n2
			base, ok := regs.Get(int(dwarfNum))
			if !ok {
				return Location{}, errkind.New(errkind.ExpressionError, "DW_OP_bregx: register not available")
			}
			result = Location{Addr: uint64(int64(base) + off)}

		case op >= opReg0 && op <= opReg31:
			result = Location{InReg: true, RegNum: int(op - opReg0)}
		case op == opRegx:
			dwarfNum, n := uleb128(expr[i:])
			i += n
			result = Location{InReg: true, RegNum: int(dwarfNum)}

		case op == opCallFrameCFA:
			result = Location{Addr: cfa}

		case op == opPlus:
			b, err := pop()
			if err != nil {
				return Location{}, err
			}
			a, err := pop()
			if err != nil {
				return Location{}, err
			}
			push(a + b)
		case op == opPlusUconst:
			v, n := uleb128(expr[i:])
			i += n
			a, err := pop()
			if err != nil {
				return Location{}, err
			}
			push(a + int64(v))

		case op == opDeref:
			// Dereferencing needs live memory, which this evaluator doesn't
			// have access to; the only recipes component G's recipes need
			// (fbreg/breg/regx/call_frame_cfa, plus arithmetic atop them)
			// never emit this. Treated as unsupported rather than silently
			// wrong.
			return Location{}, errkind.New(errkind.ExpressionError, "DW_OP_deref unsupported")

		case op == opStackValue:
			v, err := pop()
			if err != nil {
				return Location{}, err
			}
			result = Location{Addr: uint64(v)}

		default:
			return Location{}, errkind.New(errkind.ExpressionError, fmt.Sprintf("unsupported location opcode %#x", op))
		}
	}

	// An expression that only pushed arithmetic onto the stack (no
	// breg/fbreg/addr/cfa op set result directly) yields the top of stack
	// as a plain address, matching how DW_OP_addr followed by nothing else
	// behaves.
	if result == (Location{}) && len(stack) > 0 {
		result = Location{Addr: uint64(stack[len(stack)-1])}
	}
	return result, nil
}

func readUint(b []byte, n int) (uint64, int, error) {
	if len(b) < n {
		return 0, 0, errkind.New(errkind.DwarfMalformed, "location expression truncated")
	}
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v, n, nil
}

// uleb128/sleb128 decode DWARF's variable-length integer encodings, used
// throughout location expressions for operands.
func uleb128(b []byte) (uint64, int) {
	var result uint64
	var shift uint
	var i int
	for i < len(b) {
		byt := b[i]
		i++
		result |= uint64(byt&0x7f) << shift
		if byt&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, i
}

func sleb128(b []byte) (int64, int) {
	var result int64
	var shift uint
	var i int
	var byt byte
	for i < len(b) {
		byt = b[i]
		i++
		result |= int64(byt&0x7f) << shift
		shift += 7
		if byt&0x80 == 0 {
			break
		}
	}
	if shift < 64 && byt&0x40 != 0 {
		result |= -1 << shift
	}
	return result, i
}

// hardwareRegisterName maps a DWARF register number recovered from a
// DW_OP_regN/DW_OP_regx location to the name the register-access commands
// use, for reporting a register-resident variable's home.
func hardwareRegisterName(dwarfNum int) (string, bool) {
	reg, ok := arch.DwarfToHardware[dwarfNum]
	if !ok {
		return "", false
	}
	return reg.String(), true
}
