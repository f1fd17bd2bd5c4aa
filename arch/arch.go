// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch contains the x86-64 architecture-specific details: register
// layout, the breakpoint instruction, DWARF register numbering, and the
// integer-argument calling convention used by call injection.
//
// The core targets Linux/x86-64 only (cross-arch debugging is out of
// support); this package still keeps a thin Architecture value, in the
// teacher's style (golang.org/x/debug/ogle/arch), so the rest of the tree
// names sizes and byte order through one place instead of scattering
// literal 8s.
package arch

import (
	"encoding/binary"

	"golang.org/x/arch/x86/x86asm"
	"golang.org/x/sys/unix"
)

// MaxBreakpointSize bounds the BreakpointInstr array; x86-64 INT3 needs one
// byte, kept as an array (not a slice) so Architecture stays comparable.
const MaxBreakpointSize = 1

// Architecture describes the target machine.
type Architecture struct {
	IntSize         int
	PointerSize     int
	ByteOrder       binary.ByteOrder
	BreakpointInstr [MaxBreakpointSize]byte
}

// AMD64 is the only supported Architecture value.
var AMD64 = Architecture{
	IntSize:         8,
	PointerSize:     8,
	ByteOrder:       binary.LittleEndian,
	BreakpointInstr: [MaxBreakpointSize]byte{0xCC}, // INT 3
}

func (a *Architecture) Uint64(buf []byte) uint64 { return a.ByteOrder.Uint64(buf) }
func (a *Architecture) Int64(buf []byte) int64    { return int64(a.Uint64(buf)) }
func (a *Architecture) Uint32(buf []byte) uint32  { return a.ByteOrder.Uint32(buf) }
func (a *Architecture) Int32(buf []byte) int32    { return int32(a.Uint32(buf)) }
func (a *Architecture) Uint16(buf []byte) uint16  { return a.ByteOrder.Uint16(buf) }
func (a *Architecture) Int16(buf []byte) int16    { return int16(a.Uint16(buf)) }

func (a *Architecture) Uintptr(buf []byte) uint64 {
	if len(buf) != a.PointerSize {
		panic("bad PointerSize")
	}
	return a.Uint64(buf)
}

// DWARF register numbers for the registers the unwinder and the evaluator
// care about, matching the System V x86-64 ABI DWARF register mapping
// (grounded on delve's amd64DwarfIPRegNum/SPRegNum/BPRegNum constants).
const (
	DwarfRAX = 0
	DwarfRDX = 1
	DwarfRCX = 2
	DwarfRBX = 3
	DwarfRSI = 4
	DwarfRDI = 5
	DwarfRBP = 6
	DwarfRSP = 7
	DwarfR8  = 8
	DwarfR9  = 9
	DwarfR10 = 10
	DwarfR11 = 11
	DwarfR12 = 12
	DwarfR13 = 13
	DwarfR14 = 14
	DwarfR15 = 15
	DwarfRIP = 16
)

// DwarfToHardware maps a DWARF register number to the x86asm register it
// names; dwarf/locexpr.go's hardwareRegisterName uses it to name the
// register a DW_OP_regN/DW_OP_regx location designates. Grounded on
// delve's amd64DwarfToHardware table.
var DwarfToHardware = map[int]x86asm.Reg{
	DwarfRAX: x86asm.RAX,
	DwarfRDX: x86asm.RDX,
	DwarfRCX: x86asm.RCX,
	DwarfRBX: x86asm.RBX,
	DwarfRSI: x86asm.RSI,
	DwarfRDI: x86asm.RDI,
	DwarfRBP: x86asm.RBP,
	DwarfRSP: x86asm.RSP,
	DwarfR8:  x86asm.R8,
	DwarfR9:  x86asm.R9,
	DwarfR10: x86asm.R10,
	DwarfR11: x86asm.R11,
	DwarfR12: x86asm.R12,
	DwarfR13: x86asm.R13,
	DwarfR14: x86asm.R14,
	DwarfR15: x86asm.R15,
	DwarfRIP: x86asm.RIP,
}

// RegValue reads the DWARF-numbered register out of a raw ptrace register
// set snapshot.
func RegValue(regs *unix.PtraceRegs, dwarfNum int) (uint64, bool) {
	switch dwarfNum {
	case DwarfRAX:
		return regs.Rax, true
	case DwarfRDX:
		return regs.Rdx, true
	case DwarfRCX:
		return regs.Rcx, true
	case DwarfRBX:
		return regs.Rbx, true
	case DwarfRSI:
		return regs.Rsi, true
	case DwarfRDI:
		return regs.Rdi, true
	case DwarfRBP:
		return regs.Rbp, true
	case DwarfRSP:
		return regs.Rsp, true
	case DwarfR8:
		return regs.R8, true
	case DwarfR9:
		return regs.R9, true
	case DwarfR10:
		return regs.R10, true
	case DwarfR11:
		return regs.R11, true
	case DwarfR12:
		return regs.R12, true
	case DwarfR13:
		return regs.R13, true
	case DwarfR14:
		return regs.R14, true
	case DwarfR15:
		return regs.R15, true
	case DwarfRIP:
		return regs.Rip, true
	}
	return 0, false
}

// IntArgRegisters is the System V AMD64 ABI's integer/pointer argument
// register order, used by call injection to marshal the first six
// arguments; further arguments spill to the stack.
var IntArgRegisters = []int{DwarfRDI, DwarfRSI, DwarfRDX, DwarfRCX, DwarfR8, DwarfR9}

// SetIntArg writes v into the index-th integer argument register (0-based)
// of regs, per IntArgRegisters, or reports ok=false past the sixth.
func SetIntArg(regs *unix.PtraceRegs, index int, v uint64) (ok bool) {
	if index < 0 || index >= len(IntArgRegisters) {
		return false
	}
	switch IntArgRegisters[index] {
	case DwarfRDI:
		regs.Rdi = v
	case DwarfRSI:
		regs.Rsi = v
	case DwarfRDX:
		regs.Rdx = v
	case DwarfRCX:
		regs.Rcx = v
	case DwarfR8:
		regs.R8 = v
	case DwarfR9:
		regs.R9 = v
	}
	return true
}

// ReturnValue reads the integer/pointer return register (RAX) from regs.
func ReturnValue(regs *unix.PtraceRegs) uint64 { return regs.Rax }
