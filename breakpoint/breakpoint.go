// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package breakpoint is the breakpoint/watchpoint manager (component
// 4.E): software breakpoint install/remove via 0xCC patching, hardware
// watchpoints on the four x86-64 debug registers, and place resolution
// (function name, source:line, or bare address) with pending-breakpoint
// revival when a shared object loads.
//
// Grounded on the teacher's breakpoint handling in
// ogle/program/server/server.go (byte-patch install/restore) generalized
// to a multi-object, multi-thread catalog, and on delve's watchpoint
// debug-register encoding (other_examples delve proc trees) for the
// hardware side.
package breakpoint

import (
	"fmt"
	"sync"

	"github.com/tracebreak/tracebreak/arch"
	"github.com/tracebreak/tracebreak/errkind"
	"github.com/tracebreak/tracebreak/symtab"
)

// Kind distinguishes how a Breakpoint's Place should be reported and
// whether it is user-visible: line, function-entry, address, entry,
// one-shot-internal, or hardware-watch.
type Kind int

const (
	KindLine Kind = iota
	KindFunctionEntry
	KindAddress
	KindEntry
	KindOneShotInternal
	KindHardwareWatch
)

// WatchAccess is the access kind a hardware watchpoint traps on.
type WatchAccess int

const (
	WatchWrite WatchAccess = iota
	WatchReadWrite
)

// Place is an unresolved breakpoint location.
type Place struct {
	Kind       Kind
	SourcePath string
	SourceLine int
	FunctionRe string // function-name place: literal name or regex for listing
	Address    uint64
	HasAddress bool
}

// Breakpoint is one installed (or pending) software breakpoint. Several
// addresses can share one user-visible id when a place resolves to
// multiple addresses (e.g. an inlined line).
type Breakpoint struct {
	ID    int
	Place Place
	Kind  Kind

	mu        sync.Mutex
	installed map[uint64]byte // address -> original byte, for every resolved address
	pending   bool            // true if Place could not yet be resolved (shared library not loaded)
}

// Installed reports whether bp currently has at least one patched address.
func (bp *Breakpoint) Installed() bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.installed) > 0
}

// Addresses returns the currently patched addresses for bp.
func (bp *Breakpoint) Addresses() []uint64 {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	out := make([]uint64, 0, len(bp.installed))
	for a := range bp.installed {
		out = append(out, a)
	}
	return out
}

// Memory is the narrow ptrace-backed interface the manager needs.
type Memory interface {
	ReadMemory(addr uint64, buf []byte) error
	WriteMemory(addr uint64, buf []byte) error
}

// DebugRegisters is the narrow interface for the x86-64 hardware
// watchpoint slots (DR0-DR3 addresses, DR6 status, DR7 control).
type DebugRegisters interface {
	ReadDebugRegs(tid int) (addr [4]uint64, status, control uint64, err error)
	WriteDebugRegs(tid int, addr [4]uint64, status, control uint64) error
}

// Watchpoint is one hardware watchpoint, bound to one of the four debug
// register slots.
type Watchpoint struct {
	ID     int
	Addr   uint64
	Length int // 1, 2, 4, or 8 bytes
	Access WatchAccess
	Slot   int // DR0-DR3 index
}

// Manager owns every breakpoint/watchpoint for a debuggee.
type Manager struct {
	mem     Memory
	dregs   DebugRegisters
	symbols *symtab.Index

	mu          sync.Mutex
	nextID      int
	breakpoints map[int]*Breakpoint
	watchpoints map[int]*Watchpoint
	watchSlots  [4]*Watchpoint // nil if free
}

func NewManager(mem Memory, dregs DebugRegisters, symbols *symtab.Index) *Manager {
	return &Manager{
		mem:         mem,
		dregs:       dregs,
		symbols:     symbols,
		breakpoints: map[int]*Breakpoint{},
		watchpoints: map[int]*Watchpoint{},
	}
}

// resolve turns a Place into zero or more addresses.
func (m *Manager) resolve(p Place) ([]uint64, error) {
	switch p.Kind {
	case KindAddress, KindEntry, KindOneShotInternal:
		if !p.HasAddress {
			return nil, errkind.New(errkind.PlaceUnresolved, "address place has no address")
		}
		return []uint64{p.Address}, nil
	case KindFunctionEntry:
		syms := m.symbols.FunctionsByName(p.FunctionRe)
		if len(syms) == 0 {
			return nil, errkind.New(errkind.PlaceUnresolved, fmt.Sprintf("no function named %q", p.FunctionRe))
		}
		out := make([]uint64, len(syms))
		for i, s := range syms {
			out[i] = s.LowPC
		}
		return out, nil
	case KindLine:
		return m.symbols.AddressesForLine(p.SourcePath, p.SourceLine)
	default:
		return nil, errkind.New(errkind.Internal, "unresolvable place kind")
	}
}

// AddBreakpoint resolves place and installs a software breakpoint at
// every resulting address. If place cannot yet be resolved (e.g. its
// shared library is not loaded), the breakpoint is recorded pending and
// installed later by ReviveOnLoad.
func (m *Manager) AddBreakpoint(place Place) (*Breakpoint, error) {
	m.mu.Lock()
	m.nextID++
	bp := &Breakpoint{ID: m.nextID, Place: place, Kind: place.Kind, installed: map[uint64]byte{}}
	m.breakpoints[bp.ID] = bp
	m.mu.Unlock()

	addrs, err := m.resolve(place)
	if err != nil {
		if k, _ := errkind.Of(err); k == errkind.PlaceUnresolved {
			bp.mu.Lock()
			bp.pending = true
			bp.mu.Unlock()
			return bp, nil
		}
		return nil, err
	}
	for _, a := range addrs {
		if err := m.install(bp, a); err != nil {
			return nil, err
		}
	}
	return bp, nil
}

func (m *Manager) install(bp *Breakpoint, addr uint64) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if _, ok := bp.installed[addr]; ok {
		return nil
	}
	var orig [1]byte
	if err := m.mem.ReadMemory(addr, orig[:]); err != nil {
		return errkind.Wrap(errkind.BadAddress, fmt.Sprintf("reading original byte at %#x", addr), err)
	}
	if err := m.mem.WriteMemory(addr, arch.AMD64.BreakpointInstr[:]); err != nil {
		return errkind.Wrap(errkind.BadAddress, fmt.Sprintf("patching trap at %#x", addr), err)
	}
	bp.installed[addr] = orig[0]
	bp.pending = false
	return nil
}

// RemoveBreakpoint restores every patched byte of bp and forgets it.
// Uninstallation is atomic per address.
func (m *Manager) RemoveBreakpoint(id int) error {
	m.mu.Lock()
	bp, ok := m.breakpoints[id]
	delete(m.breakpoints, id)
	m.mu.Unlock()
	if !ok {
		return errkind.New(errkind.Internal, fmt.Sprintf("no breakpoint %d", id))
	}
	return m.uninstall(bp)
}

func (m *Manager) uninstall(bp *Breakpoint) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for addr, orig := range bp.installed {
		if err := m.mem.WriteMemory(addr, []byte{orig}); err != nil {
			return errkind.Wrap(errkind.BadAddress, fmt.Sprintf("restoring byte at %#x", addr), err)
		}
		delete(bp.installed, addr)
	}
	return nil
}

// BreakpointAt returns the breakpoint installed at addr, if any — used
// for hit attribution: "the manager looks up by (program counter − 1)"
// , so callers pass pc-1.
func (m *Manager) BreakpointAt(addr uint64) (*Breakpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bp := range m.breakpoints {
		bp.mu.Lock()
		_, ok := bp.installed[addr]
		bp.mu.Unlock()
		if ok {
			return bp, true
		}
	}
	return nil, false
}

// OriginalByte returns the byte that lived at addr before it was patched
// with a trap instruction, if addr is currently patched by any breakpoint.
// Callers that read the tracee's instruction stream (memory-read, source
// disassembly) use this to present memory as if no breakpoint were
// installed there.
func (m *Manager) OriginalByte(addr uint64) (byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bp := range m.breakpoints {
		bp.mu.Lock()
		b, ok := bp.installed[addr]
		bp.mu.Unlock()
		if ok {
			return b, true
		}
	}
	return 0, false
}

// TransparentRead reads len(buf) bytes from addr via mem, then patches
// over any byte currently covered by an installed trap so the result
// matches what the tracee's own instruction stream would read.
func (m *Manager) TransparentRead(mem Memory, addr uint64, buf []byte) error {
	if err := mem.ReadMemory(addr, buf); err != nil {
		return err
	}
	for i := range buf {
		if orig, ok := m.OriginalByte(addr + uint64(i)); ok {
			buf[i] = orig
		}
	}
	return nil
}

// List returns every breakpoint, for the facade's "break list" command.
func (m *Manager) List() []*Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Breakpoint, 0, len(m.breakpoints))
	for _, bp := range m.breakpoints {
		out = append(out, bp)
	}
	return out
}

// Disarm and Rearm implement the "disarm, single-step, re-arm" dance of
// : the caller performs the actual single-step with the tracer;
// Disarm/Rearm bracket it so the tracee's memory is clean during the step
// ("ensures the user sees the instruction as if never patched").
func (bp *Breakpoint) Disarm(mem Memory, addr uint64) error {
	bp.mu.Lock()
	orig, ok := bp.installed[addr]
	bp.mu.Unlock()
	if !ok {
		return errkind.New(errkind.Internal, fmt.Sprintf("breakpoint has no installed byte at %#x", addr))
	}
	return mem.WriteMemory(addr, []byte{orig})
}

func (bp *Breakpoint) Rearm(mem Memory, addr uint64) error {
	return mem.WriteMemory(addr, arch.AMD64.BreakpointInstr[:])
}

// ReviveOnLoad re-resolves every pending breakpoint's place and installs
// any newly-resolvable addresses "re-resolved on every
// shared-object load event".
func (m *Manager) ReviveOnLoad() {
	m.mu.Lock()
	pending := make([]*Breakpoint, 0)
	for _, bp := range m.breakpoints {
		bp.mu.Lock()
		p := bp.pending
		bp.mu.Unlock()
		if p {
			pending = append(pending, bp)
		}
	}
	m.mu.Unlock()

	for _, bp := range pending {
		addrs, err := m.resolve(bp.Place)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			_ = m.install(bp, a)
		}
	}
}

// AddWatchpoint assigns one of the four hardware debug register slots to
// a new watchpoint.
func (m *Manager) AddWatchpoint(tid int, addr uint64, length int, access WatchAccess) (*Watchpoint, error) {
	if length != 1 && length != 2 && length != 4 && length != 8 {
		return nil, errkind.New(errkind.Internal, fmt.Sprintf("invalid watchpoint length %d", length))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	slot := -1
	for i, w := range m.watchSlots {
		if w == nil {
			slot = i
			break
		}
	}
	if slot == -1 {
		return nil, errkind.New(errkind.HardwareExhausted, "all 4 hardware watchpoint slots in use")
	}

	m.nextID++
	w := &Watchpoint{ID: m.nextID, Addr: addr, Length: length, Access: access, Slot: slot}
	if err := m.armSlot(tid, w); err != nil {
		return nil, err
	}
	m.watchSlots[slot] = w
	m.watchpoints[w.ID] = w
	return w, nil
}

func (m *Manager) armSlot(tid int, w *Watchpoint) error {
	dAddr, _, control, err := m.dregs.ReadDebugRegs(tid)
	if err != nil {
		return errkind.Wrap(errkind.Internal, "reading debug registers", err)
	}
	dAddr[w.Slot] = w.Addr
	control = encodeDR7(control, w.Slot, w.Length, w.Access)
	if err := m.dregs.WriteDebugRegs(tid, dAddr, 0, control); err != nil {
		return errkind.Wrap(errkind.Internal, "writing debug registers", err)
	}
	return nil
}

// RemoveWatchpoint clears w's debug register slot.
func (m *Manager) RemoveWatchpoint(tid int, id int) error {
	m.mu.Lock()
	w, ok := m.watchpoints[id]
	if ok {
		delete(m.watchpoints, id)
		m.watchSlots[w.Slot] = nil
	}
	m.mu.Unlock()
	if !ok {
		return errkind.New(errkind.Internal, fmt.Sprintf("no watchpoint %d", id))
	}
	dAddr, _, control, err := m.dregs.ReadDebugRegs(tid)
	if err != nil {
		return errkind.Wrap(errkind.Internal, "reading debug registers", err)
	}
	dAddr[w.Slot] = 0
	control = clearDR7(control, w.Slot)
	return m.dregs.WriteDebugRegs(tid, dAddr, 0, control)
}

// WatchpointsList returns every armed watchpoint.
func (m *Manager) WatchpointsList() []*Watchpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Watchpoint, 0, len(m.watchpoints))
	for _, w := range m.watchpoints {
		out = append(out, w)
	}
	return out
}

// WatchpointFired reports which armed watchpoint's bit is set in the DR6
// status register read at a stop: the status register identifies
// which watchpoint fired.
func (m *Manager) WatchpointFired(status uint64) (*Watchpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.watchSlots {
		if w != nil && status&(1<<uint(i)) != 0 {
			return w, true
		}
	}
	return nil, false
}

// encodeDR7 sets slot's local-enable bit and its length/access fields in
// the DR7 control register. Layout (Intel SDM vol 3B .2.4): bits
// 2*slot = local enable; bits 16+4*slot (2 bits) = R/W; bits 18+4*slot (2
// bits) = LEN.
func encodeDR7(control uint64, slot, length int, access WatchAccess) uint64 {
	control |= 1 << uint(2*slot) // local enable
	rw := uint64(0x1)            // write
	if access == WatchReadWrite {
		rw = 0x3
	}
	lenBits := map[int]uint64{1: 0x0, 2: 0x1, 8: 0x2, 4: 0x3}[length]
	shift := uint(16 + 4*slot)
	mask := uint64(0xf) << shift
	control &^= mask
	control |= (rw | lenBits<<2) << shift
	return control
}

func clearDR7(control uint64, slot int) uint64 {
	control &^= 1 << uint(2*slot)
	shift := uint(16 + 4*slot)
	control &^= uint64(0xf) << shift
	return control
}
