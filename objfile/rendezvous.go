// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objfile

import (
	"encoding/binary"
	"fmt"
)

// MemReader is the narrow interface objfile needs from the tracer to walk
// the dynamic linker's link_map chain: a relocated-address memory reader.
// Implemented by tracer.Tracer and by internal/trace.Runner via a small
// adapter; kept minimal here to avoid a dependency cycle with tracer.
type MemReader interface {
	ReadMemory(addr uint64, buf []byte) error
}

// rDebug mirrors struct r_debug from <link.h>: r_version, *r_map (the head
// of the link_map chain), r_brk (breakpoint address the linker calls after
// each load/unload, used to re-arm pending breakpoints per ), r_state,
// r_ldbase.
type rDebug struct {
	Version uint32
	_       uint32 // padding to align the following pointer on amd64
	Map     uint64
	Brk     uint64
	State   uint32
	_       uint32
	LdBase  uint64
}

// linkMap mirrors struct link_map: l_addr (load bias), l_name (pointer to
// path string), l_ld, l_next, l_prev.
type linkMap struct {
	Addr uint64
	Name uint64
	Ld   uint64
	Next uint64
	Prev uint64
}

// DynamicDebugAddress returns the runtime address of _r_debug / _DYNAMIC's
// DT_DEBUG entry in obj, which the dynamic linker populates once libraries
// are loaded. The caller (Tracer.refreshCatalog, run after a stop
// classified as exec or new-thread) reads *rDebug from there to walk the
// link_map chain.
func (o *Object) DynamicDebugAddress() (uint64, bool) {
	dyn := o.ELF.Section(".dynamic")
	if dyn == nil {
		return 0, false
	}
	data, err := dyn.Data()
	if err != nil {
		return 0, false
	}
	const dtDebug = 21
	for off := 0; off+16 <= len(data); off += 16 {
		tag := binary.LittleEndian.Uint64(data[off:])
		val := binary.LittleEndian.Uint64(data[off+8:])
		if int64(tag) == dtDebug {
			return o.Relocate(val), true
		}
	}
	return 0, false
}

// WalkLinkMap reads the link_map chain starting at r_debug's r_map field
// (relocated address rDebugAddr) using mem, and calls visit(path, bias)
// for each entry except the main executable (l_name == "" or matching
// mainPath).
func WalkLinkMap(mem MemReader, rDebugAddr uint64, ptrSize int, mainPath string, visit func(path string, bias uint64) error) error {
	buf := make([]byte, 8+8+8+4+4+8)
	if err := mem.ReadMemory(rDebugAddr, buf[:32]); err != nil {
		return fmt.Errorf("reading r_debug: %w", err)
	}
	mapAddr := binary.LittleEndian.Uint64(buf[8:16])
	seen := map[uint64]bool{}
	for mapAddr != 0 && !seen[mapAddr] {
		seen[mapAddr] = true
		var lm [40]byte
		if err := mem.ReadMemory(mapAddr, lm[:]); err != nil {
			return fmt.Errorf("reading link_map at %#x: %w", mapAddr, err)
		}
		bias := binary.LittleEndian.Uint64(lm[0:8])
		nameAddr := binary.LittleEndian.Uint64(lm[8:16])
		next := binary.LittleEndian.Uint64(lm[24:32])

		name, err := readCString(mem, nameAddr, 4096)
		if err == nil && name != "" && name != mainPath {
			if err := visit(name, bias); err != nil {
				return err
			}
		}
		mapAddr = next
	}
	return nil
}

func readCString(mem MemReader, addr uint64, max int) (string, error) {
	if addr == 0 {
		return "", nil
	}
	var out []byte
	buf := make([]byte, 64)
	for len(out) < max {
		if err := mem.ReadMemory(addr+uint64(len(out)), buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b == 0 {
				return string(out), nil
			}
			out = append(out, b)
		}
	}
	return string(out), nil
}
