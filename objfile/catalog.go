// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package objfile maintains the catalog of loaded objects: the main
// executable plus every shared library discovered via
// the dynamic linker's rendezvous structure, each carrying its ELF section
// map and load bias for global-to-relocated address translation.
//
// Grounded on the teacher's loadExecutable (ogle/program/server/server.go),
// generalized from "the one object we were given" to a dynamic, growing
// set, the way delve's solib tracking works (referenced by the "shared
// library list" facade operation).
package objfile

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Object is one loaded ELF image: the main executable or a shared library.
type Object struct {
	Path     string
	LoadBias uint64 // relocated = global + LoadBias
	ELF      *elf.File
	DWARF    *dwarf.Data // nil if stripped

	textLow, textHigh uint64 // global address range of .text, for aranges fallback
}

// Relocate converts a global (file-relative) address to a relocated
// (runtime virtual) address.
func (o *Object) Relocate(global uint64) uint64 { return global + o.LoadBias }

// Unrelocate is Relocate's inverse.
func (o *Object) Unrelocate(relocated uint64) uint64 { return relocated - o.LoadBias }

// Contains reports whether relocated falls inside this object's .text.
func (o *Object) Contains(relocated uint64) bool {
	g := o.Unrelocate(relocated)
	return o.textLow <= g && g < o.textHigh
}

// Catalog is the set of loaded objects, kept in load order (main
// executable first); address lookups scan it linearly.
type Catalog struct {
	mu      sync.RWMutex
	objects []*Object
	log     *logrus.Entry
}

func NewCatalog(log *logrus.Entry) *Catalog {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Catalog{log: log}
}

// LoadMain parses the main executable from path at load bias 0 (the
// kernel loads a non-PIE executable unrelocated; a PIE main executable's
// real bias is filled in once the process exists, via FixMainBias).
func (c *Catalog) LoadMain(path string) (*Object, error) {
	obj, err := loadObject(path, 0)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects = []*Object{obj}
	return obj, nil
}

// FixMainBias updates the main object's load bias once the debuggee is
// running and /proc/<pid>/maps (or the auxiliary vector's AT_ENTRY) lets
// us compute the real bias for a position-independent executable.
func (c *Catalog) FixMainBias(bias uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.objects) > 0 {
		c.objects[0].LoadBias = bias
	}
}

// AddLibrary loads a shared library discovered via the dynamic linker
// rendezvous structure (r_debug) at the given load bias, and returns
// whether it is new (false if already cataloged at that path).
func (c *Catalog) AddLibrary(path string, bias uint64) (*Object, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.objects {
		if o.Path == path {
			return o, false, nil
		}
	}
	obj, err := loadObject(path, bias)
	if err != nil {
		return nil, false, err
	}
	c.objects = append(c.objects, obj)
	c.log.WithField("path", path).WithField("bias", fmt.Sprintf("%#x", bias)).Info("object loaded")
	return obj, true, nil
}

// RemoveLibrary drops path from the catalog (the library was dlclose'd).
func (c *Catalog) RemoveLibrary(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.objects {
		if o.Path == path {
			c.objects = append(c.objects[:i], c.objects[i+1:]...)
			return
		}
	}
}

// All returns a snapshot of the catalog's objects, main executable first.
func (c *Catalog) All() []*Object {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Object, len(c.objects))
	copy(out, c.objects)
	return out
}

// ObjectForAddress returns the object whose .text contains the relocated
// address, or nil.
func (c *Catalog) ObjectForAddress(relocated uint64) *Object {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, o := range c.objects {
		if o.Contains(relocated) {
			return o
		}
	}
	return nil
}

func loadObject(path string, bias uint64) (*Object, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	obj := &Object{Path: path, LoadBias: bias, ELF: f}
	if d, err := f.DWARF(); err == nil {
		obj.DWARF = d
	}
	if text := f.Section(".text"); text != nil {
		obj.textLow = text.Addr
		obj.textHigh = text.Addr + text.Size
	}
	return obj, nil
}

// sortByBias sorts the catalog's objects by load bias, in place.
func (c *Catalog) sortByBias() {
	sort.Slice(c.objects, func(i, j int) bool { return c.objects[i].LoadBias < c.objects[j].LoadBias })
}
