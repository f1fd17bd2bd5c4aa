// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import "strings"

// ContainerKind enumerates the standard-library container shapes the
// evaluator (package eval) knows how to materialize into a value, rather
// than falling back to showing raw struct fields.
type ContainerKind int

const (
	ContainerNone ContainerKind = iota
	ContainerVector
	ContainerDeque
	ContainerHashMap
	ContainerOrderedMap
	ContainerSet
	ContainerString
	ContainerSlice
	ContainerSmartPointer
	ContainerOptional
	ContainerResult
	ContainerThreadLocal
	ContainerTime
)

// Recognition records that a struct type's fully-qualified name matched a
// known container pattern, plus the field names the materialization
// recipe needs to pull out the guts (begin/end pointers, a length field, a
// bucket array, and so on). Field names are recorded rather than
// hard-coded offsets because they differ across compiler/library
// versions — 's "recipes versioned by release" note — and looking them
// up by name through the already-parsed Struct.Fields keeps the recipe
// independent of layout, only of naming convention.
type Recognition struct {
	Kind ContainerKind

	// Element is the element type for single-element-type containers
	// (vector, deque, set, slice, optional), taken from the first
	// template parameter.
	Element TypeId
	// Key/Value are set instead of Element for map-shaped containers.
	Key, Value TypeId
	// IsMap is true when lookup should yield the mapped value rather
	// than the key itself (std::map/std::unordered_map vs.
	// std::set/std::unordered_set, which share the same node-walk
	// recipes as their map counterparts).
	IsMap bool

	// FieldBegin/FieldEnd/FieldLen/FieldCap name the members that hold
	// the container's storage pointers/counters, resolved by the
	// recipe at materialization time via Struct.Fields.
	FieldBegin, FieldEnd, FieldLen, FieldCap string

	// NodeHeadPath is the dotted field path from a chained-bucket
	// container (unordered_map/unordered_set) down to its first node
	// pointer, e.g. ["_M_h", "_M_before_begin", "_M_nxt"] for
	// libstdc++'s _Hashtable. Nodes are walked as a singly linked list;
	// each node's stored key (or key/value pair) begins one pointer
	// word past the node's own next-pointer.
	NodeHeadPath []string

	// TreeHeaderPath/TreeLeftField/TreeRightField/TreeParentField
	// locate an ordered container's (std::map/std::set) red-black tree
	// sentinel and its child/parent links, for a depth-first walk
	// starting at the sentinel's parent link (the tree's root). A tree
	// node's stored key (or pair) begins after its
	// color/parent/left/right header, the same fixed-size header every
	// node shares.
	TreeHeaderPath                                 []string
	TreeLeftField, TreeRightField, TreeParentField string
}

// pattern is one recognizable name shape: a name prefix (the
// mangled-demangled template name up to its '<') and the recipe to build
// once matched.
type pattern struct {
	prefixes []string
	kind     ContainerKind
	begin    string
	end      string
	length   string
	cap_     string
	isMap    bool

	nodeHeadPath []string

	treeHeaderPath []string
	treeLeft       string
	treeRight      string
	treeParent     string
}

// chainedNodeHeadPath is libstdc++'s _Hashtable head-node field path,
// shared by unordered_map and unordered_set: the container embeds an
// _Hashtable member _M_h, whose _M_before_begin sentinel's _M_nxt is the
// first real node.
var chainedNodeHeadPath = []string{"_M_h", "_M_before_begin", "_M_nxt"}

// orderedTreeHeaderPath is libstdc++'s _Rb_tree header field path,
// shared by map and set: _M_t._M_impl._M_header is the tree's sentinel,
// whose _M_left is the leftmost (first, in-order) node.
var orderedTreeHeaderPath = []string{"_M_t", "_M_impl", "_M_header"}

var patterns = []pattern{
	{prefixes: []string{"std::vector<", "std::__1::vector<", "std::__cxx11::vector<"}, kind: ContainerVector, begin: "_M_start", end: "_M_finish", cap_: "_M_end_of_storage"},
	{prefixes: []string{"std::deque<", "std::__1::deque<"}, kind: ContainerDeque, begin: "_M_start", end: "_M_finish"},
	{prefixes: []string{"std::unordered_map<", "std::__1::unordered_map<"}, kind: ContainerHashMap, length: "_M_element_count", isMap: true, nodeHeadPath: chainedNodeHeadPath},
	{prefixes: []string{"std::unordered_set<", "std::__1::unordered_set<"}, kind: ContainerHashMap, length: "_M_element_count", isMap: false, nodeHeadPath: chainedNodeHeadPath},
	{prefixes: []string{"std::map<", "std::__1::map<"}, kind: ContainerOrderedMap, length: "_M_node_count", isMap: true, treeHeaderPath: orderedTreeHeaderPath, treeLeft: "_M_left", treeRight: "_M_right", treeParent: "_M_parent"},
	{prefixes: []string{"std::set<", "std::__1::set<"}, kind: ContainerSet, length: "_M_node_count", isMap: false, treeHeaderPath: orderedTreeHeaderPath, treeLeft: "_M_left", treeRight: "_M_right", treeParent: "_M_parent"},
	{prefixes: []string{"std::basic_string<char", "std::__cxx11::basic_string<char", "std::__1::basic_string<char"}, kind: ContainerString},
	{prefixes: []string{"std::unique_ptr<", "std::__1::unique_ptr<"}, kind: ContainerSmartPointer, begin: "_M_t"},
	{prefixes: []string{"std::shared_ptr<", "std::__1::shared_ptr<", "std::weak_ptr<"}, kind: ContainerSmartPointer, begin: "_M_ptr"},
	{prefixes: []string{"std::optional<", "std::__1::optional<"}, kind: ContainerOptional, length: "_M_engaged"},
	{prefixes: []string{"std::variant<", "std::__1::variant<"}, kind: ContainerResult, length: "_M_index"},
	{prefixes: []string{"__thread_local", "thread_local_"}, kind: ContainerThreadLocal},
	{prefixes: []string{"std::chrono::time_point<", "std::chrono::duration<"}, kind: ContainerTime},
}

// Recognize matches name against the known container patterns and returns
// the recipe for materializing it, or nil for an ordinary struct. t's
// already-parsed fields and template params are used to fill in
// Element/Key/Value.
func Recognize(name string, t *Type) *Recognition {
	if name == "" {
		return nil
	}
	for _, p := range patterns {
		for _, prefix := range p.prefixes {
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			r := &Recognition{
				Kind:           p.kind,
				IsMap:          p.isMap,
				FieldBegin:     p.begin,
				FieldEnd:       p.end,
				FieldLen:       p.length,
				FieldCap:       p.cap_,
				NodeHeadPath:   p.nodeHeadPath,
				TreeHeaderPath: p.treeHeaderPath,
				TreeLeftField:  p.treeLeft,
				TreeRightField: p.treeRight,
				TreeParentField: p.treeParent,
			}
			switch {
			case p.isMap && len(t.TemplateParams) >= 2:
				r.Key = t.TemplateParams[0].Type
				r.Value = t.TemplateParams[1].Type
			case len(t.TemplateParams) >= 1:
				r.Element = t.TemplateParams[0].Type
			}
			return r
		}
	}
	if strings.HasSuffix(name, "[]") {
		return &Recognition{Kind: ContainerSlice}
	}
	return nil
}

// FieldByName is a small helper the materialization recipes (package
// eval) use to find a named member inside a recognized container's
// Struct.Fields, since recipes address fields by name rather than
// position.
func (s *StructInfo) FieldByName(name string) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
