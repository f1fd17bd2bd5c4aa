// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eval

// Expr is a parsed data-query expression node. Precedence, loosest to
// tightest: the prefix operators dereference `*`, address-of `&` and
// canonical form `~`; then the postfix field access `.`, index `[k]` and
// slice `[a..b]`/`[a..]`; then a primary term: a name, a pointer cast
// `(*type)addr` or a type cast `(:type) expr`. So `*p.x` is `*(p.x)` and
// `&v[0]` is the address of v's first element.
type Expr interface{ exprNode() }

// Ident selects a variable, parameter, or function by name — the
// expression's leftmost term.
type Ident struct{ Name string }

// Field is `.` field access.
type Field struct {
	Base Expr
	Name string
}

// IndexKey is one component of an Index expression's key: either an
// integer, or a wildcard ('*', meaning "match anything in this
// position"), or a nested literal-struct key for associative containers.
type IndexKey struct {
	Wildcard bool
	Int      int64
	HasInt   bool
	Str      string
	HasStr   bool
	Literal  map[string]IndexKey // a literal-struct key, field name -> sub-key
}

// Index is `[k]`.
type Index struct {
	Base Expr
	Key  IndexKey
}

// Slice is `[a..b]` or `[a..]` (open-ended).
type Slice struct {
	Base  Expr
	Lo    int64
	Hi    int64
	HasHi bool
}

// Deref is `*expr`.
type Deref struct{ Base Expr }

// AddrOf is `&expr`.
type AddrOf struct{ Base Expr }

// Canonical is `~expr`: bypass container specialization, show the literal
// struct layout.
type Canonical struct{ Base Expr }

// PointerCast is `(*type)addr`: reinterpret addr as a pointer to type.
type PointerCast struct {
	TypeName string
	Addr     Expr
}

// TypeCast is `(:type) expr`: reinterpret expr's storage as type.
type TypeCast struct {
	TypeName string
	Base     Expr
}

// Call is `function(args...)`, routed to call injection when the
// evaluator encounters it in a selected place that allows side effects.
type Call struct {
	Name string
	Args []Expr
}

func (Ident) exprNode()       {}
func (Field) exprNode()       {}
func (Index) exprNode()       {}
func (Slice) exprNode()       {}
func (Deref) exprNode()       {}
func (AddrOf) exprNode()      {}
func (Canonical) exprNode()   {}
func (PointerCast) exprNode() {}
func (TypeCast) exprNode()    {}
func (Call) exprNode()        {}
