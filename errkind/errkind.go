// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errkind defines the typed error taxonomy used throughout the
// debugger core ( of the design). Operations return one of these kinds,
// wrapped with context, rather than opaque errors; front-ends and the
// facade use errors.As to decide how to react (pending vs. fatal vs.
// surfaced-to-user).
package errkind

import "fmt"

// Kind classifies a failure the way the facade needs to react to it.
type Kind int

const (
	// Internal marks an invariant violation. Nothing else should ever abort
	// the session.
	Internal Kind = iota
	// TargetGone means the process or thread no longer exists.
	TargetGone
	// Denied means the OS refused a trace or memory operation.
	Denied
	// BadAddress means a memory read/write fell outside mapped regions.
	BadAddress
	// DwarfMalformed means debug info failed a structural check.
	DwarfMalformed
	// DwarfMissing means a requested symbol/type/line isn't present.
	DwarfMissing
	// PlaceUnresolved means a breakpoint place can't be resolved yet. Not an
	// error surfaced to the user; the breakpoint stays pending.
	PlaceUnresolved
	// HardwareExhausted means a fifth watchpoint was requested.
	HardwareExhausted
	// ExpressionError covers parse failure, type mismatch, out-of-bounds
	// index, or missing field during evaluation.
	ExpressionError
	// CallInjectionRefused means a synthesized call could not be made.
	CallInjectionRefused
)

func (k Kind) String() string {
	switch k {
	case Internal:
		return "internal"
	case TargetGone:
		return "target-gone"
	case Denied:
		return "denied"
	case BadAddress:
		return "bad-address"
	case DwarfMalformed:
		return "dwarf-malformed"
	case DwarfMissing:
		return "dwarf-missing"
	case PlaceUnresolved:
		return "place-unresolved"
	case HardwareExhausted:
		return "hardware-exhausted"
	case ExpressionError:
		return "expression-error"
	case CallInjectionRefused:
		return "call-injection-refused"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carried across the debugger core. The
// facade annotates it with what the user asked and which entity was
// involved ; it never discards the original cause.
type Error struct {
	Kind    Kind
	Context string // what the user asked, which entity
	Cause   error
}

func New(kind Kind, context string) *Error {
	return &Error{Kind: kind, Context: context}
}

func Wrap(kind Kind, context string, cause error) *Error {
	return &Error{Kind: kind, Context: context, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is match any *Error target of the same Kind, such as
// errors.Is(err, errkind.New(errkind.Internal, "")), by comparing Kind
// fields only; a bare Kind value is not an error and cannot be a target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Of reports the Kind of err if it (or something it wraps) is an *Error,
// and ok=false otherwise.
func Of(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return Internal, false
}

// Fatal reports whether err should terminate the debugging session (only
// Target-gone does; everything else is recoverable per ).
func Fatal(err error) bool {
	k, ok := Of(err)
	return ok && k == TargetGone
}
