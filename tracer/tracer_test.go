// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracebreak/tracebreak/objfile"
	"github.com/tracebreak/tracebreak/symtab"
)

func TestStopReasonString(t *testing.T) {
	require.Equal(t, "breakpoint", ReasonBreakpoint.String())
	require.Equal(t, "none", ReasonNone.String())
	require.Equal(t, "exec", ReasonExec.String())
}

func TestSignalPolicyDefaultsToPassThrough(t *testing.T) {
	tr := New(nil, objfile.NewCatalog(nil), symtab.NewIndex(nil))
	defer tr.Close()

	require.Equal(t, PassThrough, tr.policyFor(17)) // SIGCHLD, arbitrary

	tr.SetSignalPolicy(17, StopWorthy)
	require.Equal(t, StopWorthy, tr.policyFor(17))
}

func TestPidAndMainThreadBeforeAdoptAreZero(t *testing.T) {
	tr := New(nil, objfile.NewCatalog(nil), symtab.NewIndex(nil))
	defer tr.Close()
	require.Equal(t, 0, tr.Pid())
	require.Equal(t, 0, tr.MainThread())
}
