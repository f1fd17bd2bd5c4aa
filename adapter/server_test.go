// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package adapter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracebreak/tracebreak/breakpoint"
	"github.com/tracebreak/tracebreak/debugger"
	"github.com/tracebreak/tracebreak/objfile"
	"github.com/tracebreak/tracebreak/symtab"
	"github.com/tracebreak/tracebreak/tracer"
)

func TestWatchAccessFromString(t *testing.T) {
	v, err := watchAccessFromString("")
	require.NoError(t, err)
	require.Equal(t, breakpoint.WatchWrite, v)

	v, err = watchAccessFromString("write")
	require.NoError(t, err)
	require.Equal(t, breakpoint.WatchWrite, v)

	v, err = watchAccessFromString("read-write")
	require.NoError(t, err)
	require.Equal(t, breakpoint.WatchReadWrite, v)

	_, err = watchAccessFromString("bogus")
	require.Error(t, err)
}

func TestSymbolInfoOfProjectsObjectPath(t *testing.T) {
	obj := &objfile.Object{Path: "/bin/traced"}
	syms := []*symtab.Symbol{
		{Name: "main.main", Object: obj, LowPC: 0x1000, HighPC: 0x1010},
		{Name: "anonymous", LowPC: 0x2000, HighPC: 0x2020},
	}

	out := symbolInfoOf(syms)
	require.Len(t, out, 2)
	require.Equal(t, "main.main", out[0].Name)
	require.Equal(t, "/bin/traced", out[0].Object)
	require.Equal(t, uint64(0x1000), out[0].LowPC)
	require.Empty(t, out[1].Object)
}

func TestEventEnvelopeObjectEventProjectsIntoObjectInfo(t *testing.T) {
	ev := debugger.Event{Object: &tracer.ObjectEvent{
		Object: &objfile.Object{Path: "/lib/libc.so", LoadBias: 0x400000},
		Loaded: true,
	}}

	env, ok := eventEnvelope(ev)
	require.True(t, ok)
	require.Equal(t, "shared-library-change", env.Event)

	var info objectInfo
	require.NoError(t, json.Unmarshal(env.Body, &info))
	require.Equal(t, "/lib/libc.so", info.Path)
	require.Equal(t, uint64(0x400000), info.LoadBias)
	require.True(t, info.Loaded)
}

func TestEventEnvelopeUnknownEventIsSkipped(t *testing.T) {
	_, ok := eventEnvelope(debugger.Event{})
	require.False(t, ok)
}
