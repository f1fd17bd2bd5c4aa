// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRegisterTableGetSetRoundTrips(t *testing.T) {
	for name, field := range registerTable {
		var regs unix.PtraceRegs
		field.set(&regs, 0x1234)
		require.Equal(t, uint64(0x1234), field.get(&regs), "register %s", name)
	}
}

func TestRegisterTableCoversCommonNames(t *testing.T) {
	for _, name := range []string{"rax", "rbx", "rsp", "rbp", "rip", "r8", "r15", "eflags"} {
		_, ok := registerTable[name]
		require.True(t, ok, "missing register %s", name)
	}
}
