// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

import (
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

const traceeBinary = "./testdata/tracee/tracee.bin"

// TestMain builds the fixture debuggee once for the whole package, the
// same "go build the demo binary, then run tests against it" shape the
// teacher's own end-to-end test used, and removes it afterward.
func TestMain(m *testing.M) {
	os.Exit(buildAndRunTests(m))
}

func buildAndRunTests(m *testing.M) int {
	cmd := exec.Command("go", "build", "-o", traceeBinary, "./testdata/tracee")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Println("building tracee fixture:", err)
		return 1
	}
	defer os.Remove(traceeBinary)
	return m.Run()
}

// TestLaunchStopAtFunctionBreakpoint exercises the facade's full
// launch/breakpoint/continue path against a real traced process: this is
// the ptrace-backed counterpart to breakpoints_test.go's pure
// trigger-registry coverage, and needs CAP_SYS_PTRACE (or running as the
// target's own uid with yama ptrace_scope permitting it) to pass.
func TestLaunchStopAtFunctionBreakpoint(t *testing.T) {
	if os.Getenv("TRACEBREAK_PTRACE_TESTS") == "" {
		t.Skip("set TRACEBREAK_PTRACE_TESTS=1 to run ptrace-backed integration tests")
	}

	f := New(nil)
	defer func() { _ = f.Quit() }()

	_, err := f.Launch(traceeBinary, []string{traceeBinary}, nil, "")
	require.NoError(t, err)

	bp, err := f.AddBreakpointAtFunction("main.foo")
	require.NoError(t, err)
	require.NotZero(t, bp.ID)

	report, err := f.Continue()
	require.NoError(t, err)
	require.NotNil(t, report.HitBreakpoint)
	require.Equal(t, bp.ID, report.HitBreakpoint.ID)
	require.Equal(t, "main.foo", report.Location.Function)

	require.NoError(t, f.RemoveBreakpoint(bp.ID))
}
