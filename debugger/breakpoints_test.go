// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracebreak/tracebreak/breakpoint"
	"github.com/tracebreak/tracebreak/tracer"
)

func TestTriggerRegistryAddRemoveList(t *testing.T) {
	f := &Facade{triggers: map[int]*Trigger{}}

	tr := f.AddTrigger(7, []string{"print x", "continue"})
	require.Equal(t, 1, tr.ID)
	require.Equal(t, 7, tr.TargetID)

	list := f.ListTriggers()
	require.Len(t, list, 1)
	require.Equal(t, tr.ID, list[0].ID)

	require.NoError(t, f.RemoveTrigger(tr.ID))
	require.Empty(t, f.ListTriggers())
	require.Error(t, f.RemoveTrigger(tr.ID))
}

func TestFireTriggersRunsMatchingCommandsOnly(t *testing.T) {
	f := &Facade{triggers: map[int]*Trigger{}}
	f.AddTrigger(1, []string{"ran-for-one"})
	f.AddTrigger(2, []string{"ran-for-two"})

	var ran []string
	f.SetCommandRunner(func(cmd string) (string, error) {
		ran = append(ran, cmd)
		return "", nil
	})

	f.fireTriggers(tracer.Event{Hit: &breakpoint.Breakpoint{ID: 1}})
	require.Equal(t, []string{"ran-for-one"}, ran)
}
