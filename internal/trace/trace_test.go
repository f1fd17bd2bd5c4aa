// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trace

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tracebreak/tracebreak/errkind"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		in   error
		want errkind.Kind
	}{
		{unix.ESRCH, errkind.TargetGone},
		{unix.EPERM, errkind.Denied},
		{unix.EACCES, errkind.Denied},
		{unix.EIO, errkind.BadAddress},
		{unix.EFAULT, errkind.BadAddress},
		{unix.EINVAL, errkind.Internal},
	}
	for _, c := range cases {
		err := classify("ctx", c.in)
		require.Error(t, err)
		kind, ok := errkind.Of(err)
		require.True(t, ok)
		require.Equal(t, c.want, kind)
	}
	require.NoError(t, classify("ctx", nil))
}

func TestRunnerDoRoundTrips(t *testing.T) {
	r := NewRunner()
	defer r.Close()

	calls := 0
	err := r.do("noop", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}
