// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package adapter

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte(`{"seq":1}`)))

	got, err := readFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, `{"seq":1}`, string(got))
}

func TestFrameRoundTripMultipleMessages(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("first")))
	require.NoError(t, writeFrame(&buf, []byte("second")))

	r := bufio.NewReader(&buf)
	first, err := readFrame(r)
	require.NoError(t, err)
	require.Equal(t, "first", string(first))

	second, err := readFrame(r)
	require.NoError(t, err)
	require.Equal(t, "second", string(second))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Envelope{Seq: 3, Command: "continue"}
	require.NoError(t, writeEnvelope(&buf, in))

	out, err := readEnvelope(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestReadFrameRejectsMalformedHeader(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("not-a-length\nrest"))
	_, err := readFrame(r)
	require.Error(t, err)
}

func TestReadFrameReportsShortBody(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("10\ntoo short"))
	_, err := readFrame(r)
	require.Error(t, err)
}
