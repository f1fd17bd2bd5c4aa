// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/tracebreak/tracebreak/adapter"
	"github.com/tracebreak/tracebreak/debugger"
)

// stdioConn adapts os.Stdin/os.Stdout to the io.ReadWriteCloser the
// adapter server drives, for the "local stream" transport: the IDE
// spawns tracebreak itself and talks the protocol over its pipes.
type stdioConn struct{}

func (stdioConn) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioConn) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioConn) Close() error                { return nil }

// runAdapter drives facade through the requested transport until the
// connection closes. mode is one of "stdio" or "socket"; oneshot, if
// non-empty, runs a single named command with the given JSON args and
// exits instead of opening a persistent session.
func runAdapter(facade *debugger.Facade, log *logrus.Entry, mode, oneshotCommand, oneshotArgs string) error {
	if oneshotCommand != "" {
		return runOneshot(facade, oneshotCommand, oneshotArgs)
	}
	server := adapter.NewServer(facade, log)
	switch mode {
	case "", "stdio":
		return server.Serve(stdioConn{})
	case "socket":
		ln, err := adapter.ListenSocket()
		if err != nil {
			return err
		}
		defer ln.Close()
		fmt.Fprintln(os.Stderr, "tracebreak: listening on", ln.Addr())
		for {
			conn, err := ln.Accept()
			if err != nil {
				return err
			}
			if err := server.Serve(conn); err != nil && err != io.EOF {
				log.WithError(err).Warn("adapter connection ended with an error")
			}
		}
	default:
		return fmt.Errorf("unknown adapter mode %q", mode)
	}
}

// runOneshot drives the facade in-process for a single command, for
// scripts that don't want to speak the framed protocol at all: it
// prints the command's JSON result to stdout and returns.
func runOneshot(facade *debugger.Facade, command, args string) error {
	server := adapter.NewServer(facade, nil)
	result, err := server.Dispatch(command, json.RawMessage(args))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
