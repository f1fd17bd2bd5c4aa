// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tracebreak is the CLI front-end: it wires attach/launch modes
// and the IDE-adapter transports onto a debugger.Facade. The console
// REPL/TUI and any "oracle" plug-in front-end are out of scope; this
// binary only ever speaks the adapter's length-prefixed JSON protocol.
package main

func main() {
	Execute()
}
