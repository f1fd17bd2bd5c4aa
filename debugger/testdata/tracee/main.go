// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Program used as a debuggee fixture: a small process with a stable set
// of typed package-level variables and a few named functions, for a
// facade-level integration test to set breakpoints on and evaluate
// expressions against.
package main

import (
	"fmt"
	"time"
	"unsafe"
)

type fooInterface interface {
	Bar()
}

type fooStruct struct {
	a int
	b string
}

func (f *fooStruct) Bar() {}

var (
	zBoolFalse    bool       = false
	zBoolTrue     bool       = true
	zInt          int        = -21
	zInt8         int8       = -121
	zInt16        int16      = -32321
	zInt32        int32      = -1987654321
	zInt64        int64      = -9012345678987654321
	zUint         uint       = 21
	zUint8        uint8      = 231
	zUint16       uint16     = 54321
	zUint32       uint32     = 3217654321
	zUint64       uint64     = 12345678900987654321
	zUintptr      uintptr    = 21
	zFloat32      float32    = 1.54321
	zFloat64      float64    = 1.987654321
	zArray        [5]int8    = [5]int8{-121, 121, 3, 2, 1}
	zSlice        []byte     = []byte{'s', 'l', 'i', 'c', 'e'}
	zSliceNil     []byte
	zString       string     = "I'm a string"
	zStruct       fooStruct  = fooStruct{a: 21, b: "hi"}
	zPointer      *fooStruct = &zStruct
	zPointerNil   *fooStruct
	zInterface    fooInterface = &zStruct
	zUnsafePtr    unsafe.Pointer = unsafe.Pointer(&zUint)
)

func foo() {
	fmt.Println(zBoolFalse, zBoolTrue)
	fmt.Println(zInt, zInt8, zInt16, zInt32, zInt64)
	fmt.Println(zUint, zUint8, zUint16, zUint32, zUint64, zUintptr)
	fmt.Println(zFloat32, zFloat64)
	fmt.Println(zArray, zSlice, zSliceNil)
	fmt.Println(zString, zStruct, zPointer, zPointerNil)
	fmt.Println(zInterface, zUnsafePtr)
	f1()
	f2()
}

func f1() {
	fmt.Println()
}

func f2() {
	fmt.Println()
}

func bar() {
	foo()
	fmt.Print()
}

func main() {
	for ; ; time.Sleep(2 * time.Second) {
		bar()
	}
}
