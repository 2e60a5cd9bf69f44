// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package heap

import (
	"unsafe"

	"github.com/probechain/pseudocode/internal/value"
)

// NativeFunc is the host-function calling convention of spec §6: "a
// built-in is a host function taking (vm, argc, argv)". ctx is the owning
// *vm.VM, opaque here to avoid heap importing vm; callers in package vm
// type-assert it back.
type NativeFunc func(ctx interface{}, args []value.Value) (value.Value, error)

// Native wraps a host-implemented builtin as an ordinary callable Value, so
// OP_CALL/OP_INVOKE need not special-case builtins against user closures
// (spec §6 calling convention).
type Native struct {
	Object
	Name string
	Fn   NativeFunc
}

func AsNative(v value.Value) *Native { return (*Native)(v.AsObjPtr()) }
func (n *Native) Value() value.Value { return ToValue(unsafe.Pointer(n)) }

func (h *Heap) NewNative(name string, fn NativeFunc) *Native {
	n := &Native{Object: Object{Kind: KindNative}, Name: name, Fn: fn}
	h.register(&n.Object, 24)
	return n
}
