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

// Trace is a heap-tracked record of a compiled hot loop (spec §3 heap
// object table: "entry bytecode address, recorded IR, compiled code
// pointer, snapshot table"). The concrete IR/native-code payloads live in
// package jit; Trace holds them as opaque values so package heap, which
// jit depends on, never imports jit back.
type Trace struct {
	Object
	EntryPC  int
	IR       interface{} // *jit.Program
	Code     interface{} // *jit.CompiledCode
	Version  uint32       // globals/classes version this trace was compiled against
	Invalid  bool
}

func AsTrace(v value.Value) *Trace { return (*Trace)(v.AsObjPtr()) }
func (t *Trace) Value() value.Value { return ToValue(unsafe.Pointer(t)) }

func (h *Heap) NewTrace(entryPC int, version uint32) *Trace {
	t := &Trace{Object: Object{Kind: KindTrace}, EntryPC: entryPC, Version: version}
	h.register(&t.Object, 48)
	return t
}
