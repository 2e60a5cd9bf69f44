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

// Array is a growable, geometrically-resized Value vector (spec §3 heap
// object table).
type Array struct {
	Object
	Elems []value.Value
}

// AsArray recovers the *Array pointed to by v.
func AsArray(v value.Value) *Array { return (*Array)(v.AsObjPtr()) }

func (a *Array) Value() value.Value { return ToValue(unsafe.Pointer(a)) }

func (a *Array) Len() int { return len(a.Elems) }

func (a *Array) Get(i int) (value.Value, bool) {
	if i < 0 || i >= len(a.Elems) {
		return value.Nil, false
	}
	return a.Elems[i], true
}

func (a *Array) Set(i int, v value.Value) bool {
	if i < 0 || i >= len(a.Elems) {
		return false
	}
	a.Elems[i] = v
	return true
}

func (a *Array) Push(v value.Value) { a.Elems = append(a.Elems, v) }

// Pop removes and returns the last element, shrinking the backing array
// when utilization drops below one quarter (spec §3: "shrinks on pop if
// below ¼ capacity").
func (a *Array) Pop() (value.Value, bool) {
	n := len(a.Elems)
	if n == 0 {
		return value.Nil, false
	}
	v := a.Elems[n-1]
	a.Elems = a.Elems[:n-1]
	if cap(a.Elems) > 8 && len(a.Elems) < cap(a.Elems)/4 {
		shrunk := make([]value.Value, len(a.Elems))
		copy(shrunk, a.Elems)
		a.Elems = shrunk
	}
	return v, true
}

// NewArray allocates an Array from the given elements (the slice is taken
// by reference; callers pass a fresh slice per spec/compiler convention).
func (h *Heap) NewArray(elems []value.Value) *Array {
	a := &Array{Object: Object{Kind: KindArray}, Elems: elems}
	h.register(&a.Object, 24+len(elems)*8)
	return a
}
