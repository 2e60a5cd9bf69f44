// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package gc implements the tri-color mark-and-sweep collector described in
// spec §4.3: iterative (non-recursive) marking over an explicit worklist, a
// deferred sweep pass, and weak string interning.
package gc

import (
	"unsafe"

	"github.com/probechain/pseudocode/internal/heap"
	"github.com/probechain/pseudocode/internal/value"
)

func unsafeFrom(obj *heap.Object) unsafe.Pointer { return unsafe.Pointer(obj) }

// RootSource is implemented by the interpreter (and, while recording, the
// trace recorder) to hand the collector every root named in spec §4.3 step
// 1: the value stack, per-frame locals, the open-upvalue chain, the global
// table, the interned-string table, the recording trace if any, and the
// JIT's compiled-code reference table.
type RootSource interface {
	// WalkRoots calls visit once per root Value. visit may be called more
	// than once for the same Value; the collector deduplicates via color.
	WalkRoots(visit func(value.Value))
}

// Collector runs mark-and-sweep collections against one Heap.
type Collector struct {
	heap *heap.Heap

	// gray is the iterative mark worklist: objects that have been visited
	// (colored Gray) but whose children have not yet been scanned.
	gray []*heap.Object
}

func New(h *heap.Heap) *Collector { return &Collector{heap: h} }

// Collect runs one full mark-and-sweep pass rooted at roots, per spec
// §4.3's numbered algorithm.
func (c *Collector) Collect(roots RootSource) {
	c.markRoots(roots)
	c.traceGray()
	c.sweep()
	c.heap.GrowThreshold()
}

// CollectIfNeeded runs a collection only once the heap's byte-allocation
// threshold has been crossed (spec §4.3 step 5 drives this threshold).
func (c *Collector) CollectIfNeeded(roots RootSource) {
	if c.heap.ShouldCollect() {
		c.Collect(roots)
	}
}

func (c *Collector) markValue(v value.Value) {
	if !v.IsObj() {
		return
	}
	obj := heap.HeaderOf(v)
	c.markObject(obj)
}

func (c *Collector) markObject(obj *heap.Object) {
	if obj.Color != heap.White {
		return // already gray or black; avoids cycles and re-work
	}
	obj.Color = heap.Gray
	c.gray = append(c.gray, obj)
}

func (c *Collector) markRoots(roots RootSource) {
	roots.WalkRoots(c.markValue)
}

// traceGray drains the worklist, graying each object's children and then
// blackening the object itself — the classic iterative tri-color
// traversal, bounded by an explicit slice rather than recursion (spec
// §4.3 step 2, and §9's note on pointer-graph depth).
func (c *Collector) traceGray() {
	for len(c.gray) > 0 {
		obj := c.gray[len(c.gray)-1]
		c.gray = c.gray[:len(c.gray)-1]
		c.blacken(obj)
	}
}

func (c *Collector) blacken(obj *heap.Object) {
	switch obj.Kind {
	case heap.KindString:
		// no outgoing edges
	case heap.KindArray:
		a := (*heap.Array)(unsafeFrom(obj))
		for _, v := range a.Elems {
			c.markValue(v)
		}
	case heap.KindDict:
		// Dict keeps entries unexported; Collector walks via the exported
		// iteration helper so package heap's internals stay private.
		heap.AsDict(obj.AsValue()).Range(func(k, v value.Value) {
			c.markValue(k)
			c.markValue(v)
		})
	case heap.KindFunction:
		fn := (*heap.Function)(unsafeFrom(obj))
		for _, k := range fn.Chunk.Constants {
			c.markValue(k)
		}
	case heap.KindClosure:
		cl := (*heap.Closure)(unsafeFrom(obj))
		c.markObject(&cl.Fn.Object)
		for _, uv := range cl.Upvalues {
			c.markObject(&uv.Object)
		}
	case heap.KindUpvalue:
		uv := (*heap.Upvalue)(unsafeFrom(obj))
		c.markValue(*uv.Location)
	case heap.KindClass:
		cls := (*heap.Class)(unsafeFrom(obj))
		for _, m := range cls.Methods {
			c.markObject(&m.Object)
		}
		if cls.Super != nil {
			c.markObject(&cls.Super.Object)
		}
	case heap.KindInstance:
		inst := (*heap.Instance)(unsafeFrom(obj))
		c.markObject(&inst.Class.Object)
		for _, v := range inst.Fields {
			c.markValue(v)
		}
	case heap.KindBoundMethod:
		bm := (*heap.BoundMethod)(unsafeFrom(obj))
		c.markValue(bm.Receiver)
		c.markObject(&bm.Method.Object)
	case heap.KindTrace:
		// Traces are kept alive explicitly by the JIT's code-cache root
		// (RootSource includes it); no further heap edges to mark here.
	case heap.KindNative:
		// no outgoing edges
	}
	obj.Color = heap.Black
}

// sweep walks the allocation list, freeing unmarked (White) objects and
// resetting survivors back to White for the next cycle (spec §4.3 step 4).
func (c *Collector) sweep() {
	var newHead *heap.Object
	var tail *heap.Object
	for obj := c.heap.Head(); obj != nil; {
		next := obj.Next
		if obj.Color == heap.White {
			if obj.Kind == heap.KindString {
				c.heap.ForgetString((*heap.String)(unsafeFrom(obj)))
			}
			// unreachable: drop from the list, let the Go GC reclaim it
		} else {
			obj.Color = heap.White
			obj.Next = nil
			if tail == nil {
				newHead = obj
			} else {
				tail.Next = obj
			}
			tail = obj
		}
		obj = next
	}
	c.heap.SetHead(newHead)
}
