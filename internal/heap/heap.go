// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package heap

// Heap owns one VM's allocations: the intrusive allocation list the
// collector sweeps, the interned-string table, and the byte-accounting
// counters that drive GC scheduling. It is an explicit, constructor-created
// handle — never a package-level singleton — so that two *vm.VM values
// never share a heap (spec §5, §9 "Global mutable state").
type Heap struct {
	head           *Object // most recently allocated object; Next chains backward
	interned       map[string]*String
	BytesAllocated int
	NextGC         int

	// GrowthFactor multiplies BytesAllocated to derive the next collection
	// threshold (spec §4.3 step 5's default 2x, tunable via the GC
	// growth-factor environment variable spec §6 names — see
	// internal/config).
	GrowthFactor float64
}

const (
	minNextGC           = 1 << 20 // 1 MB, per spec §4.3 step 5
	defaultGrowthFactor = 2.0
)

// New creates an empty heap with the default growth factor.
func New() *Heap {
	return &Heap{interned: make(map[string]*String), NextGC: minNextGC, GrowthFactor: defaultGrowthFactor}
}

// SetGrowthFactor overrides the default 2x threshold growth (spec §4.3 step
// 5), e.g. from internal/config's GC growth-factor setting. A non-positive
// factor is ignored, leaving the previous value in place.
func (h *Heap) SetGrowthFactor(f float64) {
	if f > 0 {
		h.GrowthFactor = f
	}
}

// register links obj into the allocation list and accounts size bytes
// toward the GC threshold.
func (h *Heap) register(obj *Object, size int) {
	obj.Next = h.head
	h.head = obj
	h.BytesAllocated += size
}

// Head returns the start of the allocation list, for the collector's sweep
// pass.
func (h *Heap) Head() *Object { return h.head }

// SetHead replaces the allocation list head; used by the collector after a
// sweep pass rebuilds the list with freed entries unlinked.
func (h *Heap) SetHead(obj *Object) { h.head = obj }

// ShouldCollect reports whether BytesAllocated has reached NextGC.
// BytesAllocated is a running total of every allocation; a collection does
// not lower it.
func (h *Heap) ShouldCollect() bool { return h.BytesAllocated >= h.NextGC }

// GrowThreshold sets NextGC to BytesAllocated times GrowthFactor, never below
// 1 MB, after a completed collection (spec §4.3 step
// 5: "next_gc = bytes_allocated * 2 ... minimum 1 MB").
func (h *Heap) GrowThreshold() {
	next := int(float64(h.BytesAllocated) * h.GrowthFactor)
	if next < minNextGC {
		next = minNextGC
	}
	h.NextGC = next
}

// ForgetString is exported for the collector to clear a doomed string's
// interning entry during sweep.
func (h *Heap) ForgetString(str *String) { h.forgetString(str) }
