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

type dictEntry struct {
	key       value.Value
	val       value.Value
	occupied  bool
	tombstone bool
}

// Dict is an open-addressed hash table keyed by Value, rehashing at load
// factor 0.75 (spec §3 heap object table).
type Dict struct {
	Object
	entries []dictEntry
	count   int // occupied, including tombstones
	live    int // occupied, excluding tombstones
}

// AsDict recovers the *Dict pointed to by v.
func AsDict(v value.Value) *Dict { return (*Dict)(v.AsObjPtr()) }

func (d *Dict) Value() value.Value { return ToValue(unsafe.Pointer(d)) }

func (h *Heap) NewDict() *Dict {
	d := &Dict{Object: Object{Kind: KindDict}}
	h.register(&d.Object, 24)
	return d
}

func hashKey(v value.Value) uint64 {
	switch {
	case v.IsObj():
		if HeaderOf(v).Kind == KindString {
			return AsString(v).Hash
		}
		return uint64(uintptr(v.AsObjPtr()))
	default:
		return uint64(v)
	}
}

func (d *Dict) findSlot(key value.Value) int {
	if len(d.entries) == 0 {
		return -1
	}
	mask := uint64(len(d.entries) - 1)
	idx := hashKey(key) & mask
	tombstoneIdx := -1
	for {
		e := &d.entries[idx]
		if !e.occupied {
			if !e.tombstone {
				if tombstoneIdx != -1 {
					return tombstoneIdx
				}
				return int(idx)
			}
			if tombstoneIdx == -1 {
				tombstoneIdx = int(idx)
			}
		} else if value.Equal(e.key, key) {
			return int(idx)
		}
		idx = (idx + 1) & mask
	}
}

func (d *Dict) grow() {
	newCap := 8
	if len(d.entries) > 0 {
		newCap = len(d.entries) * 2
	}
	old := d.entries
	d.entries = make([]dictEntry, newCap)
	d.count, d.live = 0, 0
	for _, e := range old {
		if e.occupied {
			d.Set(e.key, e.val)
		}
	}
}

// Get returns the value for key, if present.
func (d *Dict) Get(key value.Value) (value.Value, bool) {
	if len(d.entries) == 0 {
		return value.Nil, false
	}
	idx := d.findSlot(key)
	if idx < 0 || !d.entries[idx].occupied {
		return value.Nil, false
	}
	return d.entries[idx].val, true
}

// Set inserts or overwrites key -> val, rehashing at load factor 0.75.
func (d *Dict) Set(key, val value.Value) {
	if len(d.entries) == 0 || float64(d.count+1) > float64(len(d.entries))*0.75 {
		d.grow()
	}
	idx := d.findSlot(key)
	e := &d.entries[idx]
	wasNew := !e.occupied
	if wasNew && !e.tombstone {
		d.count++
	}
	*e = dictEntry{key: key, val: val, occupied: true}
	if wasNew {
		d.live++
	}
}

// Delete removes key, leaving a tombstone so open-addressing probes past it
// still find later entries.
func (d *Dict) Delete(key value.Value) bool {
	idx := d.findSlot(key)
	if idx < 0 || !d.entries[idx].occupied {
		return false
	}
	d.entries[idx] = dictEntry{tombstone: true}
	d.live--
	return true
}

func (d *Dict) Len() int { return d.live }

// Range calls fn for every live key/value pair, in no particular order.
// Exported so the collector (package gc) can mark a Dict's contents
// without reaching into its unexported entries slice.
func (d *Dict) Range(fn func(k, v value.Value)) {
	for _, e := range d.entries {
		if e.occupied {
			fn(e.key, e.val)
		}
	}
}
