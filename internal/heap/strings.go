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

	"github.com/cespare/xxhash/v2"

	"github.com/probechain/pseudocode/internal/value"
)

// String is an interned, immutable UTF-8 string object (spec §3 heap
// object table: "length, hash, UTF-8 bytes (interned per VM)").
type String struct {
	Object
	Data string
	Hash uint64
}

// HashString computes the interning hash for s, grounded on the
// cespare/xxhash wiring named in SPEC_FULL.md's domain stack.
func HashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// Intern returns the canonical *String for s, allocating and registering a
// new one only on first sight. Because interning is keyed by h.interned,
// two string literals with equal content in the same Heap always yield the
// same pointer (spec §3 invariant: "String interning guarantees pointer
// equality ⇔ content equality").
func (h *Heap) Intern(s string) *String {
	hash := HashString(s)
	if existing, ok := h.interned[s]; ok {
		return existing
	}
	str := &String{Object: Object{Kind: KindString}, Data: s, Hash: hash}
	h.register(&str.Object, len(s))
	h.interned[s] = str
	return str
}

// forgetString removes str's interning entry; called by the collector when
// str is about to be swept (spec §4.3 step 3: "a string unreachable from
// non-weak roots is freed and its interning entry cleared").
func (h *Heap) forgetString(str *String) {
	delete(h.interned, str.Data)
}

// AsString recovers the *String pointed to by v. Caller must have checked
// v.IsObj() and HeaderOf(v).Kind == KindString.
func AsString(v value.Value) *String {
	return (*String)(v.AsObjPtr())
}

// Value boxes s.
func (s *String) Value() value.Value { return ToValue(unsafe.Pointer(s)) }

func (s *String) Len() int { return len(s.Data) }
