// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package heap

import "github.com/probechain/pseudocode/internal/value"

// StructuralEqual implements the language-level `==` (spec §3: "String
// interning guarantees pointer equality ⇔ content equality; other equality
// uses structural comparison"): numbers, booleans, and nil compare by
// value, strings by interned pointer, arrays element-wise, and dicts
// key-by-key. Instances, classes, and callables compare by identity — two
// separately constructed instances are distinct objects even when their
// fields currently coincide (see DESIGN.md, Open Question decisions).
func StructuralEqual(a, b value.Value) bool {
	return structuralEqual(a, b, nil)
}

// objPair tracks an (a, b) comparison already in progress further up the
// recursion, so self-referential containers terminate instead of looping.
type objPair struct {
	a, b *Object
}

func structuralEqual(a, b value.Value, seen map[objPair]bool) bool {
	if !a.IsObj() || !b.IsObj() {
		return value.Equal(a, b)
	}
	ha, hb := HeaderOf(a), HeaderOf(b)
	if ha == hb {
		return true // same object; interned strings always resolve here
	}
	if ha.Kind != hb.Kind {
		return false
	}

	switch ha.Kind {
	case KindArray:
		x, y := AsArray(a), AsArray(b)
		if x.Len() != y.Len() {
			return false
		}
		pair := objPair{ha, hb}
		if seen[pair] {
			return true
		}
		if seen == nil {
			seen = map[objPair]bool{}
		}
		seen[pair] = true
		for i, ev := range x.Elems {
			if !structuralEqual(ev, y.Elems[i], seen) {
				return false
			}
		}
		return true

	case KindDict:
		x, y := AsDict(a), AsDict(b)
		if x.Len() != y.Len() {
			return false
		}
		pair := objPair{ha, hb}
		if seen[pair] {
			return true
		}
		if seen == nil {
			seen = map[objPair]bool{}
		}
		seen[pair] = true
		// Keys are matched through the table's own lookup (interned
		// strings, numbers, booleans); structural comparison applies to
		// the values.
		equal := true
		x.Range(func(k, v value.Value) {
			if !equal {
				return
			}
			w, ok := y.Get(k)
			if !ok || !structuralEqual(v, w, seen) {
				equal = false
			}
		})
		return equal

	default:
		// Distinct strings have distinct content (interning), and
		// instances/classes/functions compare by identity.
		return false
	}
}
