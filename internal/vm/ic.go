// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"github.com/probechain/pseudocode/internal/bytecode"
	"github.com/probechain/pseudocode/internal/heap"
)

// polyLimit is the number of distinct shapes a polymorphic IC holds before
// degrading to megamorphic (spec §4.5: "up to 4 ... the fifth miss degrades
// the cache to megamorphic").
const polyLimit = 4

// icEntry is one resolved {shape, offset/method} pair, tagged with the
// class version it was resolved at (spec §4.5 "any IC carrying an older
// version is treated as empty").
type icEntry struct {
	class   *heap.Class
	version uint32
	slot    int           // valid for GET_FIELD/SET_FIELD
	method  *heap.Closure // valid for INVOKE/GET_SUPER
}

func (e icEntry) stale(class *heap.Class) bool {
	return e.class != class || e.version != class.Version
}

// icSite is the cache state at one GET_FIELD/SET_FIELD/INVOKE/GET_SUPER
// call site. Entries accumulate as new shapes are seen; once the site would
// exceed polyLimit it is marked megamorphic and always falls back to the
// hash lookup (spec §4.5).
type icSite struct {
	entries []icEntry
	mega    bool
}

func (s *icSite) lookup(class *heap.Class) (icEntry, bool) {
	if s.mega {
		return icEntry{}, false
	}
	for _, e := range s.entries {
		if !e.stale(class) {
			return e, true
		}
	}
	return icEntry{}, false
}

func (s *icSite) record(e icEntry) {
	if s.mega {
		return
	}
	// Refresh a stale entry for the same class in place, rather than
	// growing without bound when one shape's fields churn.
	for i, existing := range s.entries {
		if existing.class == e.class {
			s.entries[i] = e
			return
		}
	}
	if len(s.entries) >= polyLimit {
		s.mega = true
		s.entries = nil
		return
	}
	s.entries = append(s.entries, e)
}

// icTable owns the per-site cache state for every chunk the VM has executed
// an IC-bearing instruction from. Caches are keyed on the *bytecode.Chunk so
// that every closure compiled from the same function body shares one cache,
// matching the fact that ICs are a property of the bytecode site, not of any
// one call's frame.
type icTable struct {
	byChunk map[*bytecode.Chunk][]icSite
}

func newICTable() *icTable { return &icTable{byChunk: make(map[*bytecode.Chunk][]icSite)} }

func (t *icTable) site(chunk *bytecode.Chunk, slot uint16) *icSite {
	sites, ok := t.byChunk[chunk]
	if !ok || len(sites) < chunk.NumICSlots {
		grown := make([]icSite, chunk.NumICSlots)
		copy(grown, sites)
		sites = grown
		t.byChunk[chunk] = sites
	}
	return &t.byChunk[chunk][slot]
}
