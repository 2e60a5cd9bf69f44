// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package jit

import "github.com/probechain/pseudocode/internal/heap"

// Deoptimize permanently retires a compiled trace: it is marked Invalid (so
// Engine.Lookup stops returning it and the VM falls back to interpreting the
// loop it covers) and its executable page is released immediately, since
// nothing may call into it again (spec §4.7 "a deoptimized trace is never
// re-entered; the interpreter resumes at the point the trace would have
// reached").
//
// This tier's deoptimization is deliberately coarse compared to a tracing
// JIT with on-stack replacement mid-loop: a trace only ever hands control
// back to the interpreter at its own exit guard (see CompiledCode.Run),
// never partway through an iteration, so there is no mid-trace register
// state to reconstruct into interpreter locals beyond the register file
// runTrace already copies back in internal/vm/jit.go. A version mismatch or
// a non-numeric local found at trace-entry time (also handled there) is
// every bail-out this tier needs; Deoptimize only needs to handle the
// longer-lived "this trace must never run again" case.
func Deoptimize(t *heap.Trace) {
	if t.Invalid {
		return
	}
	t.Invalid = true
	if cc, ok := t.Code.(*CompiledCode); ok {
		cc.Release()
	}
}
