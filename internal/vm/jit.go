// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"github.com/probechain/pseudocode/internal/heap"
	"github.com/probechain/pseudocode/internal/jit"
	"github.com/probechain/pseudocode/internal/value"
)

// hotThreshold is the number of times a loop's back edge must be taken
// before it is considered worth compiling (spec §4.6: "crossing a
// threshold (configurable, default ~50) initiates recording").
const hotThreshold = 50

// onLoopBack runs once per OP_LOOP back edge, with f.pc already reset to the
// loop header: it counts hotness, compiles the loop body on the iteration it
// crosses hotThreshold, and — once a trace exists — runs it directly instead
// of letting the interpreter step through the loop body one bytecode at a
// time. loopPC is the OP_LOOP instruction's own offset, decodeLoopBody's
// upper bound.
func (vm *VM) onLoopBack(f *frame, loopPC int) {
	if !vm.jitEnabled || vm.jitEngine == nil {
		return
	}
	chunk := f.chunk()

	if t := vm.jitEngine.Lookup(chunk, f.pc); t != nil {
		vm.runTrace(f, t)
		return
	}
	if vm.jitEngine.PermanentlyFailed(chunk, f.pc) {
		return
	}

	key := hotKey{chunk, f.pc}
	vm.hotCounts[key]++
	if vm.hotCounts[key] < hotThreshold {
		return
	}

	t := vm.jitEngine.Compile(vm.heap, chunk, f.pc, loopPC, vm.globalsVersion)
	if t == nil {
		return // ineligible loop body or encoder bailout; interpreted forever after this
	}
	vm.runTrace(f, t)
}

// runTrace bridges the interpreter's Value-typed locals to the compiled
// trace's flat float64 register file and back (spec §4.6/§4.7): every local
// slot the trace actually touches must currently hold a number, or the call
// bails out to ordinary interpretation for this iteration without ever
// having entered machine code. A version mismatch (spec §4.7 "a
// shape-changing mutation deoptimizes every trace compiled before it") is
// caught the same way.
func (vm *VM) runTrace(f *frame, t *heap.Trace) {
	if t.Invalid || t.Version != vm.globalsVersion {
		return
	}
	code, ok := t.Code.(*jit.CompiledCode)
	if !ok || code.NumSlots == 0 {
		return
	}

	regs := make([]float64, code.NumSlots)
	for i := range regs {
		if !code.Used[i] {
			continue // untouched by the generated code; slot 0's closure lands here
		}
		idx := f.basePtr + i
		if idx >= len(vm.stack) {
			return
		}
		v := vm.stack[idx]
		if !v.IsNumber() {
			return
		}
		regs[i] = v.AsNumber()
	}

	code.Run(regs)

	for i, r := range regs {
		if code.Used[i] {
			vm.stack[f.basePtr+i] = value.Number(r)
		}
	}
	// The trace left through its exit guard, whose condition the
	// interpreter would have just peeked falsey at OP_JUMP_IF_FALSE: that
	// condition is a comparison result (Engine.Compile rejects anything
	// else), so pure interpretation would have `false` on the stack at the
	// exit target, about to be popped there.
	vm.push(value.False)
	f.pc = code.ExitPC
}
