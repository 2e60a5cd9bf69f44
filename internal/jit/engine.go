// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package jit

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/probechain/pseudocode/internal/bytecode"
	"github.com/probechain/pseudocode/internal/heap"
	"github.com/probechain/pseudocode/internal/value"
)

// codeCacheBudget bounds how many compiled traces a VM keeps live at once
// (spec §5: "the code cache has a total-size budget; exceeding it triggers
// LRU eviction of traces"). Eviction deoptimizes the trace, which also
// releases its executable page.
const codeCacheBudget = 64

// Engine owns one VM's trace cache (spec §4.6 "compiled traces are cached
// keyed by loop entry"). It is created fresh per VM (internal/vm's
// multi-host discipline forbids package-level singletons), so every cached
// heap.Trace it produces belongs to exactly one heap/collector pair.
type Engine struct {
	entries *lru.Cache // traceKey -> *heap.Trace
	failed  map[traceKey]bool
}

type traceKey struct {
	chunk *bytecode.Chunk
	pc    int
}

func NewEngine() *Engine {
	cache, _ := lru.NewWithEvict(codeCacheBudget, func(_, v interface{}) {
		Deoptimize(v.(*heap.Trace))
	})
	return &Engine{entries: cache, failed: map[traceKey]bool{}}
}

// Lookup returns a previously compiled, still-valid trace for the loop
// headered at (chunk, headerPC), if any, refreshing its LRU recency.
func (e *Engine) Lookup(chunk *bytecode.Chunk, headerPC int) *heap.Trace {
	v, ok := e.entries.Get(traceKey{chunk, headerPC})
	if !ok {
		return nil
	}
	t := v.(*heap.Trace)
	if t.Invalid {
		return nil
	}
	return t
}

// PermanentlyFailed reports whether this loop was already attempted and
// found ineligible, so onLoopBack can skip straight past it on every later
// hot-count hit without re-decoding the bytecode each time.
func (e *Engine) PermanentlyFailed(chunk *bytecode.Chunk, headerPC int) bool {
	return e.failed[traceKey{chunk, headerPC}]
}

// Compile decodes, optimizes, and assembles the loop body running from
// headerPC to loopPC (the OP_LOOP instruction's own offset) into machine
// code, registering a success in the cache and a failure in the failed set,
// so the VM never pays the decode cost twice for the same loop (spec §4.6 "a loop that cannot be
// traced is retried at most once"). version is the globals/classes
// modification counter this trace is only valid against (spec §4.7
// deoptimization: a shape change invalidates every trace compiled before
// it).
func (e *Engine) Compile(h *heap.Heap, chunk *bytecode.Chunk, headerPC, loopPC int, version uint32) *heap.Trace {
	key := traceKey{chunk, headerPC}
	ops, ok := decodeLoopBody(chunk, headerPC, loopPC)
	if !ok {
		e.failed[key] = true
		return nil
	}
	p := buildIR(ops, headerPC, loopPC+3) // OP_LOOP's own 3-byte encoding (op + u16 operand)
	optimize(p)
	if needsInterpreter(p) {
		// IRMod has no inline SSE encoding, and IRDiv's truncating-
		// integer-division-with-DivisionByZero semantics (§9) would need a
		// runtime is-both-operands-integral check the encoder doesn't emit:
		// a raw DIVSD would silently diverge from the interpreter
		// (producing ±Inf instead of raising) on integer division by zero.
		// Both are left to the interpreter entirely rather than risk that
		// divergence.
		e.failed[key] = true
		return nil
	}
	if !guardsExitOnComparisons(p) {
		// The generated guard tests "cond == 0.0", which only matches the
		// interpreter's falsey rule (nil/false, never the number 0) when
		// cond is a comparison's 0/1 result. Anything else would diverge,
		// including a guard folded down to a constant (a native loop with
		// no live exit also can't honor the interrupt flag the
		// interpreter's back edge checks).
		e.failed[key] = true
		return nil
	}
	if !regAllocatable(p) {
		e.failed[key] = true
		return nil
	}
	p.computeUsedSlots()

	code, err := Compile(p)
	if err != nil {
		e.failed[key] = true
		return nil
	}

	t := h.NewTrace(headerPC, version)
	t.IR = p
	t.Code = code
	e.entries.Add(key, t)
	return t
}

func needsInterpreter(p *Program) bool {
	for _, in := range p.Insts {
		if !in.dead && (in.Op == IRMod || in.Op == IRDiv) {
			return true
		}
	}
	return false
}

// guardsExitOnComparisons reports whether the (at least one) live exit
// guards all take their condition from a comparison instruction, whose 0/1
// result is the only value shape the encoder's "exit when cond == 0.0"
// test agrees with the interpreter's falsey rule on.
func guardsExitOnComparisons(p *Program) bool {
	guards := 0
	for _, in := range p.Insts {
		if in.dead || in.Op != IRGuardExit {
			continue
		}
		guards++
		switch p.Insts[resolve(p, in.B)].Op {
		case IRLess, IRGreater, IRLessEqual, IRGreaterEqual, IREqual, IRNotEqual:
		default:
			return false
		}
	}
	return guards > 0
}

// regAllocatable replays the encoder's exact register decisions — a fixed
// round-robin over xmm0-xmm7, destructive two-operand arithmetic, store
// results aliasing the stored value — against each value's last use, and
// reports whether the whole program fits without ever clobbering a value
// that is still needed. Programs that don't fit are left to the
// interpreter; the encoder itself (encoder_amd64.go) never re-checks.
func regAllocatable(p *Program) bool {
	lastUse := make([]int, len(p.Insts))
	for i := range lastUse {
		lastUse[i] = -1
	}
	for i, in := range p.Insts {
		if in.dead {
			continue
		}
		if in.A != noVal {
			lastUse[resolve(p, in.A)] = i
		}
		if in.B != noVal {
			lastUse[resolve(p, in.B)] = i
		}
	}

	regOf := map[int]int{}
	occupant := map[int]int{} // register -> id whose value currently lives there
	next := 0
	ok := true

	// claim mirrors xmmOf/loadImm's round-robin allocation at instruction
	// i; id < 0 claims a scratch register that dies within the instruction.
	// pre marks a claim the encoder performs before reading this
	// instruction's own operands (IRNeg's -1 constant, the guard's zero),
	// where evicting a value still needed at i is already fatal.
	claim := func(i, id int, pre bool) {
		r := next % 8
		next++
		if old, held := occupant[r]; held {
			if lastUse[old] > i || (pre && lastUse[old] == i) {
				ok = false
			}
		}
		if id >= 0 {
			regOf[id] = r
			occupant[r] = id
		} else {
			delete(occupant, r)
		}
	}

	for i, in := range p.Insts {
		if !ok {
			break
		}
		if in.dead {
			continue
		}
		a, b := in.A, in.B
		if a != noVal {
			a = resolve(p, a)
		}
		if b != noVal {
			b = resolve(p, b)
		}
		switch in.Op {
		case IRConst, IRLoad:
			claim(i, i, false)
		case IRStore:
			r, held := regOf[b]
			if !held {
				ok = false
				break
			}
			regOf[i] = r
			if lastUse[i] > lastUse[occupant[r]] {
				occupant[r] = i
			}
		case IRAdd, IRSub, IRMul, IRDiv, IRMod:
			// Destructive: the result overwrites operand A's register.
			r, held := regOf[a]
			if !held {
				ok = false
				break
			}
			if lastUse[occupant[r]] > i {
				ok = false
				break
			}
			regOf[i] = r
			occupant[r] = i
		case IRLess, IRGreater, IRLessEqual, IRGreaterEqual, IREqual, IRNotEqual:
			claim(i, i, false) // result register written after both operand reads
		case IRNeg:
			claim(i, i, true) // the -1 constant is loaded before the operand read
		case IRGuardExit:
			claim(i, -1, true) // the zero scratch is loaded before the condition read
		}
	}
	return ok
}

// Invalidate evicts every cached trace compiled against an older version
// (spec §4.7: "any trace compiled before a shape-changing mutation must
// deoptimize"); the VM calls this whenever a global is (re)declared or a
// class's method table changes shape. Removal runs the cache's eviction
// hook, which deoptimizes the trace.
func (e *Engine) Invalidate(currentVersion uint32) {
	for _, k := range e.entries.Keys() {
		v, ok := e.entries.Peek(k)
		if !ok {
			continue
		}
		if v.(*heap.Trace).Version != currentVersion {
			e.entries.Remove(k)
		}
	}
}

// WalkRoots visits every still-valid trace's heap Value so the collector
// keeps its owning heap.Trace object (and, through it, every constant the
// recorded loop folded in) alive independent of whether the interpreter's
// own roots still reference the chunk that produced it (spec Glossary: a
// trace's code cache is itself a GC root while valid). Peek, not Get: a GC
// pass must not perturb the cache's recency order.
func (e *Engine) WalkRoots(visit func(value.Value)) {
	for _, k := range e.entries.Keys() {
		v, ok := e.entries.Peek(k)
		if !ok {
			continue
		}
		if t := v.(*heap.Trace); !t.Invalid {
			visit(t.Value())
		}
	}
}
