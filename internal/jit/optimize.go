// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package jit

import "math"

// optimize runs the fixed pipeline of passes spec §4.6 calls for, in the
// order a value has to pass through them to benefit (folding constants
// before CSE can recognize duplicates of the folded result, etc). Each pass
// mutates p.Insts in place; none of them change instruction count (dead
// instructions are marked, not removed) so earlier-computed ids stay valid
// operand references for later instructions.
func optimize(p *Program) {
	constantFold(p)
	copyPropagate(p)
	commonSubexprElim(p)
	strengthReduce(p)
	redundantGuardElim(p)
	deadCodeElim(p)
}

func isBinary(op IROp) bool {
	switch op {
	case IRAdd, IRSub, IRMul, IRDiv, IRMod, IRLess, IRGreater, IRLessEqual, IRGreaterEqual, IREqual, IRNotEqual:
		return true
	}
	return false
}

// resolve follows a dead, folded-away instruction to the live one that
// replaced it (constantFold and copyPropagate rewrite in place instead of
// redirecting references, so this is normally a single step, but CSE can
// chain a second step on top of a fold).
func resolve(p *Program, id int) int {
	for p.Insts[id].dead && p.Insts[id].Op == IRConst && p.Insts[id].A != noVal {
		id = p.Insts[id].A
	}
	return id
}

// constantFold evaluates a binary op whose both operands are already
// IRConst at compile time, replacing it with an IRConst carrying the folded
// value (spec §9's arithmetic/comparison semantics, reused verbatim from the
// interpreter's own truncating-division rule for two integral operands).
func constantFold(p *Program) {
	for i := range p.Insts {
		in := &p.Insts[i]
		if !isBinary(in.Op) || in.dead {
			continue
		}
		a, b := &p.Insts[in.A], &p.Insts[in.B]
		if a.Op != IRConst || b.Op != IRConst || a.dead || b.dead {
			continue
		}
		v, ok := foldConst(in.Op, a.Imm, b.Imm)
		if !ok {
			continue // e.g. integer division by zero: leave for the guard/deopt path to raise at runtime
		}
		*in = IRInst{Op: IRConst, A: noVal, B: noVal, Imm: v}
	}
}

func foldConst(op IROp, a, b float64) (float64, bool) {
	switch op {
	case IRAdd:
		return a + b, true
	case IRSub:
		return a - b, true
	case IRMul:
		return a * b, true
	case IRDiv:
		if isIntF(a) && isIntF(b) {
			if b == 0 {
				return 0, false
			}
			return float64(int64(a) / int64(b)), true
		}
		return a / b, true
	case IRMod:
		if isIntF(a) && isIntF(b) {
			if b == 0 {
				return 0, false
			}
			return float64(int64(a) % int64(b)), true
		}
		return math.Mod(a, b), true
	case IRLess:
		return boolF(a < b), true
	case IRGreater:
		return boolF(a > b), true
	case IRLessEqual:
		return boolF(a <= b), true
	case IRGreaterEqual:
		return boolF(a >= b), true
	case IREqual:
		return boolF(a == b), true
	case IRNotEqual:
		return boolF(a != b), true
	}
	return 0, false
}

func isIntF(f float64) bool { return f == float64(int64(f)) }
func boolF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// copyPropagate replaces a load that is immediately answered by the last
// store to the same slot with a direct reference to the stored value,
// letting later passes see through the slot entirely. buildIR's local
// value-numbering already avoids reloading slots within a single straight-
// line scan, so in practice this pass's remaining job is collapsing an
// IRStore's own result (which carries the stored value forward per spec's
// "assignment is an expression") down to that value directly wherever
// something reads the store's result rather than the slot.
func copyPropagate(p *Program) {
	for i := range p.Insts {
		in := &p.Insts[i]
		if in.dead {
			continue
		}
		if in.A != noVal {
			if t := &p.Insts[in.A]; t.Op == IRStore {
				in.A = t.B
			}
		}
		if in.B != noVal {
			if t := &p.Insts[in.B]; t.Op == IRStore {
				in.B = t.B
			}
		}
	}
}

// commonSubexprElim dedupes identical (op, a, b, slot, imm) pure instructions,
// pointing every later reference at the first computation and marking the
// rest dead.
func commonSubexprElim(p *Program) {
	type key struct {
		op   IROp
		a, b int
		slot int
		imm  float64
	}
	seen := map[key]int{}
	for i := range p.Insts {
		in := &p.Insts[i]
		if in.dead || in.Op == IRStore || in.Op == IRGuardExit {
			continue // side-effecting or slot-mutating: never dedupe
		}
		k := key{in.Op, in.A, in.B, in.Slot, in.Imm}
		if first, ok := seen[k]; ok {
			in.dead = true
			in.Op = IRConst // resolve() tolerance: rewritten as a redirect below
			in.A = first
			continue
		}
		seen[k] = i
	}
	// Rewrite references to deduped instructions onto their surviving
	// original, following resolve() chains.
	for i := range p.Insts {
		in := &p.Insts[i]
		if in.A != noVal {
			in.A = resolve(p, in.A)
		}
		if in.B != noVal {
			in.B = resolve(p, in.B)
		}
	}
}

// strengthReduce rewrites multiplication by small integer constants into
// cheaper shift/add-equivalent forms the code generator can special-case
// (x*2 -> x+x), and division/multiplication by 1 into the identity.
func strengthReduce(p *Program) {
	for i := range p.Insts {
		in := &p.Insts[i]
		if in.dead {
			continue
		}
		switch in.Op {
		case IRMul:
			if c, id, ok := constOperand(p, in); ok {
				if c == 2 {
					*in = IRInst{Op: IRAdd, A: id, B: id}
				} else if c == 1 {
					redirectToOperand(p, in, id)
				} else if c == 0 {
					*in = IRInst{Op: IRConst, A: noVal, B: noVal, Imm: 0}
				}
			}
		case IRDiv:
			if c, id, ok := constDivisor(p, in); ok && c == 1 {
				redirectToOperand(p, in, id)
			}
		}
	}
}

// constOperand reports whether in (a commutative binary op) has exactly one
// IRConst operand, returning that constant and the other operand's id.
func constOperand(p *Program, in *IRInst) (c float64, other int, ok bool) {
	a, b := p.Insts[in.A], p.Insts[in.B]
	if a.Op == IRConst && !a.dead {
		return a.Imm, in.B, true
	}
	if b.Op == IRConst && !b.dead {
		return b.Imm, in.A, true
	}
	return 0, 0, false
}

// constDivisor reports whether in's right-hand (divisor) operand is a
// constant.
func constDivisor(p *Program, in *IRInst) (c float64, other int, ok bool) {
	b := p.Insts[in.B]
	if b.Op == IRConst && !b.dead {
		return b.Imm, in.A, true
	}
	return 0, 0, false
}

// redirectToOperand turns in into a dead alias of id (an identity
// simplification, e.g. `x*1` or `x/1`); resolve() follows it at codegen/CSE
// time.
func redirectToOperand(p *Program, in *IRInst, id int) {
	*in = IRInst{Op: IRConst, A: id, B: noVal, dead: true}
}

// redundantGuardElim merges consecutive identical loop-exit guards (a guard
// re-derived from an already-proven condition, e.g. a redundant bounds check
// hoisted by an earlier pass) down to the first occurrence.
func redundantGuardElim(p *Program) {
	lastGuardCond := -1
	for i := range p.Insts {
		in := &p.Insts[i]
		if in.dead || in.Op != IRGuardExit {
			continue
		}
		cond := resolve(p, in.B)
		if cond == lastGuardCond {
			in.dead = true
			continue
		}
		lastGuardCond = cond
	}
}

// deadCodeElim marks every instruction that is neither a store, a guard, nor
// transitively referenced by one of those as dead, so codegen can skip it.
func deadCodeElim(p *Program) {
	live := make([]bool, len(p.Insts))
	var mark func(id int)
	mark = func(id int) {
		if id == noVal || live[id] {
			return
		}
		live[id] = true
		in := p.Insts[id]
		if in.A != noVal {
			mark(resolve(p, in.A))
		}
		if in.B != noVal {
			mark(resolve(p, in.B))
		}
	}
	for i, in := range p.Insts {
		if in.Op == IRStore || in.Op == IRGuardExit {
			live[i] = true
			if in.A != noVal {
				mark(resolve(p, in.A))
			}
			if in.B != noVal {
				mark(resolve(p, in.B))
			}
		}
	}
	for i := range p.Insts {
		if !live[i] {
			p.Insts[i].dead = true
		}
	}
}
