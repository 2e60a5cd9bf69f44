// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package jit implements the optional trace-compiling tier of spec §4.6: a
// hot loop's body is decoded into a small IR, optimized by a fixed pipeline
// of passes, and assembled into real x86-64 machine code executed in place
// of the interpreter until a guard fails (spec §4.7 "deoptimization").
//
// Only loops whose body is pure numeric-local arithmetic, comparisons, and
// the loop's own exit test are eligible: anything else (calls, field
// access, allocation, exceptions) is left to the interpreter entirely,
// matching real tracing JITs' "give up on what you don't recognize" posture
// rather than attempting a general-purpose compiler.
package jit

import "github.com/probechain/pseudocode/internal/bytecode"

// opKind is the restricted instruction vocabulary the recorder recognizes
// inside a candidate loop body.
type opKind byte

const (
	opConst opKind = iota
	opLoadLocal
	opStoreLocal
	opAdd
	opSub
	opMul
	opDiv
	opMod
	opNeg
	opLess
	opGreater
	opLessEqual
	opGreaterEqual
	opEqual
	opNotEqual
	opJumpIfFalseExit // the loop's own exit guard: falsey -> leave the loop
)

// rawOp is one decoded bytecode instruction from the loop body, still
// addressed by bytecode offset. decodeLoopBody checks the one branch target
// it accepts; the IR builder does not read target.
type rawOp struct {
	kind   opKind
	slot   int     // OpLoadLocal/OpStoreLocal operand
	imm    float64 // OpConst operand (already decoded from the constant pool)
	offset int     // bytecode offset this instruction started at
	target int     // OpJumpIfFalseExit's jump target, for recognizing "falls through to loop body, jumps out on false"
}

// decodeLoopBody statically decodes chunk's bytecode from headerPC up to (but
// not including) the terminating OP_LOOP at loopPC, the "baseline JIT"
// counterpart to a dynamically recorded trace (spec §4.6 "trace recording"):
// since the loop's bytecode is already fixed at compile time, decoding it
// once ahead of execution captures the same instruction sequence a live
// recording would, without needing to instrument the interpreter's dispatch
// loop itself. Returns ok=false the moment it meets an opcode outside the
// recognized vocabulary, so the caller permanently gives up on this loop.
func decodeLoopBody(chunk *bytecode.Chunk, headerPC, loopPC int) (ops []rawOp, ok bool) {
	pc := headerPC
	for pc < loopPC {
		start := pc
		op := bytecode.Op(chunk.Code[pc])
		pc++
		switch op {
		case bytecode.OpConstant:
			idx := chunk.ReadU16(pc)
			pc += 2
			c := chunk.Constants[idx]
			if !c.IsNumber() {
				return nil, false
			}
			ops = append(ops, rawOp{kind: opConst, imm: c.AsNumber(), offset: start})
		case bytecode.OpLoadLocal:
			slot := chunk.ReadU16(pc)
			pc += 2
			ops = append(ops, rawOp{kind: opLoadLocal, slot: int(slot), offset: start})
		case bytecode.OpStoreLocal:
			slot := chunk.ReadU16(pc)
			pc += 2
			ops = append(ops, rawOp{kind: opStoreLocal, slot: int(slot), offset: start})
		case bytecode.OpPop:
			// A statement-level expression's leftover value; harmless to
			// drop since the IR only tracks named locals.
		case bytecode.OpAdd, bytecode.OpAddII:
			ops = append(ops, rawOp{kind: opAdd, offset: start})
		case bytecode.OpSub, bytecode.OpSubII:
			ops = append(ops, rawOp{kind: opSub, offset: start})
		case bytecode.OpMul, bytecode.OpMulII:
			ops = append(ops, rawOp{kind: opMul, offset: start})
		case bytecode.OpDiv:
			ops = append(ops, rawOp{kind: opDiv, offset: start})
		case bytecode.OpMod:
			ops = append(ops, rawOp{kind: opMod, offset: start})
		case bytecode.OpNeg:
			ops = append(ops, rawOp{kind: opNeg, offset: start})
		case bytecode.OpLess:
			ops = append(ops, rawOp{kind: opLess, offset: start})
		case bytecode.OpGreater:
			ops = append(ops, rawOp{kind: opGreater, offset: start})
		case bytecode.OpLessEqual:
			ops = append(ops, rawOp{kind: opLessEqual, offset: start})
		case bytecode.OpGreaterEqual:
			ops = append(ops, rawOp{kind: opGreaterEqual, offset: start})
		case bytecode.OpEqual:
			ops = append(ops, rawOp{kind: opEqual, offset: start})
		case bytecode.OpNotEqual:
			ops = append(ops, rawOp{kind: opNotEqual, offset: start})
		case bytecode.OpJumpIfFalse:
			target := chunk.ReadU16(pc)
			pc += 2
			// Only recognizable as the loop's own exit test: the compiler
			// patches that jump to the instruction right after OP_LOOP
			// (loopPC + its 3-byte encoding). An internal forward branch
			// (e.g. an `if` inside the loop body) or a branch into some
			// enclosing construct is outside this minimal compiler's
			// vocabulary.
			if int(target) != loopPC+3 {
				return nil, false
			}
			ops = append(ops, rawOp{kind: opJumpIfFalseExit, offset: start, target: int(target)})
		default:
			return nil, false
		}
	}
	return ops, true
}
