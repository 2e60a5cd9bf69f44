// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package compiler

import (
	"fmt"

	"github.com/probechain/pseudocode/internal/bytecode"
	"github.com/probechain/pseudocode/internal/heap"
	"github.com/probechain/pseudocode/internal/token"
)

// Verify performs the structural checks spec §4.2 requires of any chunk
// before it reaches the interpreter: every opcode is recognized, every
// constant-pool/IC-slot/jump reference lands in bounds, every exception-table
// row is a sane range, and the code ends in a terminating instruction. It
// recurses into every nested function chunk reachable through the constant
// pool, so one call verifies an entire compiled program.
//
// This is deliberately NOT a resource/linear-type checker: the distilled
// language has no linear types (DESIGN.md "Trim audit": lang/types/linear.go
// dropped), so there is nothing here resembling the teacher's move-checking
// pass beyond plain structural well-formedness of the bytecode stream.
func Verify(chunk *bytecode.Chunk) []*Error {
	seen := map[*bytecode.Chunk]bool{}
	var errs []*Error
	var walk func(ch *bytecode.Chunk)
	walk = func(ch *bytecode.Chunk) {
		if seen[ch] {
			return
		}
		seen[ch] = true
		v := &verifier{chunk: ch}
		v.run()
		errs = append(errs, v.errs...)
		for _, c := range ch.Constants {
			if c.IsObj() && heap.HeaderOf(c).Kind == heap.KindFunction {
				walk(heap.AsFunction(c).Chunk)
			}
		}
	}
	walk(chunk)
	return errs
}

type verifier struct {
	chunk *bytecode.Chunk
	errs  []*Error
}

func (v *verifier) fail(format string, args ...interface{}) {
	v.errs = append(v.errs, &Error{
		Pos:      token.Position{File: v.chunk.Name},
		Severity: SeverityError,
		Category: Syntax,
		Msg:      fmt.Sprintf(format, args...),
	})
}

func (v *verifier) run() {
	code := v.chunk.Code
	n := len(code)
	if n == 0 {
		v.fail("chunk %q has no code", v.chunk.Name)
		return
	}

	terminated := false
	i := 0
	for i < n {
		op := bytecode.Op(code[i])
		start := i
		i++

		switch op {
		case bytecode.OpConstant:
			idx := v.u16(code, i, start)
			v.checkConstIndex(idx, start)
			i += 2

		case bytecode.OpLoadLocal, bytecode.OpStoreLocal,
			bytecode.OpLoadUpvalue, bytecode.OpStoreUpvalue:
			i += 2

		case bytecode.OpLoadGlobal, bytecode.OpStoreGlobal:
			idx := v.u16(code, i, start)
			v.checkConstIndex(idx, start)
			i += 2

		case bytecode.OpJump, bytecode.OpJumpIfFalse, bytecode.OpLoop:
			target := v.u16(code, i, start)
			if int(target) > n {
				v.fail("offset %d: jump target %d out of bounds (chunk length %d)", start, target, n)
			}
			i += 2

		case bytecode.OpCall, bytecode.OpTailCall:
			i++ // argc byte

		case bytecode.OpClosure:
			fnIdx := v.u16(code, i, start)
			v.checkConstIndex(fnIdx, start)
			i += 2
			// Each trailing descriptor is (isLocal u8, index u16); the
			// compiler emits exactly the referenced function's own
			// UpvalueCount of these (see function() in statements.go).
			skip := closureUpvalCount(v.chunk, fnIdx)
			for k := 0; k < skip; k++ {
				if i >= n {
					v.fail("offset %d: OP_CLOSURE upvalue descriptor runs past end of chunk", start)
					break
				}
				i++ // isLocal byte
				i += 2
			}

		case bytecode.OpNewArray, bytecode.OpNewDict:
			i += 2

		case bytecode.OpGetField, bytecode.OpSetField:
			nameIdx := v.u16(code, i, start)
			v.checkConstIndex(nameIdx, start)
			icSlot := v.u16(code, i+2, start)
			v.checkICSlot(icSlot, start)
			i += 4

		case bytecode.OpInvoke:
			nameIdx := v.u16(code, i, start)
			v.checkConstIndex(nameIdx, start)
			icSlot := v.u16(code, i+2, start)
			v.checkICSlot(icSlot, start)
			i += 4
			i++ // argc byte

		case bytecode.OpClass, bytecode.OpMethod:
			idx := v.u16(code, i, start)
			v.checkConstIndex(idx, start)
			i += 2

		case bytecode.OpGetSuper:
			nameIdx := v.u16(code, i, start)
			v.checkConstIndex(nameIdx, start)
			icSlot := v.u16(code, i+2, start)
			v.checkICSlot(icSlot, start)
			i += 4

		case bytecode.OpJumpIfPendingReturn, bytecode.OpJumpIfNotPendingReturn:
			target := v.u16(code, i, start)
			if int(target) > n {
				v.fail("offset %d: jump target %d out of bounds (chunk length %d)", start, target, n)
			}
			i += 2

		case bytecode.OpNil, bytecode.OpTrue, bytecode.OpFalse, bytecode.OpPop,
			bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod, bytecode.OpNeg,
			bytecode.OpAddII, bytecode.OpSubII, bytecode.OpMulII,
			bytecode.OpEqual, bytecode.OpNotEqual, bytecode.OpLess, bytecode.OpGreater,
			bytecode.OpLessEqual, bytecode.OpGreaterEqual, bytecode.OpNot,
			bytecode.OpReturn, bytecode.OpCloseUpvalue, bytecode.OpIndexGet, bytecode.OpIndexSet,
			bytecode.OpIndexFastGet, bytecode.OpInherit, bytecode.OpThrow, bytecode.OpPrint,
			bytecode.OpEndFinally, bytecode.OpSetPendingReturn, bytecode.OpPushPendingReturn:
			// no operands

		default:
			v.fail("offset %d: unrecognized opcode %d", start, op)
			return
		}

		if op == bytecode.OpReturn && i == n {
			terminated = true
		}
	}

	if !terminated {
		v.fail("chunk %q does not end in OP_RETURN", v.chunk.Name)
	}

	for idx, ex := range v.chunk.Exception {
		if ex.TryStart < 0 || ex.TryEnd > n || ex.TryStart >= ex.TryEnd {
			v.fail("exception entry %d: invalid try range [%d,%d)", idx, ex.TryStart, ex.TryEnd)
		}
		if ex.HandlerPC >= 0 && ex.HandlerPC > n {
			v.fail("exception entry %d: handler PC %d out of bounds", idx, ex.HandlerPC)
		}
		if ex.FinallyPC >= 0 && ex.FinallyPC > n {
			v.fail("exception entry %d: finally PC %d out of bounds", idx, ex.FinallyPC)
		}
	}
}

func (v *verifier) u16(code []byte, at, instrStart int) uint16 {
	if at+1 >= len(code) {
		v.fail("offset %d: truncated u16 operand", instrStart)
		return 0
	}
	return uint16(code[at])<<8 | uint16(code[at+1])
}

func (v *verifier) checkConstIndex(idx uint16, at int) {
	if int(idx) >= len(v.chunk.Constants) {
		v.fail("offset %d: constant index %d out of bounds (pool size %d)", at, idx, len(v.chunk.Constants))
	}
}

func (v *verifier) checkICSlot(slot uint16, at int) {
	if int(slot) >= v.chunk.NumICSlots {
		v.fail("offset %d: IC slot %d out of bounds (%d slots declared)", at, slot, v.chunk.NumICSlots)
	}
}

// closureUpvalCount reports how many upvalue descriptors follow an
// OP_CLOSURE referencing the function constant at fnIdx: that count is fixed
// at compile time as the referenced heap.Function's own chunk.UpvalueCount.
func closureUpvalCount(chunk *bytecode.Chunk, fnIdx uint16) int {
	if int(fnIdx) >= len(chunk.Constants) {
		return 0
	}
	c := chunk.Constants[fnIdx]
	if !c.IsObj() || heap.HeaderOf(c).Kind != heap.KindFunction {
		return 0
	}
	return heap.AsFunction(c).Chunk.UpvalueCount
}
