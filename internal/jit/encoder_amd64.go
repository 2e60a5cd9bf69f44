// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package jit

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

func codeAddr(mem []byte) uintptr {
	return uintptr(unsafe.Pointer(&mem[0]))
}

// encoder assembles a Program into a single straight-line function body
// operating entirely on xmm0-xmm7, spilling nothing: each IR instruction's
// result takes the next register of a round-robin over xmm0-xmm7 (arithmetic
// reuses its first operand's register), which is safe only because
// Engine.Compile has already replayed
// these exact allocation decisions (regAllocatable in engine.go) and bailed
// out of any program where the round-robin would clobber a still-live
// value or overflow the eight registers.
type encoder struct {
	p    *Program
	code []byte
	// regOf maps a (post-resolve) instruction id to the xmm register
	// holding its value.
	regOf map[int]int
	next  int
	// exitFixups are the byte offsets of Jcc rel32 fields that must be
	// patched to point at the tail-end "return to interpreter" stub.
	exitFixups []int
	loopStart  int
}

func newEncoder(p *Program) *encoder {
	return &encoder{p: p, regOf: map[int]int{}}
}

// xmmOf returns the register holding id's value, allocating the next free
// one (round-robin over 0-7) the first time id is produced.
func (e *encoder) xmmOf(id int) int {
	id = resolve(e.p, id)
	if r, ok := e.regOf[id]; ok {
		return r
	}
	r := e.next % 8
	e.next++
	e.regOf[id] = r
	return r
}

// memSlot returns the register-file byte offset (RDI+8*slot) for a local.
func memSlot(slot int) int32 { return int32(8 * slot) }

func (e *encoder) emitProgram() {
	e.loopStart = len(e.code)
	for i, in := range e.p.Insts {
		if in.dead {
			continue
		}
		e.emitInst(i, in)
	}
	// The loop's back edge: control that survived every guard falls
	// through the end of the body and jumps back to the header.
	e.jmpRel32(e.loopStart)
	// Tail: every guard's false-branch lands here and returns to the
	// interpreter via RET; Run's caller (runTrace in internal/vm/jit.go)
	// copies the register file back into the frame's locals and
	// resumes interpretation at p.ExitPC.
	exitLabel := len(e.code)
	for _, off := range e.exitFixups {
		patchRel32(e.code, off, exitLabel)
	}
	e.ret()
}

func (e *encoder) emitInst(id int, in IRInst) {
	switch in.Op {
	case IRConst:
		if in.A != noVal {
			return // a redirect sentinel (strength reduction/CSE alias); nothing to materialize
		}
		e.loadImm(e.xmmOf(id), in.Imm)
	case IRLoad:
		e.movMemToXmm(e.xmmOf(id), memSlot(in.Slot))
	case IRStore:
		src := e.xmmOf(in.B)
		e.movXmmToMem(src, memSlot(in.Slot))
		e.regOf[id] = src // the store's "result" aliases the stored value's register
	case IRAdd:
		e.arith(0x58, id, in) // ADDSD
	case IRSub:
		e.arith(0x5C, id, in) // SUBSD
	case IRMul:
		e.arith(0x59, id, in) // MULSD
	case IRDiv:
		e.arith(0x5E, id, in) // DIVSD
	case IRMod:
		// No SSE remainder instruction; the truncating-int mod and float
		// math.Mod both need a libm-style computation the encoder doesn't
		// inline. Unreachable: Engine.Compile's needsInterpreter check
		// rejects any Program containing IRMod before assembly.
		panic("jit: IRMod has no inline encoding")
	case IRNeg:
		// Negate by multiplying by -1 via a loaded immediate, reusing
		// MULSD so no extra opcode family is needed.
		sign := e.next % 8
		e.next++
		e.loadImm(sign, -1)
		r := e.xmmOf(in.A)
		e.mulsd(sign, r)
		e.regOf[id] = sign
	case IRLess, IRGreater, IRLessEqual, IRGreaterEqual, IREqual, IRNotEqual:
		e.compareToBool(id, in)
	case IRGuardExit:
		e.guardExit(in)
	}
}

// arith emits `opc xmmDst, xmmSrc` (SSE2 scalar double form, 0xF2 0x0F op)
// computing dst = a OP b in place, using a's register as the destination and
// b as the source, matching the two-operand form SSE arithmetic requires.
func (e *encoder) arith(opc byte, id int, in IRInst) {
	a, b := e.xmmOf(in.A), e.xmmOf(in.B)
	e.emitSSE2(opc, a, b)
	e.regOf[id] = a
}

func (e *encoder) mulsd(dst, src int) { e.emitSSE2(0x59, dst, src) }

// emitSSE2 emits an `F2 0F opc /r` scalar-double instruction with dst as the
// ModRM reg field and src as the r/m field (register-direct addressing
// only — this encoder never spills to memory for operands).
func (e *encoder) emitSSE2(opc byte, dst, src int) {
	e.code = append(e.code, 0xF2)
	e.rex(dst, src)
	e.code = append(e.code, 0x0F, opc)
	e.modrmReg(dst, src)
}

// rex emits a REX prefix only when either register index needs the high
// bit (xmm8-15); both operands here are always < 8 so this is a no-op in
// practice, kept for encoder correctness if xmmOf's round-robin range were
// ever widened.
func (e *encoder) rex(dst, src int) {
	r := byte(0x40)
	if dst >= 8 {
		r |= 0x04
	}
	if src >= 8 {
		r |= 0x01
	}
	if r != 0x40 {
		e.code = append(e.code, r)
	}
}

func (e *encoder) modrmReg(reg, rm int) {
	e.code = append(e.code, 0xC0|byte(reg&7)<<3|byte(rm&7))
}

// movMemToXmm emits `MOVSD xmm, [rdi+disp32]` (F2 0F 10 /r).
func (e *encoder) movMemToXmm(dst int, disp int32) {
	e.code = append(e.code, 0xF2, 0x0F, 0x10)
	e.modrmDisp32(dst, 7 /* RDI */, disp)
}

// movXmmToMem emits `MOVSD [rdi+disp32], xmm` (F2 0F 11 /r).
func (e *encoder) movXmmToMem(src int, disp int32) {
	e.code = append(e.code, 0xF2, 0x0F, 0x11)
	e.modrmDisp32(src, 7, disp)
}

func (e *encoder) modrmDisp32(reg, rm int, disp int32) {
	e.code = append(e.code, 0x80|byte(reg&7)<<3|byte(rm&7))
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(disp))
	e.code = append(e.code, b[:]...)
}

// loadImm materializes an immediate into an xmm register: MOVQ the raw
// bits into a scratch GP register (RAX) via MOVABS, then MOVQ GP->xmm.
func (e *encoder) loadImm(dst int, v float64) {
	bits := math.Float64bits(v)
	// MOVABS RAX, imm64 (48 B8 + 8 bytes)
	e.code = append(e.code, 0x48, 0xB8)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], bits)
	e.code = append(e.code, b[:]...)
	// MOVQ xmm(dst), RAX (66 48 0F 6E /r)
	e.code = append(e.code, 0x66, 0x48, 0x0F, 0x6E)
	e.modrmReg(dst, 0 /* RAX */)
}

// compareToBool emits UCOMISD then SETcc into AL, then converts to a 0.0/1.0
// float via CVTSI2SD, so comparison results live in the same xmm-register
// value space as every other IR result.
//
// NaN handling must match the interpreter's IEEE semantics: every ordered
// comparison with a NaN operand is false, and != with one is true. UCOMISD
// reports "unordered" as CF=ZF=PF=1, so the inequalities use the above-family
// conditions (SETA/SETAE test CF, which unordered sets) with the operand
// order swapped for < and <=, and ==/!= fold the parity flag in explicitly.
func (e *encoder) compareToBool(id int, in IRInst) {
	a, b := e.xmmOf(in.A), e.xmmOf(in.B)

	ucomisd := func(x, y int) {
		// UCOMISD xmm_x, xmm_y (66 0F 2E /r)
		e.code = append(e.code, 0x66, 0x0F, 0x2E)
		e.modrmReg(x, y)
	}
	setcc := func(opc byte, rm byte) {
		e.code = append(e.code, 0x0F, opc, 0xC0|rm)
	}

	switch in.Op {
	case IRLess: // a < b  ==  b > a
		ucomisd(b, a)
		setcc(0x97, 0) // SETA AL; unordered -> false
	case IRLessEqual: // a <= b  ==  b >= a
		ucomisd(b, a)
		setcc(0x93, 0) // SETAE AL
	case IRGreater:
		ucomisd(a, b)
		setcc(0x97, 0)
	case IRGreaterEqual:
		ucomisd(a, b)
		setcc(0x93, 0)
	case IREqual:
		ucomisd(a, b)
		setcc(0x94, 0)                       // SETE AL (true on unordered too)
		setcc(0x9B, 1)                       // SETNP CL (false on unordered)
		e.code = append(e.code, 0x20, 0xC8) // AND AL, CL
	case IRNotEqual:
		ucomisd(a, b)
		setcc(0x95, 0)                       // SETNE AL (false on unordered)
		setcc(0x9A, 1)                       // SETP CL (true on unordered)
		e.code = append(e.code, 0x08, 0xC8) // OR AL, CL
	}
	// MOVZX EAX, AL (0F B6 C0)
	e.code = append(e.code, 0x0F, 0xB6, 0xC0)
	r := e.xmmOf(id)
	// CVTSI2SD xmm(r), EAX (F2 0F 2A /r)
	e.code = append(e.code, 0xF2, 0x0F, 0x2A)
	e.modrmReg(r, 0)
}

// guardExit emits: if cond is falsey (== 0.0), jump to the exit stub;
// otherwise fall through into whatever follows — the rest of the body for
// a head-tested `while`/`for` loop, or directly into the back edge that
// emitProgram appends after the last instruction.
func (e *encoder) guardExit(in IRInst) {
	cond := e.xmmOf(in.B)
	zero := e.next % 8
	e.next++
	e.loadImm(zero, 0)
	e.code = append(e.code, 0x66, 0x0F, 0x2E) // UCOMISD
	e.modrmReg(cond, zero)
	// JE rel32 (0F 84) to the exit stub, recorded for later fixup.
	e.code = append(e.code, 0x0F, 0x84)
	e.exitFixups = append(e.exitFixups, len(e.code))
	e.code = append(e.code, 0, 0, 0, 0)
}

func (e *encoder) jmpRel32(target int) {
	e.code = append(e.code, 0xE9)
	off := len(e.code)
	e.code = append(e.code, 0, 0, 0, 0)
	patchRel32(e.code, off, target)
}

func patchRel32(code []byte, fixupOffset, target int) {
	rel := int32(target - (fixupOffset + 4))
	binary.LittleEndian.PutUint32(code[fixupOffset:], uint32(rel))
}

func (e *encoder) ret() { e.code = append(e.code, 0xC3) }

func (e *encoder) finish() ([]byte, error) {
	if len(e.code) == 0 {
		return nil, fmt.Errorf("jit: empty program")
	}
	return e.code, nil
}
