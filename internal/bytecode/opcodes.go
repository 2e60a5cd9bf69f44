// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package bytecode defines the compiled representation the compiler emits
// and the interpreter executes: the opcode set, the per-function Chunk, and
// the exception table (spec §4.2, §4.4).
package bytecode

// Op is a single bytecode instruction opcode. Operands, when present,
// follow as one or more uint16 words (see Chunk.Code encoding in chunk.go).
type Op byte

const (
	OpConstant Op = iota // u16 const index -> push

	OpNil
	OpTrue
	OpFalse
	OpPop

	OpLoadLocal  // u16 slot
	OpStoreLocal // u16 slot
	OpLoadGlobal // u16 name-const index
	OpStoreGlobal
	OpLoadUpvalue // u16 upvalue index
	OpStoreUpvalue

	// Arithmetic — dynamically dispatched by operand tag.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg

	// Integer-specialized forms. The interpreter and the JIT decoder handle
	// them, but the compiler never emits them.
	OpAddII
	OpSubII
	OpMulII

	// Comparison.
	OpEqual
	OpNotEqual
	OpLess
	OpGreater
	OpLessEqual
	OpGreaterEqual

	OpNot // `and`/`or` short-circuit via OpJumpIfFalse/OpJump around the
	      // surviving operand (spec §4.2) rather than a dedicated opcode

	// Control flow.
	OpJump         // u16 absolute target
	OpJumpIfFalse  // u16 absolute target; peeks condition (the compiler emits the POPs)
	OpLoop         // u16 absolute target (backward); marks a trace anchor
	OpCall         // u8 argc
	OpTailCall     // u8 argc
	OpReturn
	OpClosure // u16 function-const index, followed by (isLocal u8, index u16) pairs
	OpCloseUpvalue

	// Objects.
	OpNewArray    // u16 element count
	OpNewDict     // u16 pair count
	OpIndexGet
	OpIndexSet
	OpIndexFastGet // bounds check elided; compiler proved int index + array type
	OpGetField     // u16 name-const index, u16 IC slot
	OpSetField     // u16 name-const index, u16 IC slot
	OpInvoke       // u16 name-const index, u8 argc, u16 IC slot
	OpClass        // u16 name-const index
	OpMethod       // u16 name-const index
	OpInherit
	OpGetSuper // u16 name-const index, u16 IC slot

	// Exceptions.
	OpThrow

	// OpEndFinally marks the bytecode position right after a compiled
	// `finally` block. On the ordinary fall-through/catch path it is a
	// no-op; the interpreter also uses it as the resumption point after
	// synthetically entering a finally block while unwinding an exception
	// that the enclosing try has no catch for (spec §4.4 "finally_pc ...
	// entered before the handler search continues").
	OpEndFinally

	// OpSetPendingReturn/OpPushPendingReturn/OpJumpIfPendingReturn/
	// OpJumpIfNotPendingReturn implement `return` from inside a try body:
	// the single-pass compiler cannot know, at the return site, the offset
	// of the enclosing try's finally block (it hasn't been parsed yet), so
	// it defers the actual OP_RETURN behind these, letting the finally run
	// first (spec §8 invariant 8: "finally blocks execute exactly once ...
	// regardless of whether control leaves by fall-through, return, or
	// exception").
	OpSetPendingReturn
	OpPushPendingReturn
	OpJumpIfPendingReturn
	OpJumpIfNotPendingReturn

	OpPrint // print + pop; handled by the interpreter but never emitted by the compiler, which compiles print(...) as a CALL of the `print` builtin
)

var opNames = [...]string{
	OpConstant: "CONSTANT", OpNil: "NIL", OpTrue: "TRUE", OpFalse: "FALSE", OpPop: "POP",
	OpLoadLocal: "LOAD_LOCAL", OpStoreLocal: "STORE_LOCAL",
	OpLoadGlobal: "LOAD_GLOBAL", OpStoreGlobal: "STORE_GLOBAL",
	OpLoadUpvalue: "LOAD_UPVALUE", OpStoreUpvalue: "STORE_UPVALUE",
	OpAdd: "ADD", OpSub: "SUB", OpMul: "MUL", OpDiv: "DIV", OpMod: "MOD", OpNeg: "NEG",
	OpAddII: "ADD_II", OpSubII: "SUB_II", OpMulII: "MUL_II",
	OpEqual: "EQUAL", OpNotEqual: "NOT_EQUAL", OpLess: "LESS", OpGreater: "GREATER",
	OpLessEqual: "LESS_EQUAL", OpGreaterEqual: "GREATER_EQUAL",
	OpNot: "NOT",
	OpJump: "JUMP", OpJumpIfFalse: "JUMP_IF_FALSE", OpLoop: "LOOP",
	OpCall: "CALL", OpTailCall: "TAIL_CALL", OpReturn: "RETURN",
	OpClosure: "CLOSURE", OpCloseUpvalue: "CLOSE_UPVALUE",
	OpNewArray: "NEW_ARRAY", OpNewDict: "NEW_DICT",
	OpIndexGet: "INDEX_GET", OpIndexSet: "INDEX_SET", OpIndexFastGet: "INDEX_FAST_GET",
	OpGetField: "GET_FIELD", OpSetField: "SET_FIELD", OpInvoke: "INVOKE",
	OpClass: "CLASS", OpMethod: "METHOD", OpInherit: "INHERIT", OpGetSuper: "GET_SUPER",
	OpThrow: "THROW", OpEndFinally: "END_FINALLY",
	OpSetPendingReturn: "SET_PENDING_RETURN", OpPushPendingReturn: "PUSH_PENDING_RETURN",
	OpJumpIfPendingReturn: "JUMP_IF_PENDING_RETURN", OpJumpIfNotPendingReturn: "JUMP_IF_NOT_PENDING_RETURN",
	OpPrint: "PRINT",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "UNKNOWN"
}

// OperandWidths gives the number of u16 operand words following each
// opcode that takes fixed-width operands (OpClosure's trailing upvalue
// descriptors are variable-width and handled specially by the disassembler
// and interpreter).
var OperandWidths = map[Op]int{
	OpConstant: 1, OpLoadLocal: 1, OpStoreLocal: 1,
	OpLoadGlobal: 1, OpStoreGlobal: 1, OpLoadUpvalue: 1, OpStoreUpvalue: 1,
	OpJump: 1, OpJumpIfFalse: 1, OpLoop: 1,
	OpClosure: 1, // plus variable upvalue descriptors, read separately
	OpNewArray: 1, OpNewDict: 1,
	OpGetField: 2, OpSetField: 2, OpInvoke: 2, // name-const + IC slot (+argc byte for Invoke, see OpInvoke above)
	OpClass: 1, OpMethod: 1, OpGetSuper: 2,
	OpJumpIfPendingReturn: 1, OpJumpIfNotPendingReturn: 1,
}
