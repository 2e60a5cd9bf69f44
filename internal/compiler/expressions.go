// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package compiler

import (
	"github.com/probechain/pseudocode/internal/bytecode"
	"github.com/probechain/pseudocode/internal/heap"
	"github.com/probechain/pseudocode/internal/token"
	"github.com/probechain/pseudocode/internal/value"
)

func asFoldableString(v value.Value) (string, bool) {
	if heap.HeaderOf(v).Kind != heap.KindString {
		return "", false
	}
	return heap.AsString(v).Data, true
}

func (c *Compiler) buildRules() {
	c.rules = map[token.Kind]rule{
		token.LPAREN:   {prefix: grouping, infix: call, precedence: precCall},
		token.LBRACKET: {prefix: arrayLiteral, infix: index, precedence: precCall},
		token.LBRACE:   {prefix: dictLiteral},
		token.DOT:      {infix: dot, precedence: precCall},
		token.MINUS:    {prefix: unary, infix: binary, precedence: precTerm},
		token.PLUS:     {infix: binary, precedence: precTerm},
		token.SLASH:    {infix: binary, precedence: precFactor},
		token.STAR:     {infix: binary, precedence: precFactor},
		token.PERCENT:  {infix: binary, precedence: precFactor},
		token.NOT:      {prefix: unary},
		token.NEQ:      {infix: binary, precedence: precEquality},
		token.EQ:       {infix: binary, precedence: precEquality},
		token.LT:       {infix: binary, precedence: precComparison},
		token.GT:       {infix: binary, precedence: precComparison},
		token.LE:       {infix: binary, precedence: precComparison},
		token.GE:       {infix: binary, precedence: precComparison},
		token.AND:      {infix: and_, precedence: precAnd},
		token.OR:       {infix: or_, precedence: precOr},
		token.INT:      {prefix: number},
		token.FLOAT:    {prefix: number},
		token.STRING:   {prefix: stringLit},
		token.TRUE:     {prefix: literal},
		token.FALSE:    {prefix: literal},
		token.NIL:      {prefix: literal},
		token.IDENT:    {prefix: variable},
		token.SELF:     {prefix: self_},
		token.SUPER:    {prefix: super_},
	}
}

func (c *Compiler) getRule(k token.Kind) rule { return c.rules[k] }

func (c *Compiler) expression() { c.parsePrecedence(precAssignment) }

func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	rule := c.getRule(c.prev.Kind)
	if rule.prefix == nil {
		c.errorAt(c.prev.Pos, Syntax, "expected an expression")
		return
	}
	canAssign := prec <= precAssignment
	rule.prefix(c, canAssign)

	for prec <= c.getRule(c.cur.Kind).precedence {
		c.advance()
		infix := c.getRule(c.prev.Kind).infix
		infix(c, canAssign)
	}

	if canAssign && c.match(token.ASSIGN) {
		c.errorAt(c.prev.Pos, Syntax, "invalid assignment target")
	}
}

func number(c *Compiler, _ bool) {
	c.emitConstant(value.Number(float(c.prev.Lexeme)))
}

func stringLit(c *Compiler, _ bool) {
	c.emitConstant(c.heap.Intern(c.prev.Lexeme).Value())
}

func literal(c *Compiler, _ bool) {
	switch c.prev.Kind {
	case token.TRUE:
		c.emit(bytecode.OpTrue)
	case token.FALSE:
		c.emit(bytecode.OpFalse)
	case token.NIL:
		c.emit(bytecode.OpNil)
	}
}

func grouping(c *Compiler, _ bool) {
	c.expression()
	c.consume(token.RPAREN, "expected ')' after expression")
}

func unary(c *Compiler, _ bool) {
	op := c.prev.Kind
	c.parsePrecedence(precUnary)
	switch op {
	case token.MINUS:
		c.emit(bytecode.OpNeg)
	case token.NOT:
		c.emit(bytecode.OpNot)
	}
}

var binaryOps = map[token.Kind]bytecode.Op{
	token.PLUS: bytecode.OpAdd, token.MINUS: bytecode.OpSub,
	token.STAR: bytecode.OpMul, token.SLASH: bytecode.OpDiv, token.PERCENT: bytecode.OpMod,
	token.EQ: bytecode.OpEqual, token.NEQ: bytecode.OpNotEqual,
	token.LT: bytecode.OpLess, token.GT: bytecode.OpGreater,
	token.LE: bytecode.OpLessEqual, token.GE: bytecode.OpGreaterEqual,
}

func binary(c *Compiler, _ bool) {
	opTok := c.prev.Kind
	rule := c.getRule(opTok)
	c.parsePrecedence(rule.precedence + 1)
	op := binaryOps[opTok]
	c.emit(op)
	c.tryFoldBinary(op)
}

// and_ and or_ implement short-circuit evaluation via conditional branches
// that leave the surviving operand on the stack (spec §4.2): no dedicated
// AND/OR opcode exists, so there is no adjacent jump-fusion peephole that
// could accidentally consume the result these jumps are built to preserve.
func and_(c *Compiler, _ bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emit(bytecode.OpPop)
	c.parsePrecedence(precAnd + 1)
	c.patchJump(endJump)
}

func or_(c *Compiler, _ bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)
	c.emit(bytecode.OpPop)
	c.parsePrecedence(precOr + 1)
	c.patchJump(endJump)
}

func call(c *Compiler, _ bool) {
	argc := c.argumentList()
	c.lastCallChunk = c.chunk()
	c.lastCallOffset = c.chunk().Len()
	c.emit(bytecode.OpCall)
	c.emitByte(byte(argc))
}

func (c *Compiler) argumentList() int {
	argc := 0
	if !c.check(token.RPAREN) {
		for {
			c.expression()
			argc++
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	c.consume(token.RPAREN, "expected ')' after arguments")
	return argc
}

func index(c *Compiler, canAssign bool) {
	c.expression()
	c.consume(token.RBRACKET, "expected ']' after index")
	if canAssign && c.match(token.ASSIGN) {
		c.expression()
		c.emit(bytecode.OpIndexSet)
		return
	}
	c.emit(bytecode.OpIndexGet)
}

// dot compiles `.name`, `.name = value`, and `.name(args)` (method
// invocation), each carrying its own fresh inline-cache slot (spec §4.2
// "Inline cache slot assignment").
func dot(c *Compiler, canAssign bool) {
	name := c.cur.Lexeme
	c.consume(token.IDENT, "expected property name after '.'")
	nameIdx := c.identConstant(name)

	if canAssign && c.match(token.ASSIGN) {
		c.expression()
		c.emit(bytecode.OpSetField)
		c.emitU16(nameIdx)
		c.emitU16(c.chunk().NewICSlot())
		return
	}
	if c.match(token.LPAREN) {
		argc := c.argumentList()
		c.emit(bytecode.OpInvoke)
		c.emitU16(nameIdx)
		c.emitU16(c.chunk().NewICSlot())
		c.emitByte(byte(argc))
		return
	}
	c.emit(bytecode.OpGetField)
	c.emitU16(nameIdx)
	c.emitU16(c.chunk().NewICSlot())
}

func arrayLiteral(c *Compiler, _ bool) {
	n := 0
	if !c.check(token.RBRACKET) {
		for {
			c.expression()
			n++
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	c.consume(token.RBRACKET, "expected ']' after array literal")
	c.emit(bytecode.OpNewArray)
	c.emitU16(uint16(n))
}

func dictLiteral(c *Compiler, _ bool) {
	n := 0
	if !c.check(token.RBRACE) {
		for {
			c.expression()
			c.consume(token.COLON, "expected ':' in dict literal")
			c.expression()
			n++
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	c.consume(token.RBRACE, "expected '}' after dict literal")
	c.emit(bytecode.OpNewDict)
	c.emitU16(uint16(n))
}

// variable resolves an identifier to a local, upvalue, or global load/store
// (spec §4.2 "Scope and binding").
func variable(c *Compiler, canAssign bool) {
	c.namedVariable(c.prev.Lexeme, canAssign)
}

func (c *Compiler) namedVariable(name string, canAssign bool) {
	var getOp, setOp bytecode.Op
	var arg int

	if idx, ok := c.fs.resolveLocal(name); ok {
		getOp, setOp, arg = bytecode.OpLoadLocal, bytecode.OpStoreLocal, idx
	} else if idx, ok := c.fs.resolveUpvalue(name); ok {
		getOp, setOp, arg = bytecode.OpLoadUpvalue, bytecode.OpStoreUpvalue, idx
	} else {
		getOp, setOp, arg = bytecode.OpLoadGlobal, bytecode.OpStoreGlobal, int(c.identConstant(name))
	}

	if canAssign && c.match(token.ASSIGN) {
		if setOp == bytecode.OpStoreLocal {
			if c.fs.locals[arg].isConst {
				c.errorAt(c.prev.Pos, AssignToConst, "cannot assign to const '"+name+"'")
			}
		}
		if setOp == bytecode.OpStoreGlobal && c.globalConsts[name] {
			c.errorAt(c.prev.Pos, AssignToConst, "cannot assign to const '"+name+"'")
		}
		c.expression()
		c.emit(setOp)
		c.emitU16(uint16(arg))
		return
	}
	c.emit(getOp)
	c.emitU16(uint16(arg))
}

func self_(c *Compiler, _ bool) {
	if c.fs.kind != FuncMethod && c.fs.kind != FuncInitializer {
		c.errorAt(c.prev.Pos, Syntax, "'self' used outside a method")
		return
	}
	c.namedVariable("self", false)
}

// super_ compiles `super.method`: self's class's Super method table is
// resolved at runtime (spec §3 heap object table: Class carries "optional
// superclass"), so no separate `super` binding needs to be threaded
// through the stack the way `self` is.
func super_(c *Compiler, _ bool) {
	if !c.fs.hasSuper {
		c.errorAt(c.prev.Pos, Syntax, "'super' used outside a subclass method")
	}
	c.consume(token.DOT, "expected '.' after 'super'")
	name := c.cur.Lexeme
	c.consume(token.IDENT, "expected superclass method name")
	nameIdx := c.identConstant(name)

	c.namedVariable("self", false)
	c.emit(bytecode.OpGetSuper)
	c.emitU16(nameIdx)
	c.emitU16(c.chunk().NewICSlot())
}

// tryFoldBinary implements spec §4.2's constant folding for "binary
// operations on two literals of the same numeric kind" and "string
// concatenation of two literals". It is a peephole rewrite: if the three
// instructions immediately preceding (and including) op are exactly
// CONSTANT, CONSTANT, op over two number (or, for OpAdd, two string)
// constants, those bytes are trimmed and replaced by a single folded
// CONSTANT, so the resulting bytecode is bit-for-bit what compiling the
// folded literal directly would have produced (spec §8 property 3).
func (c *Compiler) tryFoldBinary(op bytecode.Op) {
	code := c.chunk().Code
	// CONSTANT u16(2) CONSTANT u16(2) op(1) = 7 bytes.
	if len(code) < 7 {
		return
	}
	at := len(code) - 7
	if bytecode.Op(code[at]) != bytecode.OpConstant || bytecode.Op(code[at+3]) != bytecode.OpConstant {
		return
	}
	// An operand byte can equal OpConstant, so decode the chunk from its
	// start to confirm that at and at+3 really begin instructions.
	prev2, prev1, i := -1, -1, 0
	for i < at+6 {
		prev2, prev1 = prev1, i
		_, width := disasmOperands(c.chunk(), bytecode.Op(code[i]), code, i+1)
		i += 1 + width
	}
	if i != at+6 || prev2 != at || prev1 != at+3 {
		return
	}
	li := c.chunk().ReadU16(at + 1)
	ri := c.chunk().ReadU16(at + 4)
	lv := c.chunk().Constants[li]
	rv := c.chunk().Constants[ri]

	var folded value.Value
	switch {
	case lv.IsNumber() && rv.IsNumber():
		l, r := lv.AsNumber(), rv.AsNumber()
		var ok bool
		folded, ok = foldNumeric(op, l, r)
		if !ok {
			return
		}
	case lv.IsObj() && rv.IsObj() && op == bytecode.OpAdd:
		ls, lok := asFoldableString(lv)
		rs, rok := asFoldableString(rv)
		if !lok || !rok {
			return
		}
		folded = c.heap.Intern(ls + rs).Value()
	default:
		return
	}

	line := c.chunk().Lines[at]
	c.chunk().Code = code[:at]
	c.chunk().Lines = c.chunk().Lines[:at]
	c.emitConstantAtLine(folded, line)
}

func (c *Compiler) emitConstantAtLine(v value.Value, line int) {
	c.chunk().Emit(bytecode.OpConstant, line)
	c.chunk().EmitU16(c.chunk().AddConstant(v), line)
}

// integral mirrors the interpreter's is-this-double-an-integer test.
func integral(f float64) bool { return f == float64(int64(f)) }

func foldNumeric(op bytecode.Op, l, r float64) (value.Value, bool) {
	switch op {
	case bytecode.OpAdd:
		return value.Number(l + r), true
	case bytecode.OpSub:
		return value.Number(l - r), true
	case bytecode.OpMul:
		return value.Number(l * r), true
	case bytecode.OpDiv:
		// Mirrors the interpreter exactly (spec §4.2: folding is bitwise-
		// identical to runtime evaluation): two integral operands divide
		// truncating toward zero, and dividing by integer zero is deferred
		// to the runtime DivisionByZero path rather than folded away.
		if integral(l) && integral(r) {
			if r == 0 {
				return value.Value(0), false
			}
			return value.Number(float64(int64(l) / int64(r))), true
		}
		return value.Number(l / r), true // IEEE, ±Inf/NaN included
	case bytecode.OpEqual:
		return value.Bool(l == r), true
	case bytecode.OpNotEqual:
		return value.Bool(l != r), true
	case bytecode.OpLess:
		return value.Bool(l < r), true
	case bytecode.OpGreater:
		return value.Bool(l > r), true
	case bytecode.OpLessEqual:
		return value.Bool(l <= r), true
	case bytecode.OpGreaterEqual:
		return value.Bool(l >= r), true
	default:
		return value.Value(0), false
	}
}
