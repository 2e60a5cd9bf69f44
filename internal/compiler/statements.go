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
	"github.com/probechain/pseudocode/internal/token"
	"github.com/probechain/pseudocode/internal/value"
)

func (c *Compiler) declaration() {
	switch {
	case c.match(token.LET):
		c.letDecl(false)
	case c.match(token.CONST):
		c.letDecl(true)
	case c.match(token.FN):
		c.fnDecl()
	case c.match(token.CLASS):
		c.classDecl()
	default:
		c.statement()
	}
	if c.hadError {
		c.synchronize()
	}
}

// block parses declarations until one of the given terminator keywords is
// seen (the terminator itself is not consumed).
func (c *Compiler) block(terminators ...token.Kind) {
	for !c.check(token.EOF) {
		for _, t := range terminators {
			if c.check(t) {
				return
			}
		}
		c.declaration()
	}
}

func (c *Compiler) letDecl(isConst bool) {
	name := c.cur.Lexeme
	c.consume(token.IDENT, "expected variable name")
	c.consume(token.ASSIGN, "expected '=' after variable name")
	c.expression()

	if c.fs.scopeDepth == 0 {
		if isConst {
			c.globalConsts[name] = true
		}
		global := c.identConstant(name)
		c.emit(bytecode.OpStoreGlobal)
		c.emitU16(global)
		c.emit(bytecode.OpPop)
	} else {
		c.declareLocal(name, isConst)
	}
}

func (c *Compiler) fnDecl() {
	name := c.cur.Lexeme
	c.consume(token.IDENT, "expected function name")
	if c.fs.scopeDepth > 0 {
		c.declareLocal(name, true)
	}
	global := uint16(0)
	isGlobal := c.fs.scopeDepth == 0
	if isGlobal {
		global = c.identConstant(name)
	}
	c.function(name, FuncFunction)
	if isGlobal {
		c.emit(bytecode.OpStoreGlobal)
		c.emitU16(global)
		c.emit(bytecode.OpPop)
	}
}

// function compiles a nested `fn name(params) ... end` as its own
// funcState, then emits OP_CLOSURE with its upvalue descriptor prelude
// into the enclosing chunk (spec §4.2 "Scope and binding").
func (c *Compiler) function(name string, kind FuncKind) {
	c.consume(token.LPAREN, "expected '(' after function name")
	var params []string
	if !c.check(token.RPAREN) {
		for {
			params = append(params, c.cur.Lexeme)
			c.consume(token.IDENT, "expected parameter name")
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	c.consume(token.RPAREN, "expected ')' after parameters")

	enclosing := c.fs
	c.fs = newFuncState(enclosing, name, len(params), kind)
	c.beginScope()
	for _, p := range params {
		c.declareLocal(p, false)
	}
	c.block(token.END)
	c.consume(token.END, "expected 'end' after function body")
	c.emitReturn()

	compiled := c.fs
	c.fs = enclosing

	fn := c.heap.NewFunction(compiled.chunk)
	fnIdx := c.chunk().AddConstant(fn.Value())
	c.emit(bytecode.OpClosure)
	c.emitU16(fnIdx)
	for _, uv := range compiled.upvalues {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitU16(uv.index)
	}
}

func (c *Compiler) statement() {
	switch {
	case c.match(token.IF):
		c.ifStatement()
	case c.match(token.WHILE):
		c.whileStatement()
	case c.match(token.FOR):
		c.forStatement()
	case c.match(token.RETURN):
		c.returnStatement()
	case c.match(token.BREAK):
		c.breakStatement()
	case c.match(token.CONTINUE):
		c.continueStatement()
	case c.match(token.TRY):
		c.tryStatement()
	case c.match(token.THROW):
		c.throwStatement()
	case c.match(token.MATCH):
		c.matchStatement()
	default:
		c.exprStatement()
	}
}

func (c *Compiler) exprStatement() {
	c.expression()
	c.emit(bytecode.OpPop)
}

func (c *Compiler) ifStatement() {
	c.expression()
	c.consume(token.THEN, "expected 'then' after if condition")
	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emit(bytecode.OpPop)

	c.beginScope()
	c.block(token.ELIF, token.ELSE, token.END)
	c.endScope()

	var endJumps []int
	for c.match(token.ELIF) {
		endJumps = append(endJumps, c.emitJump(bytecode.OpJump))
		c.patchJump(thenJump)
		c.emit(bytecode.OpPop)

		c.expression()
		c.consume(token.THEN, "expected 'then' after elif condition")
		thenJump = c.emitJump(bytecode.OpJumpIfFalse)
		c.emit(bytecode.OpPop)

		c.beginScope()
		c.block(token.ELIF, token.ELSE, token.END)
		c.endScope()
	}

	endJumps = append(endJumps, c.emitJump(bytecode.OpJump))
	c.patchJump(thenJump)
	c.emit(bytecode.OpPop)

	if c.match(token.ELSE) {
		c.beginScope()
		c.block(token.END)
		c.endScope()
	}
	c.consume(token.END, "expected 'end' to close if")

	for _, j := range endJumps {
		c.patchJump(j)
	}
}

// whileStatement lowers `while cond do body end` to a conditional branch
// over the body plus an unconditional back-branch (spec §4.2). The
// back-branch offset is registered as a loop for break/continue patching;
// that same OP_LOOP site is what internal/vm treats as a trace anchor.
func (c *Compiler) whileStatement() {
	loopStart := c.chunk().Len()
	lp := &loopCtx{start: loopStart, scopeDepth: c.fs.scopeDepth}
	c.fs.loops = append(c.fs.loops, lp)

	c.expression()
	c.consume(token.DO, "expected 'do' after while condition")
	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emit(bytecode.OpPop)

	c.beginScope()
	c.block(token.END)
	c.endScope()
	c.consume(token.END, "expected 'end' to close while")

	c.emitLoop(loopStart)
	c.patchJump(exitJump)
	c.emit(bytecode.OpPop)

	for _, j := range lp.breakJumps {
		c.patchJump(j)
	}
	c.fs.loops = c.fs.loops[:len(c.fs.loops)-1]
}

// forStatement supports both the integer-range form (`for i in a..b do`)
// and the collection-iterator form (`for x in collection do`), per spec
// §4.2. The range form lowers to an explicit induction-variable local and
// guard; the collection form uses a hidden local holding the collection
// plus a hidden index local rather than the iterator-object protocol
// (simplified from the spec's prose, since Non-goals exclude a full
// user-extensible iterator interface).
func (c *Compiler) forStatement() {
	c.beginScope()
	varName := c.cur.Lexeme
	c.consume(token.IDENT, "expected loop variable name")
	c.consume(token.IN, "expected 'in' after loop variable")
	c.expression()

	if c.match(token.DOTDOT) {
		c.forRange(varName)
	} else {
		c.forEach(varName)
	}
	c.endScope()
}

func (c *Compiler) forRange(varName string) {
	// The start-bound value is already on the stack (forStatement parsed
	// it before seeing '..'); bind it to the loop variable's slot first,
	// then parse and declare the end bound right above it.
	startLocal := len(c.fs.locals)
	c.declareLocal(varName, false)

	c.expression() // end bound
	endLocal := len(c.fs.locals)
	c.declareLocal("for.end", false)

	c.consume(token.DO, "expected 'do' after for range")

	loopStart := c.chunk().Len()
	lp := &loopCtx{start: loopStart, scopeDepth: c.fs.scopeDepth}
	c.fs.loops = append(c.fs.loops, lp)

	c.emit(bytecode.OpLoadLocal)
	c.emitU16(uint16(startLocal))
	c.emit(bytecode.OpLoadLocal)
	c.emitU16(uint16(endLocal))
	c.emit(bytecode.OpLessEqual)
	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emit(bytecode.OpPop)

	c.beginScope()
	c.block(token.END)
	c.endScope()
	c.consume(token.END, "expected 'end' to close for")

	// i = i + 1
	c.emit(bytecode.OpLoadLocal)
	c.emitU16(uint16(startLocal))
	c.emitConstant(numberOne())
	c.emit(bytecode.OpAdd)
	c.emit(bytecode.OpStoreLocal)
	c.emitU16(uint16(startLocal))
	c.emit(bytecode.OpPop)

	c.emitLoop(loopStart)
	c.patchJump(exitJump)
	c.emit(bytecode.OpPop)

	for _, j := range lp.breakJumps {
		c.patchJump(j)
	}
	c.fs.loops = c.fs.loops[:len(c.fs.loops)-1]
}

func (c *Compiler) forEach(varName string) {
	collLocal := len(c.fs.locals)
	c.declareLocal("for.coll", false)

	c.emitConstant(numberZero())
	idxLocal := len(c.fs.locals)
	c.declareLocal("for.idx", false)

	c.consume(token.DO, "expected 'do' after for-in")

	loopStart := c.chunk().Len()
	lp := &loopCtx{start: loopStart, scopeDepth: c.fs.scopeDepth}
	c.fs.loops = append(c.fs.loops, lp)

	// while idx < len(coll)
	c.emit(bytecode.OpLoadLocal)
	c.emitU16(uint16(idxLocal))
	c.emit(bytecode.OpLoadGlobal)
	c.emitU16(c.identConstant("len"))
	c.emit(bytecode.OpLoadLocal)
	c.emitU16(uint16(collLocal))
	c.emit(bytecode.OpCall)
	c.emitByte(1)
	c.emit(bytecode.OpLess)
	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emit(bytecode.OpPop)

	c.beginScope()
	c.declareLocal(varName, false)
	c.emit(bytecode.OpLoadLocal)
	c.emitU16(uint16(collLocal))
	c.emit(bytecode.OpLoadLocal)
	c.emitU16(uint16(idxLocal))
	c.emit(bytecode.OpIndexGet)

	c.block(token.END)
	c.endScope()
	c.consume(token.END, "expected 'end' to close for")

	c.emit(bytecode.OpLoadLocal)
	c.emitU16(uint16(idxLocal))
	c.emitConstant(numberOne())
	c.emit(bytecode.OpAdd)
	c.emit(bytecode.OpStoreLocal)
	c.emitU16(uint16(idxLocal))
	c.emit(bytecode.OpPop)

	c.emitLoop(loopStart)
	c.patchJump(exitJump)
	c.emit(bytecode.OpPop)

	for _, j := range lp.breakJumps {
		c.patchJump(j)
	}
	c.fs.loops = c.fs.loops[:len(c.fs.loops)-1]
}

func (c *Compiler) returnStatement() {
	if c.fs.kind == FuncScript {
		c.errorAt(c.prev.Pos, Syntax, "'return' outside a function")
	}

	inTry := len(c.fs.tries) > 0

	if c.check(token.END) {
		if c.fs.kind == FuncInitializer {
			c.emit(bytecode.OpLoadLocal)
			c.emitU16(0)
		} else {
			c.emit(bytecode.OpNil)
		}
	} else {
		if c.fs.kind == FuncInitializer {
			c.errorAt(c.prev.Pos, Syntax, "cannot return a value from an initializer")
		}
		c.expression()
		// A tail-call return ("return is syntactically followed by a call"):
		// when the whole returned expression is a call, its OP_CALL is the
		// last thing emitted and gets rewritten to OP_TAIL_CALL in place. A
		// return deferred through an enclosing try's finally can't safely
		// reuse the current frame, so elision is suppressed there.
		if !inTry && c.lastCallChunk == c.chunk() && c.lastCallOffset == c.chunk().Len()-2 {
			c.chunk().Code[c.lastCallOffset] = byte(bytecode.OpTailCall)
		}
	}

	if !inTry {
		c.emit(bytecode.OpReturn)
		return
	}

	// Defer: stash the value, jump to (eventually) the innermost try's
	// finally, then fall through OP_END_FINALLY into that try's epilogue,
	// which actually returns once every enclosing finally has run.
	c.emit(bytecode.OpSetPendingReturn)
	tc := c.fs.tries[len(c.fs.tries)-1]
	tc.returnJumps = append(tc.returnJumps, c.emitJump(bytecode.OpJump))
}

func (c *Compiler) breakStatement() {
	if len(c.fs.loops) == 0 {
		c.errorAt(c.prev.Pos, Syntax, "'break' outside a loop")
		return
	}
	lp := c.fs.loops[len(c.fs.loops)-1]
	j := c.emitJump(bytecode.OpJump)
	lp.breakJumps = append(lp.breakJumps, j)
}

func (c *Compiler) continueStatement() {
	if len(c.fs.loops) == 0 {
		c.errorAt(c.prev.Pos, Syntax, "'continue' outside a loop")
		return
	}
	lp := c.fs.loops[len(c.fs.loops)-1]
	c.emitLoop(lp.start)
}

// tryStatement emits a try/catch/finally exception-table entry (spec §4.2
// "Exception handling"): no opcodes run on the non-throw path beyond the
// try body and an unconditional jump past the handler.
//
// A `return` lexically inside the try or catch body is deferred (see
// returnStatement): it stashes its value in the VM's pending-return
// register and jumps to the same point the ordinary fall-through path
// reaches, i.e. right after the finally block (or right after the
// catch, if there is no finally). From there OP_JUMP_IF_NOT_PENDING_RETURN
// tells the two paths apart: with nothing pending, execution just
// continues past the try statement as normal; with a return pending, the
// value is pushed back and either actually returned (no enclosing try) or
// handed to the next try out so its own finally also runs (spec §8
// invariant 8: finally runs exactly once regardless of how control
// leaves).
func (c *Compiler) tryStatement() {
	tryStart := c.chunk().Len()
	// Frame-relative stack depth at try entry (spec §4.4 "exception table
	// ... entered before the handler search continues"): the interpreter
	// truncates the operand stack back to this depth before jumping into a
	// handler or finally, discarding whatever was mid-evaluation when the
	// exception was thrown, so catch/finally locals line up with the slot
	// indices the compiler assigned them.
	stackDepth := len(c.fs.locals)

	tc := &tryCtx{}
	c.fs.tries = append(c.fs.tries, tc)

	c.beginScope()
	c.block(token.CATCH, token.FINALLY, token.END)
	c.endScope()
	tryEnd := c.chunk().Len()

	skipHandler := c.emitJump(bytecode.OpJump)

	handlerPC := -1
	if c.match(token.CATCH) {
		handlerPC = c.chunk().Len()
		c.beginScope()
		if c.check(token.IDENT) {
			name := c.cur.Lexeme
			c.advance()
			c.declareLocal(name, false)
		} else {
			c.emit(bytecode.OpPop) // discard the thrown value if unnamed
		}
		c.block(token.FINALLY, token.END)
		c.endScope()
	}
	c.patchJump(skipHandler)

	// Pop this try's context before compiling the finally block: a return
	// lexically inside finally belongs to whatever try (if any) encloses
	// this one, not this one, and should return directly rather than
	// re-running this try's own finally.
	c.fs.tries = c.fs.tries[:len(c.fs.tries)-1]

	finallyPC := -1
	if c.match(token.FINALLY) {
		finallyPC = c.chunk().Len()
		c.beginScope()
		c.block(token.END)
		c.endScope()
	}
	c.consume(token.END, "expected 'end' to close try")

	c.chunk().Exception = append(c.chunk().Exception, bytecode.ExceptionEntry{
		TryStart: tryStart, TryEnd: tryEnd, HandlerPC: handlerPC, FinallyPC: finallyPC,
		StackDepth: stackDepth,
	})

	// OP_END_FINALLY always marks the instruction right after a compiled
	// finally block, whether or not any return in this try is deferred: the
	// interpreter also uses it as the resumption point after synthetically
	// entering this finally while unwinding an exception the enclosing try
	// has no catch for (see unwind/endFinally in internal/vm), which can
	// happen regardless of whether this try statement itself contains a
	// `return`.
	if finallyPC >= 0 {
		c.emit(bytecode.OpEndFinally)
	}

	if len(tc.returnJumps) == 0 {
		return
	}
	// A deferred return must run the finally block itself, so it jumps to
	// the finally's start (not past it); with no finally, it jumps straight
	// to the epilogue below, which is also where the ordinary fall-through
	// path (having just run the finally, if any) arrives.
	target := finallyPC
	if target < 0 {
		target = c.chunk().Len()
	}
	for _, j := range tc.returnJumps {
		c.patchJumpTo(j, target)
	}

	skipReturn := c.emitJump(bytecode.OpJumpIfNotPendingReturn)
	if len(c.fs.tries) > 0 {
		outer := c.fs.tries[len(c.fs.tries)-1]
		outer.returnJumps = append(outer.returnJumps, c.emitJump(bytecode.OpJump))
	} else {
		c.emit(bytecode.OpPushPendingReturn)
		c.emit(bytecode.OpReturn)
	}
	c.patchJump(skipReturn)
}

func (c *Compiler) throwStatement() {
	c.expression()
	c.emit(bytecode.OpThrow)
}

// matchStatement lowers `match subject case pattern -> body ... end` to a
// chain of conditionals on a hidden local holding the subject (spec §4.2):
// literal patterns compile to equality, `_` to an unconditional arm, an
// identifier pattern binds the subject to a fresh local, and an array
// pattern to length-then-element checks with per-element bindings.
func (c *Compiler) matchStatement() {
	c.beginScope()
	c.expression()
	subjectLocal := len(c.fs.locals)
	c.declareLocal("match.subject", false)

	var endJumps []int
	for c.match(token.CASE) {
		c.beginScope()
		var failJumps []int
		switch {
		case c.match(token.UNDERSCORE):
			// matches anything, binds nothing
		case c.check(token.IDENT):
			name := c.cur.Lexeme
			c.advance()
			c.emit(bytecode.OpLoadLocal)
			c.emitU16(uint16(subjectLocal))
			c.declareLocal(name, false)
		case c.match(token.LBRACKET):
			failJumps = c.arrayPattern(subjectLocal)
		default:
			c.emit(bytecode.OpLoadLocal)
			c.emitU16(uint16(subjectLocal))
			c.expression()
			c.emit(bytecode.OpEqual)
			failJumps = append(failJumps, c.emitJump(bytecode.OpJumpIfFalse))
			c.emit(bytecode.OpPop)
		}
		c.consume(token.ARROW, "expected '->' after case pattern")
		c.block(token.CASE, token.END)
		c.endScope()
		endJumps = append(endJumps, c.emitJump(bytecode.OpJump))
		if len(failJumps) > 0 {
			for _, j := range failJumps {
				c.patchJump(j)
			}
			c.emit(bytecode.OpPop) // the failed check's condition
		}
	}
	c.consume(token.END, "expected 'end' to close match")
	for _, j := range endJumps {
		c.patchJump(j)
	}
	c.endScope()
}

// elemPattern is one parsed element of an array pattern: the wildcard, a
// name to bind, or a literal to check. Elements are restricted to these
// three shapes so the checks can be emitted before any binding — every
// fail jump then lands with just the failed condition on the stack and no
// half-bound locals to unwind.
type elemPattern struct {
	wild bool
	bind string
	lit  value.Value
}

// arrayPattern compiles `case [p1, ..., pn]` (spec §4.2 "array patterns to
// length-then-element checks"): a type check and a length check, lowered
// through the `type` and `len` globals the same way for-in lowers through
// `len`, then one equality check per literal element, then one fresh local
// per binding element. Returns the fail-jump placeholders for the caller
// to patch to the next case.
func (c *Compiler) arrayPattern(subjectLocal int) []int {
	var elems []elemPattern
	if !c.check(token.RBRACKET) {
		for {
			elems = append(elems, c.elemPattern())
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	c.consume(token.RBRACKET, "expected ']' after array pattern")

	var failJumps []int
	check := func() {
		failJumps = append(failJumps, c.emitJump(bytecode.OpJumpIfFalse))
		c.emit(bytecode.OpPop)
	}
	loadElem := func(i int) {
		c.emit(bytecode.OpLoadLocal)
		c.emitU16(uint16(subjectLocal))
		c.emitConstant(value.Number(float64(i)))
		c.emit(bytecode.OpIndexGet)
	}
	callOn := func(global string) {
		c.emit(bytecode.OpLoadGlobal)
		c.emitU16(c.identConstant(global))
		c.emit(bytecode.OpLoadLocal)
		c.emitU16(uint16(subjectLocal))
		c.emit(bytecode.OpCall)
		c.emitByte(1)
	}

	callOn("type")
	c.emitConstant(c.heap.Intern("array").Value())
	c.emit(bytecode.OpEqual)
	check()

	callOn("len")
	c.emitConstant(value.Number(float64(len(elems))))
	c.emit(bytecode.OpEqual)
	check()

	for i, e := range elems {
		if e.wild || e.bind != "" {
			continue
		}
		loadElem(i)
		c.emitConstant(e.lit)
		c.emit(bytecode.OpEqual)
		check()
	}
	for i, e := range elems {
		if e.bind == "" {
			continue
		}
		loadElem(i)
		c.declareLocal(e.bind, false)
	}
	return failJumps
}

func (c *Compiler) elemPattern() elemPattern {
	switch {
	case c.match(token.UNDERSCORE):
		return elemPattern{wild: true}
	case c.check(token.IDENT):
		name := c.cur.Lexeme
		c.advance()
		return elemPattern{bind: name}
	case c.match(token.MINUS):
		lexeme := c.cur.Lexeme
		if !c.match(token.INT) && !c.match(token.FLOAT) {
			c.errorAt(c.cur.Pos, Syntax, "expected a number after '-' in pattern")
			return elemPattern{wild: true}
		}
		return elemPattern{lit: value.Number(-float(lexeme))}
	case c.match(token.INT), c.match(token.FLOAT):
		return elemPattern{lit: value.Number(float(c.prev.Lexeme))}
	case c.match(token.STRING):
		return elemPattern{lit: c.heap.Intern(c.prev.Lexeme).Value()}
	case c.match(token.TRUE):
		return elemPattern{lit: value.True}
	case c.match(token.FALSE):
		return elemPattern{lit: value.False}
	case c.match(token.NIL):
		return elemPattern{lit: value.Nil}
	default:
		c.errorAt(c.cur.Pos, Syntax, "expected a pattern element")
		c.advance()
		return elemPattern{wild: true}
	}
}

func numberOne() value.Value  { return value.Number(1) }
func numberZero() value.Value { return value.Number(0) }
