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
)

// classDecl compiles `class Name [: Super] fn method(...) ... end ... end`,
// emitting OP_CLASS, an optional OP_INHERIT, and one OP_METHOD per method
// body (spec §3 heap object table: Class "name, field-slot table ...,
// method table, optional superclass").
func (c *Compiler) classDecl() {
	name := c.cur.Lexeme
	c.consume(token.IDENT, "expected class name")
	nameIdx := c.identConstant(name)

	isGlobal := c.fs.scopeDepth == 0
	if !isGlobal {
		c.declareLocal(name, true)
	}

	c.emit(bytecode.OpClass)
	c.emitU16(nameIdx)

	hasSuper := false
	if c.match(token.COLON) {
		superName := c.cur.Lexeme
		c.consume(token.IDENT, "expected superclass name")
		if superName == name {
			c.errorAt(c.prev.Pos, Syntax, "a class cannot inherit from itself")
		}
		c.namedVariable(superName, false)
		c.emit(bytecode.OpInherit)
		hasSuper = true
	}

	prevHasSuper := c.fs.hasSuper
	prevClassName := c.fs.className
	c.fs.hasSuper = hasSuper
	c.fs.className = name

	for c.match(token.FN) {
		c.method()
	}
	c.consume(token.END, "expected 'end' to close class")

	c.fs.hasSuper = prevHasSuper
	c.fs.className = prevClassName

	if isGlobal {
		global := c.identConstant(name)
		c.emit(bytecode.OpStoreGlobal)
		c.emitU16(global)
		c.emit(bytecode.OpPop)
	}
}

func (c *Compiler) method() {
	name := c.cur.Lexeme
	c.consume(token.IDENT, "expected method name")
	nameIdx := c.identConstant(name)

	kind := FuncMethod
	if name == "init" {
		kind = FuncInitializer
	}
	c.function(name, kind)

	c.emit(bytecode.OpMethod)
	c.emitU16(nameIdx)
}
