// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package compiler

import "github.com/probechain/pseudocode/internal/bytecode"

// FuncKind distinguishes the top-level script from named functions and
// methods, which affects slot 0's meaning (spec §4.2 "Locals are assigned
// dense slot indices ... slot 0 is reserved for the receiver (or the
// function value itself when not a method)").
type FuncKind int

const (
	FuncScript FuncKind = iota
	FuncFunction
	FuncMethod
	FuncInitializer
)

// local is a resolved local-variable binding within one function's frame.
type local struct {
	name       string
	depth      int
	isConst    bool
	isCaptured bool
}

// upvalueRef records how to fill one upvalue slot in a nested closure's
// prelude: either the enclosing function's local slot index, or the
// enclosing closure's own upvalue slot index (spec §4.2 "Scope and
// binding").
type upvalueRef struct {
	index   uint16
	isLocal bool
}

// loopCtx tracks the information needed to patch `break`/`continue` and to
// register the loop's back-edge as a JIT trace anchor.
type loopCtx struct {
	start       int // bytecode offset of the loop condition/back-edge target
	scopeDepth  int
	breakJumps  []int // offsets of forward jumps needing a patch to loop end
	continueJumps []int
}

// tryCtx tracks deferred `return` jumps for one active try statement, so
// that a return lexically inside the try/catch body runs the try's finally
// (if any) before actually returning (see tryStatement in statements.go).
type tryCtx struct {
	returnJumps []int
}

// funcState is one function's compilation context; funcStates form a stack
// mirroring lexical nesting, so an inner function can resolve names in any
// enclosing function as upvalues.
type funcState struct {
	enclosing *funcState

	chunk *bytecode.Chunk
	kind  FuncKind

	locals     []local
	scopeDepth int
	upvalues   []upvalueRef

	loops []*loopCtx
	tries []*tryCtx

	className string // name of the enclosing class, if kind is method/initializer
	hasSuper  bool
}

func newFuncState(enclosing *funcState, name string, arity int, kind FuncKind) *funcState {
	fs := &funcState{
		enclosing: enclosing,
		chunk:     bytecode.New(name, arity),
		kind:      kind,
	}
	// Slot 0 is reserved (spec §4.2): the receiver for methods, or the
	// function value itself for plain functions/the script.
	recv := ""
	if kind == FuncMethod || kind == FuncInitializer {
		recv = "self"
	}
	fs.locals = append(fs.locals, local{name: recv, depth: 0})
	if enclosing != nil {
		fs.className = enclosing.className
		fs.hasSuper = enclosing.hasSuper
	}
	return fs
}

func (fs *funcState) resolveLocal(name string) (int, bool) {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			return i, true
		}
	}
	return -1, false
}

// resolveUpvalue finds name in an enclosing function's locals (or its own
// upvalues, transitively), adding an upvalue descriptor to fs and every
// intermediate funcState along the way (spec §4.2: "Upvalues chain through
// all enclosing closures").
func (fs *funcState) resolveUpvalue(name string) (int, bool) {
	if fs.enclosing == nil {
		return -1, false
	}
	if idx, ok := fs.enclosing.resolveLocal(name); ok {
		fs.enclosing.locals[idx].isCaptured = true
		return fs.addUpvalue(uint16(idx), true), true
	}
	if idx, ok := fs.enclosing.resolveUpvalue(name); ok {
		return fs.addUpvalue(uint16(idx), false), true
	}
	return -1, false
}

func (fs *funcState) addUpvalue(index uint16, isLocal bool) int {
	for i, uv := range fs.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	fs.upvalues = append(fs.upvalues, upvalueRef{index: index, isLocal: isLocal})
	fs.chunk.Upvalues = append(fs.chunk.Upvalues, bytecode.UpvalueDesc{IsLocal: isLocal, Index: index})
	fs.chunk.UpvalueCount = len(fs.upvalues)
	return len(fs.upvalues) - 1
}
