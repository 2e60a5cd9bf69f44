// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package bytecode

import "github.com/probechain/pseudocode/internal/value"

// ExceptionEntry is one row of a function's exception table (spec §4.2,
// §4.4): the VM consults it only while unwinding, so the non-throw path
// pays nothing for it.
type ExceptionEntry struct {
	TryStart   int // inclusive code offset
	TryEnd     int // exclusive code offset
	HandlerPC  int // -1 if this try has no catch
	FinallyPC  int // -1 if this try has no finally
	StackDepth int // frame-relative local count at try entry; operand stack is truncated to this before entering HandlerPC/FinallyPC
}

// UpvalueDesc tells a closure's prelude where to find the value that fills
// upvalue slot i: either the enclosing function's local slot Index, or the
// enclosing closure's own upvalue slot Index.
type UpvalueDesc struct {
	IsLocal bool
	Index   uint16
}

// Chunk is a compiled function body: code array, constant pool, line map,
// exception table, and IC slot count (spec Glossary: "Bytecode chunk").
type Chunk struct {
	Name         string
	Arity        int
	UpvalueCount int

	Code      []byte
	Lines     []int // Lines[i] is the source line for Code[i] (byte-granularity, sparse in practice)
	Constants []value.Value

	Upvalues  []UpvalueDesc
	Exception []ExceptionEntry

	NumICSlots int

	// Valid is false when the compiler produced this chunk despite errors;
	// such chunks must never be executed (spec §4.2 "Errors").
	Valid bool
}

// New creates an empty, valid chunk.
func New(name string, arity int) *Chunk {
	return &Chunk{Name: name, Arity: arity, Valid: true}
}

// Emit appends a single opcode byte, recording its source line, and returns
// its offset.
func (c *Chunk) Emit(op Op, line int) int {
	off := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Lines = append(c.Lines, line)
	return off
}

// EmitByte appends a raw operand byte (e.g. an argc) at the given line.
func (c *Chunk) EmitByte(b byte, line int) int {
	off := len(c.Code)
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
	return off
}

// EmitU16 appends a big-endian u16 operand.
func (c *Chunk) EmitU16(v uint16, line int) int {
	off := len(c.Code)
	c.Code = append(c.Code, byte(v>>8), byte(v))
	c.Lines = append(c.Lines, line, line)
	return off
}

// PatchU16 overwrites the u16 at offset (used to back-patch forward jump
// targets once they are known).
func (c *Chunk) PatchU16(offset int, v uint16) {
	c.Code[offset] = byte(v >> 8)
	c.Code[offset+1] = byte(v)
}

// ReadU16 reads the big-endian u16 at offset.
func (c *Chunk) ReadU16(offset int) uint16 {
	return uint16(c.Code[offset])<<8 | uint16(c.Code[offset+1])
}

// AddConstant appends v to the constant pool and returns its index. There is
// no deduplication: every call adds a new entry, even for a value already in
// the pool.
func (c *Chunk) AddConstant(v value.Value) uint16 {
	c.Constants = append(c.Constants, v)
	return uint16(len(c.Constants) - 1)
}

// NewICSlot allocates and returns the next inline-cache slot index. The
// compiler only guarantees uniqueness; the VM owns the actual cache storage
// (spec §4.2 "Inline cache slot assignment").
func (c *Chunk) NewICSlot() uint16 {
	slot := c.NumICSlots
	c.NumICSlots++
	return uint16(slot)
}

// Len returns the number of bytes of bytecode emitted so far.
func (c *Chunk) Len() int { return len(c.Code) }
