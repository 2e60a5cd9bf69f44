// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package heap

import (
	"unsafe"

	"github.com/probechain/pseudocode/internal/bytecode"
	"github.com/probechain/pseudocode/internal/value"
)

// Function is an immutable, fully-compiled function body (spec §3 heap
// object table).
type Function struct {
	Object
	Name         string
	Arity        int
	UpvalueCount int
	Chunk        *bytecode.Chunk
}

func AsFunction(v value.Value) *Function { return (*Function)(v.AsObjPtr()) }
func (f *Function) Value() value.Value   { return ToValue(unsafe.Pointer(f)) }

func (h *Heap) NewFunction(chunk *bytecode.Chunk) *Function {
	f := &Function{
		Object:       Object{Kind: KindFunction},
		Name:         chunk.Name,
		Arity:        chunk.Arity,
		UpvalueCount: chunk.UpvalueCount,
		Chunk:        chunk,
	}
	h.register(&f.Object, 48)
	return f
}

// Upvalue is either open (pointing into a still-live stack slot) or closed
// (owning its own Value), linked into the VM's open-upvalue chain while
// open (spec §3 heap object table).
type Upvalue struct {
	Object
	Location *value.Value // points into the stack while open, or at Closed while closed
	Closed   value.Value
	IsClosed bool
	NextOpen *Upvalue // next in the VM's open-upvalue chain, ordered by stack depth
}

func AsUpvalue(v value.Value) *Upvalue { return (*Upvalue)(v.AsObjPtr()) }
func (u *Upvalue) Value() value.Value  { return ToValue(unsafe.Pointer(u)) }

func (h *Heap) NewUpvalue(slot *value.Value) *Upvalue {
	u := &Upvalue{Object: Object{Kind: KindUpvalue}, Location: slot}
	h.register(&u.Object, 32)
	return u
}

// Close copies the referenced stack slot's value into the Upvalue itself
// and repoints Location at that owned copy, so it survives the enclosing
// frame unwinding (spec §3 invariant: "A closed Upvalue owns its Value").
func (u *Upvalue) Close() {
	if u.IsClosed {
		return
	}
	u.Closed = *u.Location
	u.Location = &u.Closed
	u.IsClosed = true
}

func (u *Upvalue) Get() value.Value  { return *u.Location }
func (u *Upvalue) Set(v value.Value) { *u.Location = v }

// Closure pairs a Function with the Upvalue cells it captured at
// `OP_CLOSURE` time (spec §3 heap object table).
type Closure struct {
	Object
	Fn       *Function
	Upvalues []*Upvalue
}

func AsClosure(v value.Value) *Closure { return (*Closure)(v.AsObjPtr()) }
func (c *Closure) Value() value.Value  { return ToValue(unsafe.Pointer(c)) }

func (h *Heap) NewClosure(fn *Function, upvalues []*Upvalue) *Closure {
	c := &Closure{Object: Object{Kind: KindClosure}, Fn: fn, Upvalues: upvalues}
	h.register(&c.Object, 24+len(upvalues)*8)
	return c
}
