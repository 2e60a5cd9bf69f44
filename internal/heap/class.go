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

	"github.com/probechain/pseudocode/internal/value"
)

// Class is a class object: an insertion-ordered, hashed field-slot table, a
// method table, and an optional superclass (spec §3 heap object table).
// Fields grow dynamically as `OP_SET_FIELD` sees new names (spec §9 Open
// Question: "dynamic growth with shape versioning" chosen over a
// fixed-slot-at-declaration layout — see DESIGN.md).
//
// Version is bumped on any structural change (new field slot, new/replaced
// method) so inline caches carrying a stale Version are treated as empty
// (spec §4.5 "Inline caches and shapes").
type Class struct {
	Object
	Name       string
	FieldIndex map[string]int
	Fields     []string // insertion order, Fields[i] is the name at slot i
	Methods    map[string]*Closure
	Super      *Class
	Version    uint32
}

func AsClass(v value.Value) *Class { return (*Class)(v.AsObjPtr()) }
func (c *Class) Value() value.Value { return ToValue(unsafe.Pointer(c)) }

func (h *Heap) NewClass(name string, super *Class) *Class {
	c := &Class{
		Object:     Object{Kind: KindClass},
		Name:       name,
		FieldIndex: make(map[string]int),
		Methods:    make(map[string]*Closure),
		Super:      super,
	}
	if super != nil {
		for name, fn := range super.Methods {
			c.Methods[name] = fn
		}
	}
	h.register(&c.Object, 64)
	return c
}

// FieldSlot returns the slot index for name, allocating a new one (and
// bumping Version) if this class has never seen that field before.
func (c *Class) FieldSlot(name string) int {
	if idx, ok := c.FieldIndex[name]; ok {
		return idx
	}
	idx := len(c.Fields)
	c.FieldIndex[name] = idx
	c.Fields = append(c.Fields, name)
	c.Version++
	return idx
}

// LookupField reports the slot index for name without allocating one.
func (c *Class) LookupField(name string) (int, bool) {
	idx, ok := c.FieldIndex[name]
	return idx, ok
}

// SetMethod installs fn under name, bumping Version.
func (c *Class) SetMethod(name string, fn *Closure) {
	c.Methods[name] = fn
	c.Version++
}

// LookupMethod searches this class's (already-flattened, inheritance
// included) method table.
func (c *Class) LookupMethod(name string) (*Closure, bool) {
	fn, ok := c.Methods[name]
	return fn, ok
}

// Instance is an object instantiated from a Class: a flat Value array
// sized (and grown) to the class's field count (spec §3 heap object
// table).
type Instance struct {
	Object
	Class  *Class
	Fields []value.Value
}

func AsInstance(v value.Value) *Instance { return (*Instance)(v.AsObjPtr()) }
func (i *Instance) Value() value.Value   { return ToValue(unsafe.Pointer(i)) }

func (h *Heap) NewInstance(class *Class) *Instance {
	i := &Instance{
		Object: Object{Kind: KindInstance},
		Class:  class,
		Fields: make([]value.Value, len(class.Fields)),
	}
	for k := range i.Fields {
		i.Fields[k] = value.Nil
	}
	h.register(&i.Object, 16+len(i.Fields)*8)
	return i
}

// GetField reads field name, consulting the class's field table (the slow
// path the VM falls back to on an inline-cache miss).
func (i *Instance) GetField(name string) (value.Value, bool) {
	idx, ok := i.Class.LookupField(name)
	if !ok || idx >= len(i.Fields) {
		return value.Nil, false
	}
	return i.Fields[idx], true
}

// SetField writes field name, growing both the class's shape and this
// instance's field array if name has never been assigned on this class
// before.
func (i *Instance) SetField(name string, v value.Value) {
	idx := i.Class.FieldSlot(name)
	for idx >= len(i.Fields) {
		i.Fields = append(i.Fields, value.Nil)
	}
	i.Fields[idx] = v
}

// BoundMethod pairs a receiver with the closure a property read resolved
// to a method (spec §3 heap object table).
type BoundMethod struct {
	Object
	Receiver value.Value
	Method   *Closure
}

func AsBoundMethod(v value.Value) *BoundMethod { return (*BoundMethod)(v.AsObjPtr()) }
func (b *BoundMethod) Value() value.Value      { return ToValue(unsafe.Pointer(b)) }

func (h *Heap) NewBoundMethod(receiver value.Value, method *Closure) *BoundMethod {
	b := &BoundMethod{Object: Object{Kind: KindBoundMethod}, Receiver: receiver, Method: method}
	h.register(&b.Object, 24)
	return b
}
