// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package heap implements the object variants of spec §3's heap object
// table and the intrusive allocation list the collector in internal/gc
// walks during sweep.
package heap

import (
	"unsafe"

	"github.com/probechain/pseudocode/internal/value"
)

// Kind identifies which heap object variant a header belongs to.
type Kind uint8

const (
	KindString Kind = iota
	KindArray
	KindDict
	KindFunction
	KindClosure
	KindUpvalue
	KindClass
	KindInstance
	KindBoundMethod
	KindTrace
	KindNative
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindDict:
		return "dict"
	case KindFunction:
		return "function"
	case KindClosure:
		return "function"
	case KindUpvalue:
		return "upvalue"
	case KindClass:
		return "class"
	case KindInstance:
		return "instance"
	case KindBoundMethod:
		return "function"
	case KindTrace:
		return "trace"
	case KindNative:
		return "function"
	default:
		return "object"
	}
}

// Color is the tri-color mark used by the mark-and-sweep collector
// (spec §4.3 "Collection algorithm").
type Color uint8

const (
	White Color = iota // not yet visited; candidate for sweep
	Gray               // visited, children not yet scanned
	Black              // visited, children scanned
)

// Object is the common header every heap value embeds as its first field,
// so that a generic *Object recovered from a boxed value.Value can be
// reinterpreted as the concrete variant once Kind is known.
type Object struct {
	Kind  Kind
	Color Color
	Next  *Object // intrusive singly-linked allocation list, newest first
}

// AsValue boxes the Object header itself. Because Object is always the
// first embedded field of its containing variant, the boxed pointer's
// address is identical to the containing struct's address, so callers can
// recover the concrete variant with the matching As* accessor once Kind is
// known.
func (o *Object) AsValue() value.Value { return value.Obj(unsafe.Pointer(o)) }

// ToValue boxes p (a pointer to any struct whose first field is Object)
// into a value.Value. The collector's allocation list — not this bit
// pattern — is what keeps the pointee alive.
func ToValue(p unsafe.Pointer) value.Value { return value.Obj(p) }

// HeaderOf recovers the Object header from a boxed value. v must satisfy
// v.IsObj().
func HeaderOf(v value.Value) *Object {
	return (*Object)(v.AsObjPtr())
}

// KindOf returns the Pseudocode type name for a boxed object value, for use
// with value.TypeName.
func KindOf(v value.Value) string {
	return HeaderOf(v).Kind.String()
}
