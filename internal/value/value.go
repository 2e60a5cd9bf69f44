// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package value implements the NaN-boxed 64-bit tagged Value described in
// spec §3: every IEEE-754 double encodes itself, and the payload of a quiet
// NaN encodes nil, true, false, or a pointer into the heap.
package value

import (
	"math"
	"unsafe"
)

// Value is a NaN-boxed 64-bit word. Any bit pattern that is a legal IEEE-754
// double other than a quiet NaN decodes as that double; the payload of a
// quiet NaN decodes as one of the tags below.
type Value uint64

const (
	qnan    uint64 = 0x7ffc000000000000
	signBit uint64 = 0x8000000000000000

	tagNil   uint64 = 1
	tagFalse uint64 = 2
	tagTrue  uint64 = 3
)

// Nil, False, and True are the three non-numeric, non-object singletons.
var (
	Nil   = Value(qnan | tagNil)
	False = Value(qnan | tagFalse)
	True  = Value(qnan | tagTrue)
)

// Number boxes a float64. Integers that fit the language's int range are
// still represented as doubles; the interpreter and JIT specialize on
// whether a Number's value happens to be integral (see vm.isInt).
func Number(f float64) Value { return Value(math.Float64bits(f)) }

// IsNumber reports whether v decodes as a plain double.
func (v Value) IsNumber() bool { return uint64(v)&qnan != qnan }

// AsNumber decodes v as a float64. Caller must have checked IsNumber.
func (v Value) AsNumber() float64 { return math.Float64frombits(uint64(v)) }

// Bool boxes a boolean.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// IsBool reports whether v is True or False.
func (v Value) IsBool() bool { return v == True || v == False }

// AsBool decodes v as a boolean. Caller must have checked IsBool.
func (v Value) AsBool() bool { return v == True }

// IsNil reports whether v is the nil singleton.
func (v Value) IsNil() bool { return v == Nil }

// IsFalsey implements Pseudocode's truthiness rule: nil and false are
// falsey, everything else (including 0 and "") is truthy.
func (v Value) IsFalsey() bool { return v == Nil || v == False }

// Obj boxes a pointer to a heap object. p must point at a struct whose
// first field is heap.Object so that the interpreter can recover the type
// tag from the pointee; ownership/liveness of the pointee is tracked by the
// garbage collector's allocation list, not by this bit pattern, so boxing a
// pointer here never by itself keeps it alive.
func Obj(p unsafe.Pointer) Value {
	return Value((signBit | qnan) | uint64(uintptr(p)))
}

// IsObj reports whether v is a heap-object reference.
func (v Value) IsObj() bool {
	return uint64(v)&(signBit|qnan) == (signBit | qnan)
}

// AsObjPtr recovers the pointer boxed by Obj. Caller must have checked
// IsObj.
func (v Value) AsObjPtr() unsafe.Pointer {
	return unsafe.Pointer(uintptr(uint64(v) &^ (signBit | qnan)))
}

// Equal is the shallow identity comparison: numeric and boolean/nil values
// compare by bit pattern (safe because Number/Bool/Nil/True/False
// canonicalize to a single pattern per value, except -0.0/NaN which fall
// back to the exact IEEE comparison below); objects compare by pointer,
// which for interned Strings already implies content equality. It backs
// dict-key lookup; the language-level `==` layers structural comparison of
// arrays and dicts on top (heap.StructuralEqual), since only package heap
// knows the object layouts.
func Equal(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return a.AsNumber() == b.AsNumber()
	}
	return a == b
}

// TypeName returns the Pseudocode type name used in TypeMismatch messages
// and the `type` builtin, given an object-kind resolver for the Obj case.
func TypeName(v Value, objKind func(Value) string) string {
	switch {
	case v.IsNil():
		return "nil"
	case v.IsBool():
		return "bool"
	case v.IsNumber():
		return "number"
	case v.IsObj():
		return objKind(v)
	default:
		return "unknown"
	}
}
