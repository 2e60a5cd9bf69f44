// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"math"
	"strconv"
	"strings"

	"github.com/probechain/pseudocode/internal/bytecode"
	"github.com/probechain/pseudocode/internal/heap"
	"github.com/probechain/pseudocode/internal/value"
)

// arith implements OP_ADD/OP_SUB/OP_MUL/OP_DIV/OP_MOD's generic, tag-dispatched
// form (spec §4.4 "Arithmetic — dynamically dispatched by operand tag"): `+`
// additionally accepts two strings (concatenation); the rest require numbers.
// Division/modulo truncate to an integer result, and raise DivisionByZero,
// only when both operands are already integral (spec §9 "integer division by
// zero is a runtime error while float division follows IEEE").
func (vm *VM) arith(op bytecode.Op) *thrown {
	b := vm.pop()
	a := vm.pop()

	if op == bytecode.OpAdd && a.IsObj() && b.IsObj() &&
		heap.HeaderOf(a).Kind == heap.KindString && heap.HeaderOf(b).Kind == heap.KindString {
		vm.push(vm.heap.Intern(heap.AsString(a).Data + heap.AsString(b).Data).Value())
		return nil
	}

	if !a.IsNumber() || !b.IsNumber() {
		t := vm.raise(TypeMismatch, "cannot apply %s to %s and %s", op, vm.typeName(a), vm.typeName(b))
		return &t
	}
	af, bf := a.AsNumber(), b.AsNumber()

	switch op {
	case bytecode.OpAdd:
		vm.push(value.Number(af + bf))
	case bytecode.OpSub:
		vm.push(value.Number(af - bf))
	case bytecode.OpMul:
		vm.push(value.Number(af * bf))
	case bytecode.OpDiv:
		if isInt(af) && isInt(bf) {
			if bf == 0 {
				t := vm.raise(DivisionByZero, "integer division by zero")
				return &t
			}
			vm.push(value.Number(float64(int64(af) / int64(bf))))
		} else {
			vm.push(value.Number(af / bf))
		}
	case bytecode.OpMod:
		if isInt(af) && isInt(bf) {
			if bf == 0 {
				t := vm.raise(DivisionByZero, "integer modulo by zero")
				return &t
			}
			vm.push(value.Number(float64(int64(af) % int64(bf))))
		} else {
			vm.push(value.Number(math.Mod(af, bf)))
		}
	}
	return nil
}

func (vm *VM) compare(op bytecode.Op) *thrown {
	b := vm.pop()
	a := vm.pop()
	if !a.IsNumber() || !b.IsNumber() {
		t := vm.raise(TypeMismatch, "cannot compare %s and %s", vm.typeName(a), vm.typeName(b))
		return &t
	}
	af, bf := a.AsNumber(), b.AsNumber()
	var r bool
	switch op {
	case bytecode.OpLess:
		r = af < bf
	case bytecode.OpGreater:
		r = af > bf
	case bytecode.OpLessEqual:
		r = af <= bf
	case bytecode.OpGreaterEqual:
		r = af >= bf
	}
	vm.push(value.Bool(r))
	return nil
}

// indexGet implements `collection[index]` for arrays (spec: IndexOutOfBounds
// on an out-of-range integer index) and dicts (a missing key reads as nil,
// spec §9 Open Question: chosen over raising, see DESIGN.md).
func (vm *VM) indexGet() *thrown {
	idx := vm.pop()
	coll := vm.pop()
	if !coll.IsObj() {
		t := vm.raise(TypeMismatch, "%s is not indexable", vm.typeName(coll))
		return &t
	}
	switch heap.HeaderOf(coll).Kind {
	case heap.KindArray:
		if !idx.IsNumber() {
			t := vm.raise(TypeMismatch, "array index must be a number, got %s", vm.typeName(idx))
			return &t
		}
		v, ok := heap.AsArray(coll).Get(int(idx.AsNumber()))
		if !ok {
			t := vm.raise(IndexOutOfBounds, "index %d out of bounds", int(idx.AsNumber()))
			return &t
		}
		vm.push(v)
	case heap.KindDict:
		v, ok := heap.AsDict(coll).Get(idx)
		if !ok {
			vm.push(value.Nil)
		} else {
			vm.push(v)
		}
	default:
		t := vm.raise(TypeMismatch, "%s is not indexable", vm.typeName(coll))
		return &t
	}
	return nil
}

func (vm *VM) indexSet() *thrown {
	val := vm.pop()
	idx := vm.pop()
	coll := vm.pop()
	if !coll.IsObj() {
		t := vm.raise(TypeMismatch, "%s is not indexable", vm.typeName(coll))
		return &t
	}
	switch heap.HeaderOf(coll).Kind {
	case heap.KindArray:
		if !idx.IsNumber() {
			t := vm.raise(TypeMismatch, "array index must be a number, got %s", vm.typeName(idx))
			return &t
		}
		if !heap.AsArray(coll).Set(int(idx.AsNumber()), val) {
			t := vm.raise(IndexOutOfBounds, "index %d out of bounds", int(idx.AsNumber()))
			return &t
		}
	case heap.KindDict:
		heap.AsDict(coll).Set(idx, val)
	default:
		t := vm.raise(TypeMismatch, "%s is not indexable", vm.typeName(coll))
		return &t
	}
	vm.push(val)
	return nil
}

func (vm *VM) fieldName(f *frame, idx uint16) string {
	return heap.AsString(f.chunk().Constants[idx]).Data
}

// getField implements OP_GET_FIELD: a direct field read, a field holding a
// callable value, or a bare method reference (bound into a BoundMethod so it
// can be stored/passed before being called), consulting the per-site inline
// cache first (spec §4.5).
func (vm *VM) getField(f *frame) *thrown {
	nameIdx := vm.readU16(f)
	slot := vm.readU16(f)
	name := vm.fieldName(f, nameIdx)

	recv := vm.pop()
	if !recv.IsObj() || heap.HeaderOf(recv).Kind != heap.KindInstance {
		t := vm.raise(TypeMismatch, "cannot read field '%s' of a %s", name, vm.typeName(recv))
		return &t
	}
	inst := heap.AsInstance(recv)
	site := vm.ic.site(f.chunk(), slot)

	if e, ok := site.lookup(inst.Class); ok {
		vm.push(inst.Fields[e.slot])
		return nil
	}
	if idx, ok := inst.Class.LookupField(name); ok {
		site.record(icEntry{class: inst.Class, version: inst.Class.Version, slot: idx})
		vm.push(inst.Fields[idx])
		return nil
	}
	if method, ok := inst.Class.LookupMethod(name); ok {
		vm.push(vm.heap.NewBoundMethod(recv, method).Value())
		return nil
	}
	t := vm.raise(UndefinedField, "undefined field '%s' on %s", name, inst.Class.Name)
	return &t
}

func (vm *VM) setField(f *frame) *thrown {
	nameIdx := vm.readU16(f)
	slot := vm.readU16(f)
	name := vm.fieldName(f, nameIdx)

	val := vm.pop()
	recv := vm.pop()
	if !recv.IsObj() || heap.HeaderOf(recv).Kind != heap.KindInstance {
		t := vm.raise(TypeMismatch, "cannot set field '%s' of a %s", name, vm.typeName(recv))
		return &t
	}
	inst := heap.AsInstance(recv)
	inst.SetField(name, val)
	idx, _ := inst.Class.LookupField(name)
	vm.ic.site(f.chunk(), slot).record(icEntry{class: inst.Class, version: inst.Class.Version, slot: idx})
	vm.push(val)
	return nil
}

// invoke implements OP_INVOKE, the `recv.method(args)` fast path that skips
// materializing a BoundMethod when the receiver's class resolves name to an
// ordinary method (spec §4.5's IC additionally caches the resolved Closure
// for INVOKE sites).
func (vm *VM) invoke(f *frame) *thrown {
	nameIdx := vm.readU16(f)
	slot := vm.readU16(f)
	argc := int(vm.readByte(f))
	name := vm.fieldName(f, nameIdx)

	recvIdx := len(vm.stack) - argc - 1
	recv := vm.stack[recvIdx]
	if !recv.IsObj() || heap.HeaderOf(recv).Kind != heap.KindInstance {
		t := vm.raise(TypeMismatch, "cannot invoke '%s' on a %s", name, vm.typeName(recv))
		return &t
	}
	inst := heap.AsInstance(recv)
	site := vm.ic.site(f.chunk(), slot)

	var method *heap.Closure
	if e, ok := site.lookup(inst.Class); ok && e.method != nil {
		method = e.method
	} else if m, ok := inst.Class.LookupMethod(name); ok {
		method = m
		site.record(icEntry{class: inst.Class, version: inst.Class.Version, method: m})
	} else if idx, ok := inst.Class.LookupField(name); ok {
		vm.stack[recvIdx] = inst.Fields[idx]
		return vm.call(argc, false)
	} else {
		t := vm.raise(UndefinedField, "undefined method '%s' on %s", name, inst.Class.Name)
		return &t
	}

	if method.Fn.Arity != argc {
		t := vm.raise(ArityMismatch, "%s.%s expects %d argument(s), got %d", inst.Class.Name, name, method.Fn.Arity, argc)
		return &t
	}
	return vm.pushClosureFrame(method, recvIdx, false)
}

// getSuper implements OP_GET_SUPER. Since a Closure/Function carries no
// pointer back to its defining Class, the VM recovers it by walking self's
// class chain for the method whose body is f.closure.Fn under the currently
// executing chunk's own name (spec §3: Class's Methods table is a flattened,
// inheritance-resolved map, so the defining class is the lowest one in the
// chain that still owns this exact Function).
func (vm *VM) getSuper(f *frame) *thrown {
	nameIdx := vm.readU16(f)
	slot := vm.readU16(f)
	name := vm.fieldName(f, nameIdx)

	self := vm.pop()
	inst := heap.AsInstance(self)
	site := vm.ic.site(f.chunk(), slot)

	if e, ok := site.lookup(inst.Class); ok && e.method != nil {
		vm.push(vm.heap.NewBoundMethod(self, e.method).Value())
		return nil
	}

	super := vm.definingSuper(inst.Class, f)
	var method *heap.Closure
	var ok bool
	if super != nil {
		method, ok = super.LookupMethod(name)
	}
	if !ok {
		t := vm.raise(UndefinedField, "undefined superclass method '%s'", name)
		return &t
	}
	site.record(icEntry{class: inst.Class, version: inst.Class.Version, method: method})
	vm.push(vm.heap.NewBoundMethod(self, method).Value())
	return nil
}

func (vm *VM) definingSuper(cls *heap.Class, f *frame) *heap.Class {
	for c := cls; c != nil; c = c.Super {
		if m, ok := c.Methods[f.chunk().Name]; ok && m.Fn == f.closure.Fn {
			return c.Super
		}
	}
	return cls.Super
}

// stringify renders v for `print` and for UnhandledException messages (spec
// §7).
func (vm *VM) stringify(v value.Value) string {
	switch {
	case v.IsNil():
		return "nil"
	case v.IsBool():
		if v.AsBool() {
			return "true"
		}
		return "false"
	case v.IsNumber():
		f := v.AsNumber()
		if isInt(f) {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	case v.IsObj():
		switch heap.HeaderOf(v).Kind {
		case heap.KindString:
			return heap.AsString(v).Data
		case heap.KindArray:
			a := heap.AsArray(v)
			parts := make([]string, a.Len())
			for i := range parts {
				e, _ := a.Get(i)
				parts[i] = vm.stringify(e)
			}
			return "[" + strings.Join(parts, ", ") + "]"
		case heap.KindDict:
			d := heap.AsDict(v)
			parts := make([]string, 0, d.Len())
			d.Range(func(k, vv value.Value) {
				parts = append(parts, vm.stringify(k)+": "+vm.stringify(vv))
			})
			return "{" + strings.Join(parts, ", ") + "}"
		case heap.KindInstance:
			return "<" + heap.AsInstance(v).Class.Name + " instance>"
		case heap.KindClass:
			return "<class " + heap.AsClass(v).Name + ">"
		case heap.KindClosure:
			return "<fn " + heap.AsClosure(v).Fn.Name + ">"
		case heap.KindNative:
			return "<native fn " + heap.AsNative(v).Name + ">"
		case heap.KindBoundMethod:
			return "<bound method " + heap.AsBoundMethod(v).Method.Fn.Name + ">"
		}
	}
	return "<unknown>"
}
