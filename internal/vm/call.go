// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"github.com/probechain/pseudocode/internal/heap"
	"github.com/probechain/pseudocode/internal/value"
)

// call dispatches OP_CALL/OP_TAIL_CALL over the four callable kinds spec §3
// recognizes (closure, bound method, class-as-constructor, native), per the
// calling convention of spec §6: argc values sit above the callee on the
// stack, and slot 0 of the resulting frame is either the callee itself
// (plain functions) or the receiver (methods/init), matching how the
// compiler reserves local slot 0 (see newFuncState in internal/compiler).
func (vm *VM) call(argc int, tail bool) *thrown {
	calleeIdx := len(vm.stack) - argc - 1
	callee := vm.stack[calleeIdx]
	if !callee.IsObj() {
		t := vm.raise(TypeMismatch, "%s is not callable", vm.typeName(callee))
		return &t
	}

	switch heap.HeaderOf(callee).Kind {
	case heap.KindClosure:
		cl := heap.AsClosure(callee)
		if cl.Fn.Arity != argc {
			t := vm.raise(ArityMismatch, "%s expects %d argument(s), got %d", cl.Fn.Name, cl.Fn.Arity, argc)
			return &t
		}
		return vm.pushClosureFrame(cl, calleeIdx, tail)

	case heap.KindBoundMethod:
		bm := heap.AsBoundMethod(callee)
		if bm.Method.Fn.Arity != argc {
			t := vm.raise(ArityMismatch, "%s expects %d argument(s), got %d", bm.Method.Fn.Name, bm.Method.Fn.Arity, argc)
			return &t
		}
		vm.stack[calleeIdx] = bm.Receiver
		return vm.pushClosureFrame(bm.Method, calleeIdx, tail)

	case heap.KindClass:
		return vm.construct(heap.AsClass(callee), calleeIdx, argc)

	case heap.KindNative:
		n := heap.AsNative(callee)
		args := append([]value.Value(nil), vm.stack[calleeIdx+1:]...)
		result, err := n.Fn(vm, args)
		if err != nil {
			t := vm.raise(TypeMismatch, "%s", err.Error())
			return &t
		}
		vm.stack = vm.stack[:calleeIdx]
		vm.push(result)
		return nil

	default:
		t := vm.raise(TypeMismatch, "%s is not callable", vm.typeName(callee))
		return &t
	}
}

// pushClosureFrame either reuses the currently-executing frame in place
// (tail == true, spec §4.4 "tail calls reuse the current frame, achieving
// O(1) stack growth") or pushes a fresh one, enforcing maxCallDepth either
// way.
func (vm *VM) pushClosureFrame(cl *heap.Closure, base int, tail bool) *thrown {
	if tail && len(vm.frames) > 0 {
		cur := vm.cur()
		vm.closeUpvalues(cur.basePtr)
		n := len(vm.stack) - base
		copy(vm.stack[cur.basePtr:cur.basePtr+n], vm.stack[base:])
		vm.stack = vm.stack[:cur.basePtr+n]
		cur.closure = cl
		cur.pc = 0
		return nil
	}
	if len(vm.frames) >= vm.maxCallDepth {
		t := vm.raise(StackOverflow, "call stack exceeded depth %d", vm.maxCallDepth)
		return &t
	}
	vm.frames = append(vm.frames, frame{closure: cl, pc: 0, basePtr: base})
	return nil
}

// construct implements `ClassName(args)`: allocate an Instance, substitute
// it for the class value at the call site, and either run `init` as an
// ordinary method call or, absent one, require zero arguments and finish
// immediately (spec §3 "Class ... optional superclass"; init is just the
// method named "init" by convention, not a distinct opcode).
func (vm *VM) construct(cls *heap.Class, calleeIdx, argc int) *thrown {
	inst := vm.heap.NewInstance(cls)
	init, hasInit := cls.LookupMethod("init")
	if !hasInit {
		if argc != 0 {
			t := vm.raise(ArityMismatch, "%s expects 0 arguments, got %d", cls.Name, argc)
			return &t
		}
		vm.stack = vm.stack[:calleeIdx]
		vm.push(inst.Value())
		return nil
	}
	if init.Fn.Arity != argc {
		t := vm.raise(ArityMismatch, "%s.init expects %d argument(s), got %d", cls.Name, init.Fn.Arity, argc)
		return &t
	}
	vm.stack[calleeIdx] = inst.Value()
	return vm.pushClosureFrame(init, calleeIdx, false)
}

// doReturn implements OP_RETURN: pop the return value, close any upvalues
// still open into the returning frame's locals, discard its stack slice, and
// either hand the value to the caller or (outermost frame) end the run.
// Reported when the VM should stop: len(vm.frames) becomes 0.
func (vm *VM) doReturn() bool {
	result := vm.pop()
	f := vm.cur()
	vm.closeUpvalues(f.basePtr)
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.stack = vm.stack[:f.basePtr]
	vm.pendingReturn.set = false

	if len(vm.frames) == 0 {
		vm.push(result)
		return true
	}
	vm.push(result)
	return false
}
